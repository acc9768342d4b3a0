package evolution

import (
	"fmt"
	"regexp"
)

// =============================================================================
// DANGEROUS CONTENT SCANNER
// =============================================================================
// The planner's output is oracle-authored and may be prompt-injected via
// proposal text, so plan content is scanned against a fixed set of patterns
// indicative of shell execution, process control, or destructive filesystem
// operations. The scanner only ever sees plan content; the VCS layer's own
// shell-outs live behind the VersionControl interface and are not its
// concern.

type dangerousPattern struct {
	name string
	re   *regexp.Regexp
}

var dangerousPatterns = []dangerousPattern{
	{"shell execution", regexp.MustCompile(`(?i)\bexec\.Command\s*\(|\bos/exec\b|\bsyscall\.Exec\b`)},
	{"shell execution", regexp.MustCompile(`(?i)\b(?:sh|bash|zsh)\s+-c\b`)},
	{"process control", regexp.MustCompile(`(?i)\bos\.Exit\s*\(|\bsyscall\.Kill\b|\bprocess\.kill\b`)},
	{"destructive file operation", regexp.MustCompile(`(?i)\bos\.RemoveAll\s*\(|\brm\s+-rf\b`)},
	{"destructive file operation", regexp.MustCompile(`(?i)\bos\.Remove\s*\(\s*"/`)},
	{"environment tampering", regexp.MustCompile(`(?i)\bos\.Setenv\s*\(\s*"(?:PATH|HOME|LD_PRELOAD)"`)},
	{"network listener", regexp.MustCompile(`(?i)\bnet\.Listen\s*\(|\bhttp\.ListenAndServe\s*\(`)},
	{"credential probing", regexp.MustCompile(`(?i)\.ssh/|id_rsa|\.aws/credentials|/etc/(?:passwd|shadow)\b`)},
}

// scanContent returns a violation description per dangerous pattern the
// content matches, or nil when clean.
func scanContent(path, content string) []string {
	var violations []string
	for _, p := range dangerousPatterns {
		if p.re.MatchString(content) {
			violations = append(violations,
				fmt.Sprintf("Dangerous content in %s: %s (matches %q)", path, p.name, p.re.String()))
		}
	}
	return violations
}
