package sandbox

import (
	"fmt"
	"strings"
)

// CodeValidator flags dangerous patterns. Its findings are warnings; it does
// not block execution.
type CodeValidator struct {
	blockedPatterns map[Language][]string
}

// NewCodeValidator creates a code validator.
func NewCodeValidator() *CodeValidator {
	shell := []string{"rm -rf", "mkfs", "dd if=", "> /dev/", ":(){"}
	return &CodeValidator{
		blockedPatterns: map[Language][]string{
			LangPython: {
				"import subprocess", "__import__", "eval(", "exec(",
				"shutil.rmtree", "os.system",
			},
			LangJavaScript: {
				"require('child_process')", "require(\"child_process\")", "eval(",
			},
			LangBash:  shell,
			LangShell: shell,
		},
	}
}

// Validate checks code for dangerous patterns.
func (v *CodeValidator) Validate(lang Language, code string) []string {
	var warnings []string
	for _, pattern := range v.blockedPatterns[lang] {
		if strings.Contains(code, pattern) {
			warnings = append(warnings, fmt.Sprintf("potentially dangerous pattern: %s", pattern))
		}
	}
	return warnings
}
