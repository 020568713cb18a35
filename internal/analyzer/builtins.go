package analyzer

import (
	_ "embed"
	"strings"
)

// The builtin registry is a fixed, explicitly enumerated list rather
// than anything probed from a live runtime. Builtins resolve without
// producing a dependency edge or an undefined-reference finding.

//go:embed builtins/python.txt
var builtinsData string

var builtins = map[string]bool{}

func init() {
	for _, line := range strings.Split(builtinsData, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			builtins[line] = true
		}
	}
}

// IsBuiltin reports whether name belongs to the subject language's
// builtin namespace.
func IsBuiltin(name string) bool { return builtins[name] }
