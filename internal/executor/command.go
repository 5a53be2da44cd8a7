package executor

import (
	"fmt"
	"strings"

	"github.com/sakif/code-runner/internal/language"
)

// ExitMarker prefixes the line the shell prints after the program finishes,
// carrying the program's exit status.
const ExitMarker = "__CODERUNNER_EXIT__="

// BuildCommand returns the shell script run inside the unit: the compile step
// (if any) chained with the run step, stdin redirected from the input file or
// /dev/null, followed by the exit-status line.
func BuildCommand(p language.Profile, sourceFile string, hasInput bool) string {
	stdin := "/dev/null"
	if hasInput {
		stdin = "input.txt"
	}

	run := p.RunCommand(sourceFile) + " < " + stdin
	if p.Compiled() {
		run = p.CompileCommand(sourceFile) + " && " + run
	}

	var b strings.Builder
	fmt.Fprintf(&b, "{ %s; }; __rc=$?; ", run)
	fmt.Fprintf(&b, `printf '\n%s%%d\n' "$__rc"; exit "$__rc"`, ExitMarker)
	return b.String()
}
