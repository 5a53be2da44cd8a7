package language

import "regexp"

// publicClassPattern matches "public class Foo", also with the modifiers Java
// allows between "public" and "class". It is a textual scan, not a parse: a
// declaration inside a comment or string literal matches too.
var publicClassPattern = regexp.MustCompile(
	`\bpublic\s+(?:(?:final|abstract|static|sealed|non-sealed|strictfp)\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`,
)

// ExtractPublicClass returns the name of the first public class declared in
// code. ok is false when nothing matches; callers fall back to a fixed name.
func ExtractPublicClass(code string) (name string, ok bool) {
	m := publicClassPattern.FindStringSubmatch(code)
	if m == nil {
		return "", false
	}
	return m[1], true
}
