package plan

import "regexp"

// Steps may consume the output of a dependency by writing ${<step>.output}
// as a top-level input value. The referenced step must be listed in After so
// the executor's ordering guarantee makes the substitution well-defined.
var refPattern = regexp.MustCompile(`^\$\{([A-Za-z][A-Za-z0-9_\-]*)\.output}$`)

// Ref renders an output reference to the given step.
func Ref(stepID string) string {
	return "${" + stepID + ".output}"
}

// ParseRef reports whether v is an output reference and which step it names.
func ParseRef(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
