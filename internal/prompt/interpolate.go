package prompt

import "strings"

// Context holds the variables a template may reference, e.g. {{char}} and
// {{user}}.
type Context map[string]string

func CreateContext(vars map[string]string) Context {
	ctx := make(Context, len(vars))
	for k, v := range vars {
		ctx[k] = v
	}
	return ctx
}

// InterpolateString replaces {{name}} tokens with the matching context value.
// Matching is case-sensitive and there is no escaping. Tokens without a
// context entry are left verbatim, never an error.
func InterpolateString(template string, ctx Context) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		close := strings.Index(rest[open+2:], "}}")
		if close < 0 {
			b.WriteString(rest)
			break
		}

		name := rest[open+2 : open+2+close]
		b.WriteString(rest[:open])
		if val, ok := ctx[name]; ok {
			b.WriteString(val)
		} else {
			// unresolved token stays as written
			b.WriteString(rest[open : open+2+close+2])
		}
		rest = rest[open+2+close+2:]
	}

	return b.String()
}
