package parameter

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// renderTemplate expands the {field} placeholders of tmpl against vars.
//
// A field is a variable name followed by attribute and index accessors, as in
// {cycle.customFields.statusCd} or {runs[0].key}. Doubled braces render as
// literal braces. A conversion or format specifier after '!' or ':' is accepted and
// ignored. Strings render bare, other scalars in their JSON form, and objects
// and arrays as compact JSON.
func renderTemplate(tmpl string, vars map[string]interface{}) (string, error) {
	if !strings.ContainsAny(tmpl, "{}") {
		return tmpl, nil
	}

	var doc []byte
	var out strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				out.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("single '}' encountered in template %q", tmpl)
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				out.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("single '{' encountered in template %q", tmpl)
			}
			field := tmpl[i+1 : i+1+end]
			i += end + 1

			if doc == nil {
				var err error
				if doc, err = serialization.Marshal(vars); err != nil {
					return "", err
				}
			}
			value, err := lookup(doc, field)
			if err != nil {
				return "", err
			}
			out.WriteString(value)
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), nil
}

func lookup(doc []byte, field string) (string, error) {
	if idx := strings.IndexAny(field, "!:"); idx >= 0 {
		field = field[:idx]
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return "", fmt.Errorf("positional placeholder '{}' is not supported, name a query variable")
	}

	path, err := toPath(field)
	if err != nil {
		return "", err
	}
	result := gjson.GetBytes(doc, path)
	if !result.Exists() {
		return "", fmt.Errorf("placeholder '{%s}' does not match any query variable or attribute", field)
	}

	switch result.Type {
	case gjson.String:
		return result.Str, nil
	case gjson.Null:
		return "null", nil
	default:
		return result.Raw, nil
	}
}

// toPath converts a field such as "runs[0].customFields.statusCd" into the
// gjson path "runs.0.customFields.statusCd".
func toPath(field string) (string, error) {
	var parts []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, escapeComponent(current.String()))
			current.Reset()
		}
	}

	for i := 0; i < len(field); i++ {
		switch c := field[i]; c {
		case '.':
			if current.Len() == 0 && (len(parts) == 0 || field[i-1] != ']') {
				return "", fmt.Errorf("empty attribute in placeholder '{%s}'", field)
			}
			flush()
		case '[':
			flush()
			end := strings.IndexByte(field[i+1:], ']')
			if end <= 0 {
				return "", fmt.Errorf("malformed index in placeholder '{%s}'", field)
			}
			parts = append(parts, escapeComponent(field[i+1:i+1+end]))
			i += end + 1
		default:
			current.WriteByte(c)
		}
	}
	flush()
	if len(parts) == 0 {
		return "", fmt.Errorf("empty placeholder '{%s}'", field)
	}
	return strings.Join(parts, "."), nil
}

const pathSyntax = `.*?|#@\`

// escapeComponent escapes the characters gjson treats as path syntax.
func escapeComponent(s string) string {
	if !strings.ContainsAny(s, pathSyntax) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(pathSyntax, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
