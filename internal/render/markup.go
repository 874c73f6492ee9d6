package render

import (
	"html"
	"regexp"
	"strings"
)

var highlightPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)

// renderField turns one field into the markup inserted at its placeholder.
func renderField(f Field, slot SlotSpec, highlightClass string) string {
	switch f.Kind {
	case KindFlag:
		if !f.Flag {
			return ""
		}
		if slot.FlagMarkup != "" {
			return slot.FlagMarkup
		}
		return "true"
	case KindChoice:
		return html.EscapeString(f.Text)
	case KindRichText:
		return wrap(slot.Tag, slot.Class, Highlight(EscapeText(f.Text), highlightClass))
	default:
		return wrap(slot.Tag, slot.Class, EscapeText(f.Text))
	}
}

// EscapeText HTML-escapes s and turns newlines into line breaks.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br />")
}

// Highlight wraps each **marked** run in a span with the given class.
func Highlight(s, class string) string {
	return highlightPattern.ReplaceAllString(s, `<span class="`+html.EscapeString(class)+`">$1</span>`)
}

func wrap(tag, class, inner string) string {
	if tag == "" {
		return inner
	}
	if class == "" {
		return "<" + tag + ">" + inner + "</" + tag + ">"
	}
	return "<" + tag + ` class="` + html.EscapeString(class) + `">` + inner + "</" + tag + ">"
}

// Substitute fills {name} placeholders from values. {{ and }} produce literal
// braces, unknown names render empty, and a brace that does not open a
// well-formed placeholder is copied through.
func Substitute(markup string, values map[string]string) string {
	var sb strings.Builder
	sb.Grow(len(markup))

	for i := 0; i < len(markup); i++ {
		c := markup[i]
		switch {
		case c == '{' && i+1 < len(markup) && markup[i+1] == '{':
			sb.WriteByte('{')
			i++
		case c == '}' && i+1 < len(markup) && markup[i+1] == '}':
			sb.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(markup[i+1:], '}')
			if end < 0 || !isPlaceholder(markup[i+1:i+1+end]) {
				sb.WriteByte(c)
				continue
			}
			sb.WriteString(values[markup[i+1:i+1+end]])
			i += end + 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func isPlaceholder(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
