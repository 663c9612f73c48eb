package gahp

import "strings"

var (
	escaper   = strings.NewReplacer(`\`, `\\`, " ", `\ `)
	flattener = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")
)

// Escape makes s a single space-delimited result field: backslashes are
// doubled and spaces become "\ ".
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape. A trailing lone backslash is kept as is.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escapeText flattens multi-line text to one line before escaping it, so a
// result never spans lines.
func escapeText(s string) string {
	return Escape(flattener.Replace(s))
}
