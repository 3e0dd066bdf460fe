package nut

import (
	"regexp"
	"strings"

	"github.com/nutmon/nutmon/pkg/errkind"
)

// bareToken matches arguments that may be sent unquoted.
var bareToken = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// upsName matches valid UPS names.
var upsName = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// QuoteToken quotes an outbound protocol argument. Bare tokens are sent
// verbatim; anything else is wrapped in double quotes with `"` and `\`
// backslash-escaped.
func QuoteToken(tok string) string {
	if bareToken.MatchString(tok) {
		return tok
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// unescapeValue reverses the backslash escaping inside a quoted VAR value.
func unescapeValue(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escapeValue applies the VAR value escaping. Inverse of unescapeValue.
func escapeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Variable is one parsed `VAR <ups> <name> "<value>"` response line.
type Variable struct {
	UPS   string
	Name  string
	Value string
}

// ParseVarLine parses a `VAR <ups> <name> "<value>"` line. The value may
// contain backslash-escaped quotes and backslashes.
func ParseVarLine(line string) (Variable, error) {
	var v Variable
	rest, ok := strings.CutPrefix(line, "VAR ")
	if !ok {
		return v, errkind.Newf(errkind.Protocol, "not a VAR line: %q", line)
	}

	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return v, errkind.Newf(errkind.Protocol, "malformed VAR line: %q", line)
	}
	v.UPS = rest[:sp]
	rest = rest[sp+1:]

	sp = strings.IndexByte(rest, ' ')
	if sp < 0 {
		return v, errkind.Newf(errkind.Protocol, "malformed VAR line: %q", line)
	}
	v.Name = rest[:sp]
	rest = rest[sp+1:]

	if len(rest) < 2 || rest[0] != '"' {
		return v, errkind.Newf(errkind.Protocol, "VAR value not quoted: %q", line)
	}
	// Scan to the closing unescaped quote.
	var b strings.Builder
	i := 1
	for ; i < len(rest); i++ {
		c := rest[i]
		if c == '\\' && i+1 < len(rest) {
			i++
			b.WriteByte(rest[i])
			continue
		}
		if c == '"' {
			break
		}
		b.WriteByte(c)
	}
	if i >= len(rest) || rest[i] != '"' {
		return v, errkind.Newf(errkind.Protocol, "unterminated VAR value: %q", line)
	}
	v.Value = b.String()
	return v, nil
}

// FormatVarLine renders a Variable back into its wire form.
func FormatVarLine(v Variable) string {
	return "VAR " + v.UPS + " " + v.Name + " \"" + escapeValue(v.Value) + "\""
}

// ValidUPSName reports whether name is acceptable as a NUT UPS name.
func ValidUPSName(name string) bool {
	return upsName.MatchString(name)
}
