// Package messaging renders trade notifications from placeholder templates.
package messaging

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultTemplate is used when no template is configured.
const DefaultTemplate = "Contract {ticker} change {pct_change:.2f}% {expiration} {strike}" +
	" @${price:.2f} {status} {pct_gain:.2f}%"

// Compose renders template with values, falling back to DefaultTemplate when
// template is empty.
func Compose(template string, values map[string]any) string {
	if template == "" {
		template = DefaultTemplate
	}
	return Format(template, values)
}

// Format fills {name} and {name:spec} placeholders in template from values.
// Placeholders whose key is absent or nil render as an empty string. Literal
// braces are written as {{ and }}.
//
// A format spec supports [[fill]align][+][width][,][.precision][type]
// with align one of < > ^ and type one of f d s %.
func Format(template string, values map[string]any) string {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		c := template[i]
		switch {
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				b.WriteString(template[i:])
				return b.String()
			}
			field := template[i+1 : i+1+end]
			name, spec, _ := strings.Cut(field, ":")
			b.WriteString(formatValue(values[strings.TrimSpace(name)], spec))
			i += end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

type formatSpec struct {
	fill      rune
	align     byte
	plus      bool
	width     int
	comma     bool
	precision int // -1 when unset
	verb      byte
}

func parseSpec(spec string) formatSpec {
	fs := formatSpec{fill: ' ', precision: -1}
	s := spec

	isAlign := func(c byte) bool { return c == '<' || c == '>' || c == '^' }
	if r, size := utf8.DecodeRuneInString(s); size > 0 && size < len(s) && isAlign(s[size]) {
		fs.fill, fs.align = r, s[size]
		s = s[size+1:]
	} else if len(s) > 0 && isAlign(s[0]) {
		fs.align = s[0]
		s = s[1:]
	}
	if strings.HasPrefix(s, "+") {
		fs.plus = true
		s = s[1:]
	}

	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n > 0 {
		fs.width, _ = strconv.Atoi(s[:n])
		s = s[n:]
	}
	if strings.HasPrefix(s, ",") {
		fs.comma = true
		s = s[1:]
	}
	if strings.HasPrefix(s, ".") {
		s = s[1:]
		n = 0
		for n < len(s) && s[n] >= '0' && s[n] <= '9' {
			n++
		}
		fs.precision, _ = strconv.Atoi(s[:n])
		s = s[n:]
	}
	if len(s) > 0 {
		fs.verb = s[0]
	}
	return fs
}

func formatValue(v any, spec string) string {
	if v == nil {
		return ""
	}
	fs := parseSpec(spec)

	f, numeric := toFloat(v)
	if _, isString := v.(string); isString && fs.verb != 'f' && fs.verb != '%' && fs.verb != 'd' {
		numeric = false
	}
	var out string
	switch {
	case numeric && fs.verb == 'f':
		out = formatFloat(f, fs.precision, 6, fs)
	case numeric && fs.verb == '%':
		out = formatFloat(f*100, fs.precision, 6, fs) + "%"
	case numeric && fs.verb == 'd':
		out = formatFloat(math.Round(f), 0, 0, fs)
	case numeric && fs.verb == 0:
		out = formatFloat(f, fs.precision, -1, fs)
	default:
		numeric = false
		out = fmt.Sprint(v)
		if (fs.verb == 0 || fs.verb == 's') && fs.precision >= 0 && utf8.RuneCountInString(out) > fs.precision {
			out = string([]rune(out)[:fs.precision])
		}
	}

	return pad(out, fs, numeric)
}

func formatFloat(f float64, precision, fallback int, fs formatSpec) string {
	if precision < 0 {
		precision = fallback
	}
	s := strconv.FormatFloat(f, 'f', precision, 64)
	if fs.comma {
		s = groupThousands(s)
	}
	if fs.plus && f >= 0 {
		s = "+" + s
	}
	return s
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if hasFrac {
		return sign + b.String() + "." + frac
	}
	return sign + b.String()
}

func pad(s string, fs formatSpec, numeric bool) string {
	n := utf8.RuneCountInString(s)
	if fs.width <= n {
		return s
	}
	gap := fs.width - n
	fill := string(fs.fill)

	align := fs.align
	if align == 0 {
		align = '<'
		if numeric {
			align = '>'
		}
	}
	switch align {
	case '>':
		return strings.Repeat(fill, gap) + s
	case '^':
		left := gap / 2
		return strings.Repeat(fill, left) + s + strings.Repeat(fill, gap-left)
	default:
		return s + strings.Repeat(fill, gap)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
