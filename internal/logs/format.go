package logs

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format renders console arguments the way a browser console prints them:
// when the first argument is a string containing '%', it is a format string
// with %s %d %i %f %o %O %c substitutions (%% escapes, %N$ picks argument N,
// %.N sets precision); remaining arguments are appended separated by spaces.
func Format(args []any) string {
	if len(args) == 0 {
		return ""
	}
	first, ok := args[0].(string)
	if !ok || !strings.Contains(first, "%") {
		return join(args)
	}
	out, unused := substitute(first, args[1:])
	if len(unused) == 0 {
		return out
	}
	return out + " " + join(unused)
}

func join(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Render(a)
	}
	return strings.Join(parts, " ")
}

// Render prints one value: strings raw, undefined for nil, compact JSON for
// objects and arrays.
func Render(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return formatFloat(x, -1)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64, precision int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', precision, 64)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

const specifiers = "sdifoOc"

func substitute(format string, subs []any) (string, []any) {
	var b strings.Builder
	used := make(map[int]bool)
	next := 0

	for i := 0; i < len(format); {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			b.WriteByte(c)
			i++
			continue
		}
		start := i
		i++
		if format[i] == '%' {
			b.WriteByte('%')
			i++
			continue
		}

		if j := digits(format, i); j > i {
			n, _ := strconv.Atoi(format[i:j])
			if n > 0 && j < len(format) && format[j] == '$' {
				next = n - 1
				i = j + 1
			} else {
				i = j
			}
		}
		precision := -1
		if i < len(format) && format[i] == '.' {
			i++
			j := digits(format, i)
			precision, _ = strconv.Atoi(format[i:j])
			i = j
		}
		if i >= len(format) || !strings.ContainsRune(specifiers, rune(format[i])) {
			end := min(i+1, len(format))
			b.WriteString(format[start:end])
			i = end
			continue
		}

		spec := format[i]
		i++
		if next >= len(subs) {
			b.WriteByte('%')
			if precision > -1 {
				b.WriteString(strconv.Itoa(precision))
			}
			b.WriteByte(spec)
			next++
			continue
		}
		used[next] = true
		b.WriteString(apply(spec, precision, subs[next]))
		next++
	}

	var unused []any
	for i, s := range subs {
		if !used[i] {
			unused = append(unused, s)
		}
	}
	return b.String(), unused
}

func apply(spec byte, precision int, v any) string {
	switch spec {
	case 'd', 'i':
		f, ok := number(v)
		if !ok {
			return "NaN"
		}
		return formatFloat(math.Floor(f), -1)
	case 'f':
		f, ok := number(v)
		if !ok {
			return "NaN"
		}
		return formatFloat(f, precision)
	case 'c':
		// Styles have no textual representation.
		return ""
	default:
		return Render(v)
	}
}

func digits(s string, i int) int {
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}
