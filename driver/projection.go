package driver

import (
	"errors"
	"strings"
	"unicode"
)

// ErrStarProjection is returned by queries selecting *: documents cannot
// enumerate their keys, so the columns must be named.
var ErrStarProjection = errors.New("otterbrix: SELECT * is not supported, name the columns")

// Columns returns the result column names of a SELECT statement, or nil
// for any other statement. A column is named by its alias, or by the last
// segment of a dotted identifier, or by its expression text.
func Columns(query string) ([]string, error) {
	q := strings.TrimSpace(query)
	if len(q) < 6 || !strings.EqualFold(q[:6], "select") || (len(q) > 6 && isIdent(rune(q[6]))) {
		return nil, nil
	}
	q = q[6:]

	var items []string
	start, depth := 0, 0
	var quote byte
	end := len(q)

scan:
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && c == ',':
			items = append(items, q[start:i])
			start = i + 1
		case depth == 0 && keywordAt(q, i, "from"):
			end = i
			break scan
		case depth == 0 && c == ';':
			end = i
			break scan
		}
	}
	items = append(items, q[start:end])

	cols := make([]string, 0, len(items))
	for i, item := range items {
		item = strings.TrimSpace(item)
		if i == 0 && isDistinct(item) {
			item = strings.TrimSpace(item[len("distinct"):])
		}
		if item == "" {
			continue
		}
		if item == "*" || strings.HasSuffix(item, ".*") {
			return nil, ErrStarProjection
		}
		cols = append(cols, columnName(item))
	}
	return cols, nil
}

func isDistinct(s string) bool {
	return len(s) > 8 && strings.EqualFold(s[:8], "distinct") && unicode.IsSpace(rune(s[8]))
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// keywordAt reports whether the keyword kw starts at q[i] as a whole word.
func keywordAt(q string, i int, kw string) bool {
	if i+len(kw) > len(q) || !strings.EqualFold(q[i:i+len(kw)], kw) {
		return false
	}
	if i > 0 && isIdent(rune(q[i-1])) {
		return false
	}
	return i+len(kw) == len(q) || !isIdent(rune(q[i+len(kw)]))
}

// columnName names one projection item.
func columnName(item string) string {
	if u := unquote(item); u != item && !strings.ContainsAny(u, "\"`") {
		return u
	}
	fields := strings.Fields(item)
	if n := len(fields); n >= 3 && strings.EqualFold(fields[n-2], "as") {
		return unquote(fields[n-1])
	}
	if n := len(fields); n == 2 && isPlainIdent(fields[1]) && isPath(fields[0]) {
		return unquote(fields[1])
	}
	if isPath(item) {
		parts := strings.Split(item, ".")
		return unquote(parts[len(parts)-1])
	}
	return item
}

// isPath reports whether s is a possibly dotted, possibly quoted identifier.
func isPath(s string) bool {
	for _, p := range strings.Split(s, ".") {
		if !isPlainIdent(unquote(p)) {
			return false
		}
	}
	return true
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isIdent(r) {
			return false
		}
	}
	return true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if f, l := s[0], s[len(s)-1]; f == l && (f == '"' || f == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
