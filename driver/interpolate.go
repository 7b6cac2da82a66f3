package driver

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNamedArgs is returned when a statement is given named arguments.
var ErrNamedArgs = errors.New("otterbrix: named arguments are not supported")

// interpolate replaces each ? placeholder outside quotes and comments with
// the SQL literal for the next argument. The placeholder count must match
// len(args), including when no arguments are given.
func interpolate(query string, args []driver.NamedValue) (string, error) {
	var b strings.Builder
	b.Grow(len(query) + 16*len(args))

	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case strings.HasPrefix(query[i:], "--"):
			end := len(query)
			if j := strings.IndexByte(query[i:], '\n'); j >= 0 {
				end = i + j
			}
			b.WriteString(query[i:end])
			i = end - 1
			continue
		case strings.HasPrefix(query[i:], "/*"):
			end := len(query)
			if j := strings.Index(query[i+2:], "*/"); j >= 0 {
				end = i + 2 + j + 2
			}
			b.WriteString(query[i:end])
			i = end - 1
			continue
		case c == '?':
			if n >= len(args) {
				return "", fmt.Errorf("otterbrix: query has more placeholders than the %d arguments given", len(args))
			}
			if args[n].Name != "" {
				return "", ErrNamedArgs
			}
			lit, err := literal(args[n].Value)
			if err != nil {
				return "", fmt.Errorf("otterbrix: argument %d: %w", n+1, err)
			}
			b.WriteString(lit)
			n++
			continue
		}
		b.WriteByte(c)
	}

	if n != len(args) {
		return "", fmt.Errorf("otterbrix: query has %d placeholders but %d arguments were given", n, len(args))
	}
	return b.String(), nil
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders v as a SQL literal.
func literal(v driver.Value) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("unsupported float %v", x)
		}
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return quoteString(x), nil
	case []byte:
		return quoteString(string(x)), nil
	case time.Time:
		return quoteString(x.Format(time.RFC3339Nano)), nil
	}
	return "", fmt.Errorf("unsupported type %T", v)
}
