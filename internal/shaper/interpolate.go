package shaper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrArgCount = errors.New("placeholder/argument count mismatch")

// countPlaceholders counts '?' outside quoted strings, identifiers and
// comments.
func countPlaceholders(query string) int {
	n := 0
	scanPlaceholders(query, func(int) { n++ })
	return n
}

func scanPlaceholders(query string, fn func(pos int)) {
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '#':
			i = lineEnd(query, i)
		case c == '-' && strings.HasPrefix(query[i:], "--") && (i+2 == len(query) || isCommentSpace(query[i+2])):
			i = lineEnd(query, i)
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			if j := strings.Index(query[i+2:], "*/"); j >= 0 {
				i += 2 + j + 1
			} else {
				i = len(query)
			}
		case c == '?':
			fn(i)
		}
	}
}

// lineEnd returns the index of the newline ending the comment at i, or
// len(query).
func lineEnd(query string, i int) int {
	if j := strings.IndexByte(query[i:], '\n'); j >= 0 {
		return i + j
	}
	return len(query)
}

// MySQL only treats "--" as a comment when followed by whitespace or a
// control character.
func isCommentSpace(c byte) bool {
	return c <= ' '
}

// Interpolate renders a bound query as a single statement for hosts that can
// only accept a query string. Values are emitted as escaped MySQL literals;
// they are never spliced in raw.
func Interpolate(query string, args []any) (string, error) {
	var positions []int
	scanPlaceholders(query, func(pos int) { positions = append(positions, pos) })
	if len(positions) != len(args) {
		return "", fmt.Errorf("%w: %d placeholders, %d args", ErrArgCount, len(positions), len(args))
	}
	if len(args) == 0 {
		return query, nil
	}

	var b strings.Builder
	b.Grow(len(query) + 16*len(args))
	last := 0
	for i, pos := range positions {
		b.WriteString(query[last:pos])
		lit, err := literal(args[i])
		if err != nil {
			return "", fmt.Errorf("arg %d: %w", i, err)
		}
		b.WriteString(lit)
		last = pos + 1
	}
	b.WriteString(query[last:])
	return b.String(), nil
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quoteString(t), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported argument type %T", v)
	}
}

// quoteString produces a literal that ends at the same quote whether or not
// the server runs with NO_BACKSLASH_ESCAPES: a quote is doubled, never
// backslash-escaped. Under NO_BACKSLASH_ESCAPES the backslash sequences
// below read as literal characters, which changes the value but never
// terminates the string early.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\x1a':
			b.WriteString(`\Z`)
		case '\'':
			b.WriteString(`''`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
