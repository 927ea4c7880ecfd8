package lookup

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/weiihann/addrcheck/address"
)

// Driver names understood by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// compiledQuery is the query text prepared for a driver together with the
// order in which the named parameters must be bound.
type compiledQuery struct {
	text   string
	params []address.FieldName
	named  bool
}

// compileQuery prepares a query written with @Name placeholders for the
// given driver. Drivers with named-argument support keep the text as is and
// receive sql.Named values; postgres gets $n placeholders instead. Values
// are always bound, never spliced into the text.
func compileQuery(query, driver string) (compiledQuery, error) {
	if strings.TrimSpace(query) == "" {
		return compiledQuery{}, fmt.Errorf("lookup query is empty")
	}

	if driver != DriverPostgres {
		return compiledQuery{text: query, params: address.RequestFields, named: true}, nil
	}

	var (
		b        strings.Builder
		params   []address.FieldName
		position = make(map[address.FieldName]int)
	)

	runes := []rune(query)
	for i := 0; i < len(runes); i++ {
		if end := opaqueEnd(runes, i); end > i {
			b.WriteString(string(runes[i:end]))
			i = end - 1

			continue
		}

		r := runes[i]
		if r != '@' || i+1 >= len(runes) || !isIdentStart(runes[i+1]) {
			b.WriteRune(r)

			continue
		}

		j := i + 1
		for j < len(runes) && isIdentPart(runes[j]) {
			j++
		}

		name := string(runes[i+1 : j])

		field, err := requestField(name)
		if err != nil {
			return compiledQuery{}, err
		}

		n, ok := position[field]
		if !ok {
			params = append(params, field)
			n = len(params)
			position[field] = n
		}

		fmt.Fprintf(&b, "$%d", n)

		i = j - 1
	}

	return compiledQuery{text: b.String(), params: params}, nil
}

// args binds the resolved request values in the order the query expects.
func (q compiledQuery) args(values map[address.FieldName]string) []any {
	args := make([]any, len(q.params))
	for i, p := range q.params {
		if q.named {
			args[i] = sql.Named(string(p), values[p])
		} else {
			args[i] = values[p]
		}
	}

	return args
}

// opaqueEnd returns the end of the literal, quoted identifier, comment or
// dollar-quoted body starting at i, or i when none starts there. Unterminated
// spans run to the end of the query.
func opaqueEnd(runes []rune, i int) int {
	switch {
	case runes[i] == '\'' || runes[i] == '"':
		return closingEnd(runes, i+1, []rune{runes[i]})
	case hasPrefix(runes, i, "--"):
		return closingEnd(runes, i+2, []rune{'\n'})
	case hasPrefix(runes, i, "/*"):
		return blockCommentEnd(runes, i+2)
	case runes[i] == '$':
		tag, ok := dollarTag(runes, i)
		if !ok {
			return i
		}

		return closingEnd(runes, i+len(tag), tag)
	}

	return i
}

// closingEnd returns the index just past the first occurrence of delim at or
// after from. A doubled quote closes one literal and opens the next, which
// keeps escaped quotes inside the span.
func closingEnd(runes []rune, from int, delim []rune) int {
	for j := from; j < len(runes); j++ {
		if hasPrefix(runes, j, string(delim)) {
			return j + len(delim)
		}
	}

	return len(runes)
}

// blockCommentEnd handles nested /* */ comments.
func blockCommentEnd(runes []rune, from int) int {
	depth := 1
	for j := from; j < len(runes); j++ {
		switch {
		case hasPrefix(runes, j, "/*"):
			depth++
			j++
		case hasPrefix(runes, j, "*/"):
			depth--
			j++

			if depth == 0 {
				return j + 1
			}
		}
	}

	return len(runes)
}

// dollarTag reads a $tag$ or $$ opener at i. $1 style positional
// parameters are not tags.
func dollarTag(runes []rune, i int) ([]rune, bool) {
	j := i + 1
	if j < len(runes) && runes[j] != '$' && !isIdentStart(runes[j]) {
		return nil, false
	}

	for j < len(runes) && runes[j] != '$' {
		if !isIdentPart(runes[j]) {
			return nil, false
		}

		j++
	}

	if j >= len(runes) {
		return nil, false
	}

	return runes[i : j+1], true
}

func hasPrefix(runes []rune, i int, prefix string) bool {
	for _, p := range prefix {
		if i >= len(runes) || runes[i] != p {
			return false
		}

		i++
	}

	return true
}

func requestField(name string) (address.FieldName, error) {
	for _, f := range address.RequestFields {
		if strings.EqualFold(string(f), name) {
			return f, nil
		}
	}

	return "", fmt.Errorf("unknown query parameter @%s", name)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
