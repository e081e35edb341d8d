// Package canonical reduces raw SQL statement text to its canonical shape
// and a stable content fingerprint. Two statements that differ only in
// positional parameter numbering or IN-list cardinality canonicalize to
// identical text and therefore identical fingerprints.
package canonical

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
)

// Placeholder is the generic token every positional parameter reduces to.
const Placeholder = "$?"

// Normalize maps raw statement text to its canonical form:
//
//  1. surrounding whitespace is trimmed
//  2. an IN (...) list consisting solely of placeholders collapses to IN ($?)
//  3. every remaining positional placeholder ($1, $2, ...) becomes $?
//  4. whitespace runs collapse to a single space
//
// String literals are passed through untouched so a '$1' inside quotes is
// not rewritten. Normalize is pure, never fails, and is idempotent:
// normalizing already-canonical text is a no-op.
func Normalize(sql string) string {
	if sql == "" {
		return ""
	}
	return collapseWhitespace(rewritePlaceholders(sql))
}

// Fingerprint returns the hex-encoded 128-bit content hash of text. The
// value is stable across process restarts and platforms and serves as the
// durable identity of a query shape.
func Fingerprint(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeAndFingerprint canonicalizes raw text and fingerprints the
// result in one step.
func NormalizeAndFingerprint(sql string) (text, fingerprint string) {
	text = Normalize(sql)
	return text, Fingerprint(text)
}

// scanState walks the input byte by byte during rewriting.
type scanState struct {
	sql    string
	length int
	idx    int
}

func (s *scanState) hasMore() bool  { return s.idx < s.length }
func (s *scanState) hasNext() bool  { return s.idx+1 < s.length }
func (s *scanState) current() byte  { return s.sql[s.idx] }
func (s *scanState) peek() byte     { return s.sql[s.idx+1] }
func (s *scanState) advance()       { s.idx++ }
func (s *scanState) advanceBy(n int) { s.idx += n }

// rewritePlaceholders performs the structural passes: IN-list collapse and
// generic placeholder substitution.
func rewritePlaceholders(sql string) string {
	var result strings.Builder
	result.Grow(len(sql))
	state := &scanState{sql: sql, length: len(sql)}

	for state.hasMore() {
		c := state.current()
		switch {
		case c == '\'':
			copyStringLiteral(&result, state)
		case c == '(' && precededByIn(&result):
			result.WriteString(collapseInList(state))
		case isPlaceholderStart(state):
			skipPlaceholder(state)
			result.WriteString(Placeholder)
		default:
			result.WriteByte(c)
			state.advance()
		}
	}
	return result.String()
}

// precededByIn reports whether the output so far ends with the token IN,
// scanning backwards over whitespace. WITHIN and other identifiers that
// merely end in "in" do not match.
func precededByIn(result *strings.Builder) bool {
	str := result.String()
	idx := len(str) - 1
	for idx >= 0 && unicode.IsSpace(rune(str[idx])) {
		idx--
	}
	if idx < 1 {
		return false
	}
	if (str[idx] == 'N' || str[idx] == 'n') && (str[idx-1] == 'I' || str[idx-1] == 'i') {
		return idx < 2 || !isIdentifierChar(rune(str[idx-2]))
	}
	return false
}

func isIdentifierChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isPlaceholderStart reports whether the scan position begins a positional
// parameter: $ followed by digits, or an already-generic $?.
func isPlaceholderStart(state *scanState) bool {
	if state.current() != '$' || !state.hasNext() {
		return false
	}
	next := state.peek()
	return next == '?' || unicode.IsDigit(rune(next))
}

func skipPlaceholder(state *scanState) {
	state.advance() // $
	if state.hasMore() && state.current() == '?' {
		state.advance()
		return
	}
	for state.hasMore() && unicode.IsDigit(rune(state.current())) {
		state.advance()
	}
}

// collapseInList consumes a parenthesized list at the current position.
// If the list holds one or more placeholders separated by commas it
// collapses to "($?)"; anything else leaves the input untouched past the
// opening parenthesis.
func collapseInList(state *scanState) string {
	saveIdx := state.idx
	state.advance() // (

	items := 0
	onlyPlaceholders := true
	for state.hasMore() && state.current() != ')' {
		c := state.current()
		switch {
		case unicode.IsSpace(rune(c)) || c == ',':
			state.advance()
		case isPlaceholderStart(state):
			items++
			skipPlaceholder(state)
		default:
			onlyPlaceholders = false
		}
		if !onlyPlaceholders {
			break
		}
	}

	if onlyPlaceholders && items >= 1 && state.hasMore() && state.current() == ')' {
		state.advance() // )
		return "(" + Placeholder + ")"
	}

	state.idx = saveIdx
	state.advance()
	return "("
}

// copyStringLiteral copies a quoted literal verbatim, honoring the ''
// escape, so placeholder-looking text inside strings survives.
func copyStringLiteral(result *strings.Builder, state *scanState) {
	result.WriteByte(state.current())
	state.advance()
	for state.hasMore() {
		c := state.current()
		result.WriteByte(c)
		if c == '\'' {
			if state.hasNext() && state.peek() == '\'' {
				result.WriteByte('\'')
				state.advanceBy(2)
				continue
			}
			state.advance()
			return
		}
		state.advance()
	}
}

func collapseWhitespace(sql string) string {
	var result strings.Builder
	result.Grow(len(sql))
	lastWasSpace := true // trims leading whitespace
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if unicode.IsSpace(rune(c)) {
			if !lastWasSpace {
				result.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		result.WriteByte(c)
		lastWasSpace = false
	}
	return strings.TrimRight(result.String(), " ")
}
