// Package safesql implements the untrusted-SQL safety contract for the
// natural-language analytics chat (spec §7): a denylist scanner, not a
// sandboxed executor. It is deliberately conservative -- word-boundary
// token matching on the raw statement text, not a SQL parser -- per the
// spec's own framing of this surface as "implementers should consider
// parameterizing queries rather than allowing free-form text at all".
package safesql

import (
	"fmt"
	"regexp"
	"strings"
)

// forbidden are the statement-altering tokens that must not appear
// anywhere in the input, including inside parenthesized subqueries
// (spec §7).
var forbidden = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE", "REPLACE",
}

// tokenPatterns holds, for each forbidden token, a pattern matching it as a
// whole word, case-insensitively.
var tokenPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(forbidden))
	for _, t := range forbidden {
		m[t] = regexp.MustCompile(`(?i)\b` + t + `\b`)
	}
	return m
}()

// Validate reports an error if stmt is anything other than a single
// read-only query. Rules (spec §7):
//  1. must begin with SELECT or WITH (after trimming whitespace),
//  2. must not contain any forbidden token, anywhere, case-insensitive,
//  3. must not contain a second statement (a ';' followed by anything but
//     trailing whitespace).
func Validate(stmt string) error {
	trimmed := strings.TrimSpace(stmt)
	if trimmed == "" {
		return fmt.Errorf("empty statement")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("statement must begin with SELECT or WITH")
	}

	for _, t := range forbidden {
		if tokenPatterns[t].MatchString(trimmed) {
			return fmt.Errorf("statement contains forbidden token %q", t)
		}
	}

	if hasSecondStatement(trimmed) {
		return fmt.Errorf("multi-statement input is not allowed")
	}

	return nil
}

// hasSecondStatement reports whether stmt contains a ';' with any
// non-whitespace content after it (a single trailing semicolon is fine).
func hasSecondStatement(stmt string) bool {
	i := strings.IndexByte(stmt, ';')
	if i < 0 {
		return false
	}
	return strings.TrimSpace(stmt[i+1:]) != ""
}
