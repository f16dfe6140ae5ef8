// Package validator checks user queries before they enter the agent loop.
package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// spaceRegexp is compiled once at package init and reused across all Sanitize calls.
var spaceRegexp = regexp.MustCompile(`\s+`)

var ErrEmptyQuery = errors.New("query is empty")

type InputValidator struct {
	maxLength int
	minLength int
}

func NewInputValidator() *InputValidator {
	return &InputValidator{
		maxLength: 2000,
		minLength: 1,
	}
}

// WithLimits returns a validator with the given length bounds in runes.
// Non-positive values keep the current bound.
func (v *InputValidator) WithLimits(minLength, maxLength int) *InputValidator {
	out := *v
	if minLength > 0 {
		out.minLength = minLength
	}
	if maxLength > 0 {
		out.maxLength = maxLength
	}
	return &out
}

func (v *InputValidator) Validate(query string) error {
	if !utf8.ValidString(query) {
		return errors.New("invalid UTF-8 encoding")
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ErrEmptyQuery
	}

	n := utf8.RuneCountInString(trimmed)
	if n < v.minLength {
		return fmt.Errorf("query too short: minimum %d characters", v.minLength)
	}
	if n > v.maxLength {
		return fmt.Errorf("query too long: maximum %d characters", v.maxLength)
	}
	return nil
}

// Sanitize drops control characters and collapses whitespace runs.
func (v *InputValidator) Sanitize(query string) string {
	query = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, query)
	query = strings.TrimSpace(query)
	return spaceRegexp.ReplaceAllString(query, " ")
}
