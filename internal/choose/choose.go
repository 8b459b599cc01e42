// Package choose parses model replies to "pick an option" prompts.
//
// Replies are accepted leniently: a leading digit run or a spelled-out
// English numeral both work, since models answer either way. Range checking
// happens here so validators stay one-liners.
package choose

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrUnparseable indicates the reply held neither digits nor a known numeral.
	ErrUnparseable = errors.New("reply is not a recognizable number")
	// ErrOutOfRange indicates a parsed number outside the option list.
	ErrOutOfRange = errors.New("choice is out of range")
)

// Games present at most eight options, so only these numerals are handled.
var numerals = map[string]int{
	"ONE":   1,
	"TWO":   2,
	"THREE": 3,
	"FOUR":  4,
	"FIVE":  5,
	"SIX":   6,
	"SEVEN": 7,
	"EIGHT": 8,
}

// ParseIndex converts a model reply into a 0-based option index. The reply
// may carry trailing punctuation ("3.") or be spelled out ("THREE"); anything
// else, or a value outside [1, optionCount], is an error.
func ParseIndex(reply string, optionCount int) (int, error) {
	trimmed := strings.Trim(strings.TrimSpace(reply), ".")
	if trimmed == "" {
		return 0, ErrUnparseable
	}

	var n int
	if unicode.IsDigit(rune(trimmed[0])) {
		digits := trimmed
		for i, r := range trimmed {
			if !unicode.IsDigit(r) {
				digits = trimmed[:i]
				break
			}
		}
		parsed, err := strconv.Atoi(digits)
		if err != nil {
			return 0, ErrUnparseable
		}
		n = parsed
	} else {
		parsed, ok := numerals[strings.ToUpper(trimmed)]
		if !ok {
			return 0, ErrUnparseable
		}
		n = parsed
	}

	if n < 1 || n > optionCount {
		return 0, ErrOutOfRange
	}
	return n - 1, nil
}

// Options renders a 1-indexed option list for inclusion in a prompt.
func Options(texts []string) string {
	var b strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}
	return b.String()
}

// RandomIndex draws a uniformly random valid index. Choice generators fall
// back to it on exhaustion, unlike text generators which fall back to a fixed
// default.
func RandomIndex(rng *rand.Rand, optionCount int) int {
	return rng.Intn(optionCount)
}
