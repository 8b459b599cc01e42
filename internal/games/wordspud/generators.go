package wordspud

import (
	"context"
	"strings"
	"unicode"

	"github.com/louisbranch/boxbot/internal/completion"
)

const (
	defaultSpud   = "no response"
	spudMaxLength = 32

	voteGood = "GOOD"
	voteBad  = "BAD"
)

const spudSystem = "You are a player in a game called Word Spud, in which " +
	"players attempt to use part of a word or phrase to make a new one. You " +
	"will be given a word, please finish the word or turn it into a short " +
	"phrase. Your answer will come after the word given, so do not include " +
	"the word in your response."

const approvalSystem = "You are a player in a game called Word Spud, in which " +
	"players attempt to use part of a word or phrase to make a new one. You " +
	"will be given a word or phrase and need to evaluate if it's reasonable " +
	"or not. Since this is just for fun, you can be generally positive as " +
	"long as the response makes sense. Please respond with " + voteGood +
	" or " + voteBad

func spudCompletionPrompt(currentWord string) string {
	return `The game Word Spud is played by continuing a word or phrase with a funny related word or phrase. For example:

- jelly|fish
- deal| with it
- fish|sticks
- beat| saber
- tailor| made
- real| life
- how| do you do
- ` + currentWord + `|`
}

// generator builds prompts and runs the validate-retry loop for each action
// the engine takes. It holds no turn state.
type generator struct {
	service          *completion.Service
	useChat          bool
	useChatForVoting bool
	maxTries         int
	genTemperature   float64
	voteTemperature  float64
}

// spud produces a continuation for the current word. The second return value
// is the finish reason, which callers use to tell fallback answers from
// generated ones.
func (g *generator) spud(ctx context.Context, currentWord string) (string, string) {
	input := completion.Input{
		System:           spudSystem,
		ChatPrompt:       "Here's the next word: " + currentWord,
		CompletionPrompt: spudCompletionPrompt(currentWord),
	}
	params := completion.Parameters{
		Temperature:      g.genTemperature,
		MaxTokens:        16,
		TopP:             1,
		FrequencyPenalty: 0.3,
		PresencePenalty:  0.3,
		StopSequences:    []string{"\n"},
	}

	result := g.service.Complete(ctx, input, g.useChat, params, func(r completion.Response) bool {
		clean := cleanContinuation(strings.TrimSpace(r.Text), currentWord)
		return clean != "" && len(clean) <= spudMaxLength
	}, g.maxTries, "")

	if result.FinishReason == completion.FinishNoValidResponses {
		return defaultSpud, completion.FinishNoValidResponses
	}
	return cleanContinuation(strings.TrimSpace(result.Text), currentWord), result.FinishReason
}

// approve judges another player's combo. Exhaustion votes positively.
func (g *generator) approve(ctx context.Context, combo string) (bool, string) {
	input := completion.Input{
		System:     approvalSystem,
		ChatPrompt: "How about this one: \"" + combo + "\"",
	}
	params := completion.Parameters{
		Temperature:   g.voteTemperature,
		MaxTokens:     12,
		TopP:          1,
		StopSequences: []string{"\n"},
	}

	result := g.service.Complete(ctx, input, true, params, func(r completion.Response) bool {
		reply := strings.ToUpper(strings.TrimSpace(r.Text))
		return strings.Contains(reply, voteGood) || strings.Contains(reply, voteBad)
	}, g.maxTries, "")

	reply := strings.ToUpper(strings.TrimSpace(result.Text))
	switch {
	case strings.Contains(reply, voteGood):
		return true, result.FinishReason
	case strings.Contains(reply, voteBad):
		return false, result.FinishReason
	default:
		return true, completion.FinishNoValidResponses
	}
}

// cleanContinuation strips a leading echo of the current word and anything
// that is not a letter or whitespace. The model often restarts from partway
// into the given word; an overlap covering more than half the word is treated
// as an echo rather than a legitimate continuation.
func cleanContinuation(input, currentWord string) string {
	clipped := input
	lowerIn := strings.ToLower(clipped)
	lowerWord := strings.ToLower(currentWord)

	overlap := 0
	for i := 0; i < len(lowerWord); i++ {
		pre := lowerWord[i:]
		if len(lowerIn) >= len(pre) && lowerIn[:len(pre)] == pre {
			overlap = len(pre)
			break
		}
	}
	if overlap > len(currentWord)/2 {
		clipped = clipped[overlap:]
	}

	var b strings.Builder
	for _, r := range clipped {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
