package surveyscramble

import (
	"context"
	"fmt"
	mrand "math/rand"
	"strings"
	"unicode"

	"github.com/louisbranch/boxbot/internal/choose"
	"github.com/louisbranch/boxbot/internal/completion"
)

const guessMaxLength = 25

// Few-shot example answers, split by survey popularity so High and Low rounds
// steer the model toward the right end of the list.
var (
	exampleHigh = [3]string{
		"Sopranos; Office; BreakingBad; FireFly; Seinfeld; Friends",
		"Waiter; Service; Check; Please; Refill; Menu",
		"Alarm; Police; Gun; DashCam; Lock; Dog",
	}
	exampleLow = [3]string{
		"Shameless; Wentworth; Spartacus; Ezel; Yellowstone; Primal",
		"Pie; Burnt; Bug; Dash; Drunk; Register",
		"Raccoon; Disgust; Bodyguard; Boot; Broken; Spikes",
	}
)

type generator struct {
	service         *completion.Service
	rng             *mrand.Rand
	maxTries        int
	genTemperature  float64
	voteTemperature float64
}

func answersPrompt(surveyPrompt, instructions string, pos position) string {
	var examples [3]string
	switch pos {
	case positionHigh:
		examples = exampleHigh
	case positionLow:
		examples = exampleLow
	default:
		for i := range examples {
			examples[i] = exampleHigh[i] + "; " + exampleLow[i]
		}
	}

	return fmt.Sprintf(`Below are some survey questions with reasonable responses to them.

Survey: What's a good single word TV show title? %[4]s
Responses: %[1]s

Survey: What's a word you might often hear in a restaurant? %[4]s
Responses: %[2]s

Survey: In a word, how would you stop someone from stealing your car? %[4]s
Responses: %[3]s

Survey: %[5]s %[4]s
Responses:`, examples[0], examples[1], examples[2], instructions, surveyPrompt)
}

// answers generates a batch of candidate guesses in one call. taken filters
// out guesses already used or queued; the batch may come back empty when the
// model produced nothing new.
func (g *generator) answers(ctx context.Context, surveyPrompt, instructions string, pos position, taken func(string) bool) []string {
	input := completion.Input{CompletionPrompt: answersPrompt(surveyPrompt, instructions, pos)}
	params := completion.Parameters{
		Temperature:      g.genTemperature,
		MaxTokens:        32,
		TopP:             1,
		FrequencyPenalty: 0.2,
		StopSequences:    []string{"\n"},
	}

	result := g.service.Complete(ctx, input, false, params, func(r completion.Response) bool {
		return len(filterResults(r.Text, guessMaxLength, taken)) > 0
	}, g.maxTries, "")

	if result.FinishReason == completion.FinishNoValidResponses {
		return nil
	}
	return filterResults(result.Text, guessMaxLength, taken)
}

// best picks the option most likely to rank highest on the survey. Exhaustion
// falls back to a uniformly random index.
func (g *generator) best(ctx context.Context, surveyPrompt string, options []string) (int, string) {
	rendered := choose.Options(options)
	input := completion.Input{
		CompletionPrompt: fmt.Sprintf("I was taking a survey, and was asked %q My options were:\n\n%s\nI think the most popular of those is number: ",
			surveyPrompt, rendered),
	}
	params := completion.Parameters{
		Temperature:   g.voteTemperature,
		MaxTokens:     1,
		TopP:          1,
		StopSequences: []string{"\n"},
	}

	index := completion.CompleteAs(ctx, g.service, input, false, params,
		func(r completion.Response) int {
			reply := strings.TrimSpace(r.Text)
			for i, option := range options {
				if reply == option {
					return i
				}
			}
			i, err := choose.ParseIndex(reply, len(options))
			if err != nil {
				return -1
			}
			return i
		},
		-1,
		func(i int) bool { return i >= 0 },
		g.maxTries)

	if index < 0 {
		return choose.RandomIndex(g.rng, len(options)), completion.FinishNoValidResponses
	}
	return index, "stop"
}

// filterResults splits a batch response into individual guesses and drops
// anything unusable. The model is told to separate with semicolons but falls
// back to commas or spaces often enough to handle both.
func filterResults(input string, maxLength int, taken func(string) bool) []string {
	parts := strings.Split(input, ";")
	if len(parts) == 1 {
		parts = strings.Split(input, ",")
		if len(parts) == 1 {
			parts = strings.Split(input, " ")
		}
	}

	var cleaned []string
	for _, part := range parts {
		var b strings.Builder
		for _, r := range part {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		clipped := b.String()
		if clipped == "" || len(clipped) > maxLength {
			continue
		}
		if taken != nil && taken(clipped) {
			continue
		}
		cleaned = append(cleaned, clipped)
	}
	return cleaned
}
