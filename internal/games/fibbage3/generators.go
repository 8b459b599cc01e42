package fibbage3

import (
	"context"
	"fmt"
	mrand "math/rand"
	"strings"

	"github.com/louisbranch/boxbot/internal/choose"
	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/sanitize"
)

const (
	defaultLie        = "Default Response"
	defaultDoubleLie1 = "Default"
	defaultDoubleLie2 = "Response"
	defaultMaxLength  = 45
)

const lieSystem = "You are a player in a game called Fibbage, in which players " +
	"attempt to write convincing lies to trick others. Since this is a game " +
	"about tricking other players, please do not respond with the correct " +
	"answer. Please respond to the prompt with just your answer, do not repeat " +
	"the prompt."

const doubleLieSystem = "You are a player in a game called Fibbage, in which " +
	"players attempt to write convincing lies to trick others. Since this is a " +
	"game about tricking other players, please do not respond with the correct " +
	"answer. This prompt requires two responses, so please respond to the " +
	"prompt with only your answers separated by the | character."

func lieCompletionPrompt(fibPrompt string) string {
	return `Here are some prompts from the game Fibbage, in which players attempt to write convincing lies to trick others.

Q: In the mid-1800s, Queen Victoria employed a man named Jack Black, whose official job title was Royal _______.
A: Flute player

Q: In 2016, KFC announced it created a _______ that smells like fried chicken.
A: Scratch 'n' sniff menu

Q: Due to a habit he had while roaming the halls of the White House, President Lyndon B. Johnson earned the nickname "_______ Johnson."
A: Desk Butt

Q: ` + fibPrompt + `
A:`
}

func doubleLieCompletionPrompt(fibPrompt string) string {
	return `Here are some prompts from the game Fibbage, in which players attempt to write convincing lies to trick others. These prompts require two responses, separated by the | character.

Q: Researchers at Aalto and Oxford universities studied the phone records of over 3.2 million Europeans and found that people have the most _______ when they _______.
A: friends|are 25 years old

Q: The controversial Supreme Court case Nix v. Hedden upset more than a few people when the court ruled that _______ are _______.
A: tomatoes|vegetables

Q: In an attempt to teach kids an important lesson, Bernie Karl of Alaska wants to put a _______ of _______ in every public school.
A: box|handguns

Q: ` + fibPrompt + `
A:`
}

// generator builds prompts and runs the validate-retry loop for each action
// the engine takes. It holds no turn state.
type generator struct {
	service          *completion.Service
	rng              *mrand.Rand
	useChat          bool
	useChatForVoting bool
	maxTries         int
	genTemperature   float64
	voteTemperature  float64
}

// lie produces a single-blank entry. The second return value is the finish
// reason, which callers use to tell fallback answers from generated ones.
func (g *generator) lie(ctx context.Context, fibPrompt string, maxLength int) (string, string) {
	input := completion.Input{
		System:           lieSystem,
		ChatPrompt:       "Here's a new prompt: " + fibPrompt,
		CompletionPrompt: lieCompletionPrompt(fibPrompt),
	}
	params := completion.Parameters{
		Temperature:      g.genTemperature,
		MaxTokens:        16,
		TopP:             1,
		FrequencyPenalty: 0.2,
		StopSequences:    []string{"\n"},
	}

	result := g.service.Complete(ctx, input, g.useChat, params, func(r completion.Response) bool {
		return usableEntry(sanitize.Clean(r.Text, fibPrompt), maxLength)
	}, g.maxTries, "")

	if result.FinishReason == completion.FinishNoValidResponses {
		return defaultLie, completion.FinishNoValidResponses
	}
	return sanitize.Clean(result.Text, fibPrompt), result.FinishReason
}

// doubleLie produces a two-part entry joined with the server's delimiter.
func (g *generator) doubleLie(ctx context.Context, fibPrompt, delim string, maxLength int) (string, string) {
	input := completion.Input{
		System:           doubleLieSystem,
		ChatPrompt:       "Here's a new prompt: " + fibPrompt,
		CompletionPrompt: doubleLieCompletionPrompt(fibPrompt),
	}
	params := completion.Parameters{
		Temperature:      g.genTemperature,
		MaxTokens:        16,
		TopP:             1,
		FrequencyPenalty: 0.2,
		StopSequences:    []string{"\n"},
	}

	result := g.service.Complete(ctx, input, g.useChat, params, func(r completion.Response) bool {
		first, second, ok := splitDoubleLie(r.Text, fibPrompt)
		return ok && usableEntry(first, maxLength) && usableEntry(second, maxLength)
	}, g.maxTries, "")

	if result.FinishReason == completion.FinishNoValidResponses {
		return defaultDoubleLie1 + delim + defaultDoubleLie2, completion.FinishNoValidResponses
	}
	first, second, _ := splitDoubleLie(result.Text, fibPrompt)
	return first + delim + second, result.FinishReason
}

// truth picks the option believed to be the real answer. Exhaustion falls
// back to a uniformly random in-range index rather than a fixed option, so a
// table of bots does not pile onto one choice.
func (g *generator) truth(ctx context.Context, fibPrompt string, options []string) (int, string) {
	system := fmt.Sprintf("You are a player in a game called Fibbage, in which players "+
		"attempt to write convincing lies to trick others. Please respond with only the "+
		"number corresponding with the option that you think is correct for the prompt %q", fibPrompt)
	rendered := choose.Options(options)
	input := completion.Input{
		System:     system,
		ChatPrompt: rendered,
		CompletionPrompt: fmt.Sprintf("I was given a list of lies and one truth for the prompt %q. These were my options:\n\n%s\nI think the truth is answer number: ",
			fibPrompt, rendered),
	}
	params := completion.Parameters{
		Temperature:   g.voteTemperature,
		MaxTokens:     1,
		TopP:          1,
		StopSequences: []string{"\n"},
	}

	index := completion.CompleteAs(ctx, g.service, input, g.useChatForVoting, params,
		func(r completion.Response) int {
			i, err := choose.ParseIndex(r.Text, len(options))
			if err != nil {
				return -1
			}
			return i
		},
		-1,
		func(i int) bool { return i >= 0 },
		g.maxTries)

	g.service.ResetOne(system)
	if index < 0 {
		return choose.RandomIndex(g.rng, len(options)), completion.FinishNoValidResponses
	}
	return index, "stop"
}

func usableEntry(clean string, maxLength int) bool {
	return clean != "" && len(clean) <= maxLength && !strings.Contains(clean, "__")
}

func splitDoubleLie(text, fibPrompt string) (string, string, bool) {
	parts := strings.Split(strings.TrimSpace(text), "|")
	if len(parts) < 2 {
		return "", "", false
	}
	return sanitize.Clean(parts[0], ""), sanitize.Clean(parts[1], fibPrompt), true
}
