// Package boxbot parses bot command flags and runs a fleet of automated
// players against one room.
package boxbot

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/games"
	entrypoint "github.com/louisbranch/boxbot/internal/platform/cmd"
	"github.com/louisbranch/boxbot/internal/random"
	"github.com/louisbranch/boxbot/internal/transcript"
)

// Config holds bot command configuration.
type Config struct {
	RoomCode string `env:"BOXBOT_ROOM_CODE"`
	Game     string `env:"BOXBOT_GAME"              envDefault:"fibbage3"`
	Name     string `env:"BOXBOT_PLAYER_NAME"       envDefault:"boxbot"`
	Workers  int    `env:"BOXBOT_WORKERS"           envDefault:"1"`
	Host     string `env:"BOXBOT_ECAST_HOST"        envDefault:"ecast.jackboxgames.com"`

	OpenAIKey       string `env:"BOXBOT_OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"BOXBOT_OPENAI_BASE_URL"`
	ChatModel       string `env:"BOXBOT_CHAT_MODEL"`
	CompletionModel string `env:"BOXBOT_COMPLETION_MODEL"`
	EmbeddingModel  string `env:"BOXBOT_EMBEDDING_MODEL"`
	Personality     string `env:"BOXBOT_PERSONALITY"`

	UseChat           bool          `env:"BOXBOT_USE_CHAT"            envDefault:"true"`
	UseChatForVoting  bool          `env:"BOXBOT_USE_CHAT_FOR_VOTING" envDefault:"true"`
	MaxRetries        int           `env:"BOXBOT_MAX_RETRIES"         envDefault:"5"`
	SubmissionRetries int           `env:"BOXBOT_SUBMISSION_RETRIES"  envDefault:"2"`
	GenTemperature    float64       `env:"BOXBOT_GEN_TEMPERATURE"     envDefault:"0.8"`
	VoteTemperature   float64       `env:"BOXBOT_VOTE_TEMPERATURE"    envDefault:"1"`
	ActionDelay       time.Duration `env:"BOXBOT_ACTION_DELAY"        envDefault:"3s"`

	TranscriptPath string `env:"BOXBOT_TRANSCRIPT_PATH"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.RoomCode, "room", cfg.RoomCode, "4-letter room code to join")
	fs.StringVar(&cfg.Game, "game", cfg.Game, "game tag, one of "+strings.Join(games.Tags(), ", "))
	fs.StringVar(&cfg.Name, "name", cfg.Name, "player name prefix")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of bot players to join")
	fs.StringVar(&cfg.OpenAIKey, "openai-key", cfg.OpenAIKey, "OpenAI API key")
	fs.StringVar(&cfg.Personality, "personality", cfg.Personality, "optional personality hint for chat prompts")
	fs.StringVar(&cfg.TranscriptPath, "transcript", cfg.TranscriptPath, "sqlite path for the generation transcript (empty disables)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the parts of a Config that have no usable default.
func (cfg Config) Validate() error {
	code := strings.TrimSpace(cfg.RoomCode)
	if len(code) != 4 {
		return fmt.Errorf("room code must be 4 letters, got %q", cfg.RoomCode)
	}
	for _, r := range code {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return fmt.Errorf("room code must be 4 letters, got %q", cfg.RoomCode)
		}
	}
	if cfg.Workers < 1 {
		return errors.New("at least one worker is required")
	}
	if strings.TrimSpace(cfg.OpenAIKey) == "" {
		return errors.New("an OpenAI API key is required")
	}
	return nil
}

// Run joins the configured room with cfg.Workers independent players and
// blocks until every player's session ends.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBoxbot, func(ctx context.Context) error {
		provider, err := completion.NewOpenAIProvider(completion.OpenAIConfig{
			APIKey:          cfg.OpenAIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			ChatModel:       cfg.ChatModel,
			CompletionModel: cfg.CompletionModel,
			EmbeddingModel:  cfg.EmbeddingModel,
		})
		if err != nil {
			return fmt.Errorf("build completion provider: %w", err)
		}

		var store *transcript.Store
		if cfg.TranscriptPath != "" {
			store, err = transcript.Open(cfg.TranscriptPath)
			if err != nil {
				return fmt.Errorf("open transcript store: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("boxbot: close transcript store: %v", err)
				}
			}()
		}

		var wg sync.WaitGroup
		for i := 1; i <= cfg.Workers; i++ {
			engine, err := buildWorker(cfg, provider, store, i)
			if err != nil {
				return fmt.Errorf("build worker %d: %w", i, err)
			}
			wg.Add(1)
			go func(instance int) {
				defer wg.Done()
				// A worker failing to join logs and exits; siblings play on.
				if err := engine.Play(ctx); err != nil {
					log.Printf("boxbot: worker %d: %v", instance, err)
				}
			}(i)
		}
		wg.Wait()
		return nil
	})
}

// buildWorker assembles one player: its own completion service, random source,
// and engine, so workers never share mutable state.
func buildWorker(cfg Config, provider completion.Provider, store *transcript.Store, instance int) (games.Engine, error) {
	rng, err := random.NewRand()
	if err != nil {
		return nil, fmt.Errorf("seed random source: %w", err)
	}

	service := completion.NewService(provider)
	if cfg.Personality != "" {
		service.ApplyPersonality(cfg.Personality)
	}

	name := cfg.Name
	if cfg.Workers > 1 {
		name = fmt.Sprintf("%s %d", cfg.Name, instance)
	}

	return games.New(cfg.Game, games.Settings{
		Service:           service,
		Rand:              rng,
		Transcript:        store,
		Host:              cfg.Host,
		RoomCode:          strings.ToUpper(strings.TrimSpace(cfg.RoomCode)),
		Name:              name,
		Instance:          instance,
		UseChat:           cfg.UseChat,
		UseChatForVoting:  cfg.UseChatForVoting,
		MaxRetries:        cfg.MaxRetries,
		SubmissionRetries: cfg.SubmissionRetries,
		GenTemperature:    cfg.GenTemperature,
		VoteTemperature:   cfg.VoteTemperature,
		ActionDelay:       cfg.ActionDelay,
	})
}
