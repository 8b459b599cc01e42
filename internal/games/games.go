// Package games maps game tags to the engines that play them.
package games

import (
	"context"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/louisbranch/boxbot/internal/completion"
	"github.com/louisbranch/boxbot/internal/games/fibbage3"
	"github.com/louisbranch/boxbot/internal/games/surveyscramble"
	"github.com/louisbranch/boxbot/internal/games/wordspud"
	"github.com/louisbranch/boxbot/internal/transcript"
)

// Supported game tags.
const (
	TagFibbage3       = "fibbage3"
	TagSurveyScramble = "surveyscramble"
	TagWordSpud       = "wordspud"
)

// Engine is one automated player for one title. Play blocks until the room
// session ends or the context is cancelled.
type Engine interface {
	Play(ctx context.Context) error
}

// Settings carries everything a title engine needs: per-worker collaborators
// plus shared tuning. Zero tuning values fall back to per-title defaults.
type Settings struct {
	Service    *completion.Service
	Rand       *mrand.Rand
	Transcript *transcript.Store

	Host     string
	RoomCode string
	Name     string
	Instance int

	UseChat           bool
	UseChatForVoting  bool
	MaxRetries        int
	SubmissionRetries int
	GenTemperature    float64
	VoteTemperature   float64
	ActionDelay       time.Duration
}

// Tags lists the supported game tags in registry order.
func Tags() []string {
	return []string{TagFibbage3, TagSurveyScramble, TagWordSpud}
}

// New builds the engine for a game tag.
func New(tag string, s Settings) (Engine, error) {
	switch tag {
	case TagFibbage3:
		return fibbage3.New(fibbage3.Config{
			Service:           s.Service,
			Rand:              s.Rand,
			Transcript:        s.Transcript,
			Host:              s.Host,
			RoomCode:          s.RoomCode,
			Name:              s.Name,
			Instance:          s.Instance,
			UseChat:           s.UseChat,
			UseChatForVoting:  s.UseChatForVoting,
			MaxRetries:        s.MaxRetries,
			SubmissionRetries: s.SubmissionRetries,
			GenTemperature:    s.GenTemperature,
			VoteTemperature:   s.VoteTemperature,
			CategoryDelay:     s.ActionDelay,
		})
	case TagSurveyScramble:
		return surveyscramble.New(surveyscramble.Config{
			Service:          s.Service,
			Rand:             s.Rand,
			Transcript:       s.Transcript,
			Host:             s.Host,
			RoomCode:         s.RoomCode,
			Name:             s.Name,
			Instance:         s.Instance,
			MaxRetries:       s.MaxRetries,
			GenTemperature:   s.GenTemperature,
			VoteTemperature:  s.VoteTemperature,
			ResponseMinDelay: s.ActionDelay,
		})
	case TagWordSpud:
		return wordspud.New(wordspud.Config{
			Service:          s.Service,
			Transcript:       s.Transcript,
			Host:             s.Host,
			RoomCode:         s.RoomCode,
			Name:             s.Name,
			Instance:         s.Instance,
			UseChat:          s.UseChat,
			UseChatForVoting: s.UseChatForVoting,
			MaxRetries:       s.MaxRetries,
			GenTemperature:   s.GenTemperature,
			VoteTemperature:  s.VoteTemperature,
			VoteDelay:        s.ActionDelay,
		})
	default:
		return nil, fmt.Errorf("unknown game tag %q", tag)
	}
}
