// Package conversation keeps a bounded recent-turn history per identity.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/models"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxTurns = 8
	DefaultTTL      = 6 * time.Hour
)

// Config bounds stored history.
type Config struct {
	MaxTurns int
	TTL      time.Duration
}

// Store reads and appends conversation turns. Append is a plain
// read-modify-write; two concurrent appends for the same identity can lose
// one pair.
type Store struct {
	maxTurns int
	ttl      time.Duration
	turns    *cache.Cache[[]models.ConversationTurn]
}

// New creates a Store. MaxTurns is rounded down to an even number so the
// history always holds whole user/assistant pairs.
func New(store kvstore.Store, cfg Config, log logrus.FieldLogger, opts ...cache.Option) *Store {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	maxTurns -= maxTurns % 2
	if maxTurns < 2 {
		maxTurns = 2
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts = append([]cache.Option{cache.WithLogger(log)}, opts...)
	return &Store{
		maxTurns: maxTurns,
		ttl:      ttl,
		turns:    cache.New[[]models.ConversationTurn](store, "conversation", opts...),
	}
}

// MaxTurns returns the effective history bound.
func (s *Store) MaxTurns() int {
	return s.maxTurns
}

// Turns returns the stored history for identity, oldest first.
func (s *Store) Turns(ctx context.Context, identity string) []models.ConversationTurn {
	turns, ok := s.turns.Get(ctx, identity)
	if !ok {
		return nil
	}
	return turns
}

// Append adds a user/assistant pair, keeps the most recent MaxTurns turns and
// refreshes the idle TTL. It returns the stored history.
func (s *Store) Append(ctx context.Context, identity, userText, assistantText string) []models.ConversationTurn {
	now := s.turns.Now()
	turns := append(s.Turns(ctx, identity),
		models.ConversationTurn{Role: models.RoleUser, Content: userText, Timestamp: now},
		models.ConversationTurn{Role: models.RoleAssistant, Content: assistantText, Timestamp: now},
	)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.turns.Set(ctx, identity, turns, s.ttl)
	return turns
}

// Clear drops the history for identity.
func (s *Store) Clear(ctx context.Context, identity string) {
	s.turns.Delete(ctx, identity)
}

// RenderAsText formats turns for inclusion in a system prompt under a
// localized header. It returns "" for an empty history.
func RenderAsText(turns []models.ConversationTurn, loc string) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(locale.T(loc, locale.HistoryHeader))
	for _, t := range turns {
		label := locale.T(loc, locale.HistoryUser)
		if t.Role == models.RoleAssistant {
			label = locale.T(loc, locale.HistoryAssist)
		}
		b.WriteString("\n")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Content))
	}
	return b.String()
}
