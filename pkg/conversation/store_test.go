package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T, cfg Config) (*Store, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	mem := kvstore.NewMemory()
	mem.SetClock(clk.now)
	logger, _ := test.NewNullLogger()
	return New(mem, cfg, logger, cache.WithClock(clk.now)), clk
}

func TestAppendAndTurns(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Config{})

	assert.Empty(t, s.Turns(ctx, "user:1"))

	s.Append(ctx, "user:1", "hi", "hello")
	turns := s.Turns(ctx, "user:1")
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, "hello", turns[1].Content)

	assert.Empty(t, s.Turns(ctx, "ip:10.0.0.1"), "histories are isolated per identity")
}

func TestBounded(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Config{MaxTurns: 8})

	for i := 0; i < 7; i++ {
		turns := s.Append(ctx, "user:1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		assert.LessOrEqual(t, len(turns), 8)
		assert.Zero(t, len(turns)%2, "history must hold whole pairs")
	}

	turns := s.Turns(ctx, "user:1")
	require.Len(t, turns, 8)
	assert.Equal(t, "q3", turns[0].Content, "oldest turns are dropped first")
	assert.Equal(t, "a6", turns[7].Content)
}

func TestOddMaxTurnsRoundsDown(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxTurns: 5})
	assert.Equal(t, 4, s.MaxTurns())

	s, _ = newTestStore(t, Config{MaxTurns: 1})
	assert.Equal(t, 2, s.MaxTurns())
}

func TestIdleExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore(t, Config{TTL: time.Hour})

	s.Append(ctx, "user:1", "hi", "hello")
	clk.t = clk.t.Add(50 * time.Minute)
	s.Append(ctx, "user:1", "again", "sure")

	clk.t = clk.t.Add(50 * time.Minute)
	assert.Len(t, s.Turns(ctx, "user:1"), 4, "append refreshes the TTL")

	clk.t = clk.t.Add(61 * time.Minute)
	assert.Empty(t, s.Turns(ctx, "user:1"))
}

func TestRenderAsText(t *testing.T) {
	turns := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "Is 20/40 bad? "},
		{Role: models.RoleAssistant, Content: "It is mild."},
	}

	assert.Equal(t, "Recent conversation:\nUser: Is 20/40 bad?\nAssistant: It is mild.", RenderAsText(turns, "en"))
	assert.Equal(t, "Conversación reciente:\nUsuario: Is 20/40 bad?\nAsistente: It is mild.", RenderAsText(turns, "es"))
	assert.Equal(t, "", RenderAsText(nil, "en"))
}
