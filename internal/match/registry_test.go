package match

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/gameserver"
	"github.com/matchdeck/matchdeck/internal/stats"
	"github.com/matchdeck/matchdeck/internal/storage"
)

var testPool = []string{"de_dust2", "de_mirage", "de_inferno", "de_nuke", "de_train", "de_overpass", "de_vertigo"}

type capturedEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *capturedEvents) Publish(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturedEvents) ofType(t string) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeCommander struct {
	mu       sync.Mutex
	commands []string
	replies  map[string]string
}

func (f *fakeCommander) Exec(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return f.replies[command], nil
}

func newTestRegistry(t *testing.T) (*Registry, *capturedEvents, *fakeCommander) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	events := &capturedEvents{}
	rcon := &fakeCommander{replies: map[string]string{}}
	reg := NewRegistry(store, stats.NewLedger(store), events, SessionConfig{
		SayPrefix:        "[test]",
		SnapshotDebounce: 10 * time.Millisecond,
	})
	reg.newCommander = func(domain.GameServerRef) gameserver.Commander { return rcon }
	t.Cleanup(func() { reg.Shutdown(context.Background()) })
	return reg, events, rcon
}

func createTestMatch(t *testing.T, reg *Registry, req CreateRequest) *Session {
	t.Helper()
	if req.TeamAName == "" {
		req.TeamAName = "Alpha"
	}
	if req.TeamBName == "" {
		req.TeamBName = "Bravo"
	}
	if len(req.MapPool) == 0 {
		req.MapPool = testPool
	}
	sess, err := reg.Create(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func TestCreateAndGet(t *testing.T) {
	reg, events, _ := newTestRegistry(t)

	sess := createTestMatch(t, reg, CreateRequest{Preset: "BO1"})
	m := sess.Match()

	assert.NotEmpty(t, m.ID)
	assert.NotEmpty(t, m.LogSecret)
	assert.NotEmpty(t, m.Token)
	assert.NotEqual(t, m.LogSecret, m.Token)
	assert.Equal(t, domain.StatePending, m.State)
	assert.Equal(t, domain.ModeSingle, m.Mode)
	assert.Len(t, m.ElectionSteps, 8) // 6 bans + random pick + knife

	got, ok := reg.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	assert.Len(t, events.ofType(domain.EventMatchCreated), 1)

	// the first snapshot is durable immediately
	stored, err := reg.GetFromStorage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, stored.ID)
}

func TestCreateValidation(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, CreateRequest{TeamBName: "Bravo", MapPool: testPool})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = reg.Create(ctx, CreateRequest{TeamAName: "Alpha", TeamBName: "Bravo"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = reg.Create(ctx, CreateRequest{
		TeamAName: "Alpha", TeamBName: "Bravo",
		MapPool: testPool, Preset: "BO9",
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = reg.Create(ctx, CreateRequest{
		TeamAName: "Alpha", TeamBName: "Bravo",
		MapPool: testPool, Mode: domain.MatchMode("TOURNAMENT"),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetIsLiveOnly(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	sess := createTestMatch(t, reg, CreateRequest{})
	id := sess.ID()

	require.NoError(t, reg.Remove(context.Background(), id))

	_, ok := reg.Get(id)
	assert.False(t, ok, "removed match must not be served live")

	stored, err := reg.GetFromStorage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.ID)
	assert.True(t, stored.IsStopped)
	assert.Equal(t, domain.StateStopped, stored.State)
}

func TestRemoveUnknown(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	err := reg.Remove(context.Background(), "no-such-match")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRevive(t *testing.T) {
	reg, events, _ := newTestRegistry(t)
	ctx := context.Background()

	sess := createTestMatch(t, reg, CreateRequest{})
	id := sess.ID()
	token := sess.Token()
	require.NoError(t, reg.Remove(ctx, id))

	revived, err := reg.Revive(ctx, id)
	require.NoError(t, err)

	m := revived.Match()
	assert.Equal(t, id, m.ID)
	assert.False(t, m.IsStopped)
	assert.Equal(t, domain.StatePending, m.State)
	assert.Equal(t, token, m.Token, "revival keeps credentials")
	assert.Len(t, events.ofType(domain.EventMatchRevived), 1)

	// already live now
	_, err = reg.Revive(ctx, id)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReviveNeverCreated(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.Revive(context.Background(), "no-such-match")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTokenLookup(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	sess := createTestMatch(t, reg, CreateRequest{})

	id, ok := reg.TokenLookup(sess.Token())
	require.True(t, ok)
	assert.Equal(t, sess.ID(), id)

	_, ok = reg.TokenLookup("bogus")
	assert.False(t, ok)
	_, ok = reg.TokenLookup("")
	assert.False(t, ok)
}

func TestGetAllFromStorage(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a := createTestMatch(t, reg, CreateRequest{TeamAName: "A1", TeamBName: "B1"})
	b := createTestMatch(t, reg, CreateRequest{TeamAName: "A2", TeamBName: "B2"})
	require.NoError(t, reg.Remove(ctx, b.ID()))

	all, err := reg.GetAllFromStorage(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := map[string]*domain.Match{}
	for _, m := range all {
		byID[m.ID] = m
	}
	assert.False(t, byID[a.ID()].IsStopped)
	assert.True(t, byID[b.ID()].IsStopped)
}

func TestLogGatewayDecisions(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	sess := createTestMatch(t, reg, CreateRequest{})
	id := sess.ID()
	secret := sess.Match().LogSecret

	assert.True(t, reg.OnLog(id, secret, `World triggered "Round_Start"`),
		"live match with the right secret keeps sending")
	assert.False(t, reg.OnLog(id, "wrong-secret", "x"),
		"live match with the wrong secret must stop")
	assert.False(t, reg.OnLog(id, "", "x"),
		"empty secret never matches")
	assert.False(t, reg.OnLog("unknown-id", secret, "x"),
		"unknown match must stop")

	// a match still in its starting window absorbs payloads silently
	reg.mu.Lock()
	reg.starting["warming-up"] = time.Now()
	reg.mu.Unlock()
	assert.True(t, reg.OnLog("warming-up", "whatever", "x"))

	// an expired starting window no longer shields the id
	reg.mu.Lock()
	reg.starting["stale"] = time.Now().Add(-time.Hour)
	reg.mu.Unlock()
	assert.False(t, reg.OnLog("stale", "whatever", "x"))
}

func TestLogGatewayOversized(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	sess := createTestMatch(t, reg, CreateRequest{})
	id := sess.ID()
	secret := sess.Match().LogSecret

	assert.True(t, reg.OnLogOversized(id, secret),
		"an accepted sender keeps sending even when the payload is dropped")
	assert.False(t, reg.OnLogOversized(id, "wrong-secret"))
	assert.False(t, reg.OnLogOversized("unknown-id", secret))

	// the drop lands in the operational log
	m := sess.Match()
	require.NotEmpty(t, m.Log)
	assert.Contains(t, m.Log[len(m.Log)-1].Line, "oversized")

	reg.mu.Lock()
	reg.starting["warming-up"] = time.Now()
	reg.mu.Unlock()
	assert.True(t, reg.OnLogOversized("warming-up", "whatever"))
}

func TestLogGatewayAfterRemove(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	sess := createTestMatch(t, reg, CreateRequest{})
	id := sess.ID()
	secret := sess.Match().LogSecret

	require.NoError(t, reg.Remove(context.Background(), id))
	assert.False(t, reg.OnLog(id, secret, "x"),
		"a stopped match tells the server to stop even with the right secret")
}
