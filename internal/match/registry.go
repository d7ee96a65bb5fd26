package match

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/election"
	"github.com/matchdeck/matchdeck/internal/gameserver"
	"github.com/matchdeck/matchdeck/internal/stats"
	"github.com/matchdeck/matchdeck/internal/storage"
)

// startingWindow bounds how long a match id counts as "starting up" for the
// log gateway after creation or revival.
const startingWindow = 5 * time.Minute

// Registry owns every live session and is the single authority on whether a
// telemetry payload is accepted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	starting map[string]time.Time

	store  *storage.Store
	ledger *stats.Ledger
	pub    Publisher
	cfg    SessionConfig

	// newCommander builds the RCON client for a game server ref; tests
	// substitute a fake.
	newCommander func(ref domain.GameServerRef) gameserver.Commander
	rnd          *rand.Rand
}

// NewRegistry builds an empty registry
func NewRegistry(store *storage.Store, ledger *stats.Ledger, pub Publisher, cfg SessionConfig) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		starting: make(map[string]time.Time),
		store:    store,
		ledger:   ledger,
		pub:      pub,
		cfg:      cfg,
		newCommander: func(ref domain.GameServerRef) gameserver.Commander {
			return gameserver.NewClient(ref.Address, ref.RconPassword)
		},
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRequest describes a new match
type CreateRequest struct {
	TeamAName   string               `json:"team_a"`
	TeamBName   string               `json:"team_b"`
	TeamAAdv    int                  `json:"team_a_advantage"`
	TeamBAdv    int                  `json:"team_b_advantage"`
	MapPool     []string             `json:"map_pool"`
	Preset      string               `json:"preset,omitempty"`
	Steps       []domain.ElectionStep `json:"election_steps,omitempty"`
	Mode        domain.MatchMode     `json:"mode,omitempty"`
	Passthrough string               `json:"passthrough,omitempty"`
	GameServer  domain.GameServerRef `json:"game_server"`
}

// Create validates the request, derives the election, persists the first
// snapshot and starts the session. The id is held in the starting window
// before the session goes live so early telemetry is tolerated.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.TeamAName == "" || req.TeamBName == "" {
		return nil, fmt.Errorf("%w: both team names required", ErrValidation)
	}
	if len(req.MapPool) == 0 {
		return nil, fmt.Errorf("%w: map pool empty", ErrValidation)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeSingle
	}
	if mode != domain.ModeSingle && mode != domain.ModeLoop {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrValidation, req.Mode)
	}

	var steps []domain.ElectionStep
	if len(req.Steps) > 0 {
		steps = cloneSteps(req.Steps)
		if err := election.ValidateSteps(steps, req.MapPool); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	} else {
		preset := req.Preset
		if preset == "" {
			preset = "BO1"
		}
		var err error
		steps, err = election.DerivePreset(preset, req.MapPool)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	m := &domain.Match{
		ID:            uuid.NewString(),
		TeamAData:     domain.Team{Name: req.TeamAName, Advantage: req.TeamAAdv},
		TeamBData:     domain.Team{Name: req.TeamBName, Advantage: req.TeamBAdv},
		MapPool:       append([]string(nil), req.MapPool...),
		ElectionSteps: steps,
		LogSecret:     uuid.NewString(),
		Token:         uuid.NewString(),
		Mode:          mode,
		State:         domain.StatePending,
		Passthrough:   req.Passthrough,
		GameServer:    req.GameServer,
		CreatedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	r.starting[m.ID] = time.Now()
	r.mu.Unlock()

	if err := r.store.SaveMatch(ctx, m); err != nil {
		r.clearStarting(m.ID)
		return nil, err
	}

	sess, err := r.startSession(m)
	if err != nil {
		r.clearStarting(m.ID)
		return nil, err
	}

	if r.pub != nil {
		_ = r.pub.Publish(domain.Event{Type: domain.EventMatchCreated, MatchID: m.ID})
	}
	return sess, nil
}

// SetSessionConfig swaps the config newly started sessions receive
func (r *Registry) SetSessionConfig(cfg SessionConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Registry) sessionConfig() SessionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Registry) startSession(m *domain.Match) (*Session, error) {
	var rcon gameserver.Commander
	if m.GameServer.Address != "" {
		rcon = r.newCommander(m.GameServer)
	}
	sess, err := newSession(m, r.store, r.ledger, r.pub, rcon, r.sessionConfig(), r.rnd)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[m.ID] = sess
	delete(r.starting, m.ID)
	r.mu.Unlock()
	return sess, nil
}

func (r *Registry) clearStarting(id string) {
	r.mu.Lock()
	delete(r.starting, id)
	r.mu.Unlock()
}

// Get returns the live session for id. It never falls back to storage.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// GetAll returns every live session
func (r *Registry) GetAll() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// GetFromStorage returns the match state for id: the live copy when a
// session exists, the durable snapshot otherwise.
func (r *Registry) GetFromStorage(ctx context.Context, id string) (*domain.Match, error) {
	if sess, ok := r.Get(id); ok {
		m := sess.Match()
		return &m, nil
	}
	return r.store.GetMatch(ctx, id)
}

// GetAllFromStorage lists every known match, live copies taking precedence
// over their snapshots.
func (r *Registry) GetAllFromStorage(ctx context.Context) ([]*domain.Match, error) {
	stored, err := r.store.GetMatches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Match, 0, len(stored))
	for _, m := range stored {
		if sess, ok := r.Get(m.ID); ok {
			live := sess.Match()
			out = append(out, &live)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Remove stops the live session and evicts it. The snapshot stays durable;
// the match can be revived later.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("match %s: %w", id, storage.ErrNotFound)
	}
	sess.Stop(ctx)
	return nil
}

// Revive rebuilds a session from the durable snapshot. Fails when the match
// is already live or was never created.
func (r *Registry) Revive(ctx context.Context, id string) (*Session, error) {
	if _, ok := r.Get(id); ok {
		return nil, fmt.Errorf("%w: match %s already live", ErrValidation, id)
	}

	m, err := r.store.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}

	m.IsStopped = false
	if m.State == domain.StateStopped {
		m.State = domain.StatePending
	}

	r.mu.Lock()
	r.starting[id] = time.Now()
	r.mu.Unlock()

	if err := r.store.SaveMatch(ctx, m); err != nil {
		r.clearStarting(id)
		return nil, err
	}
	sess, err := r.startSession(m)
	if err != nil {
		r.clearStarting(id)
		return nil, err
	}

	if r.pub != nil {
		_ = r.pub.Publish(domain.Event{Type: domain.EventMatchRevived, MatchID: id})
	}
	return sess, nil
}

// IsStartingMatch reports whether id was created or revived recently enough
// that stray telemetry should be tolerated rather than refused.
func (r *Registry) IsStartingMatch(id string) bool {
	r.mu.RLock()
	at, ok := r.starting[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Since(at) > startingWindow {
		r.clearStarting(id)
		return false
	}
	return true
}

// TokenLookup resolves a per-match API token to its live match id. Used by
// the auth layer to grant MATCH scope.
func (r *Registry) TokenLookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, sess := range r.sessions {
		if sess.Token() == token {
			return id, true
		}
	}
	return "", false
}

// OnLog is the telemetry gateway decision. Accepted payloads are handed to
// the session asynchronously; the return value is the whole contract: true
// means the sender should keep sending (200), false means it must stop (410).
func (r *Registry) OnLog(id, secret, payload string) bool {
	sess, live := r.Get(id)

	if live && sess.Accepting() {
		if !sess.SecretMatches(secret) {
			return false
		}
		sess.OnLog(payload)
		return true
	}

	// a server can start pushing before the session is registered, or keep
	// pushing briefly after a restart; swallow those without dispatching
	if r.IsStartingMatch(id) {
		return true
	}
	return false
}

// OnLogOversized makes the same decision as OnLog for a payload too large
// to read. The payload is dropped either way; a sender the table accepts
// still gets true so one oversized burst does not end the stream.
func (r *Registry) OnLogOversized(id, secret string) bool {
	sess, live := r.Get(id)

	if live && sess.Accepting() {
		if !sess.SecretMatches(secret) {
			return false
		}
		sess.appendLog("dropped oversized telemetry payload")
		return true
	}
	return r.IsStartingMatch(id)
}

// Shutdown stops every live session, flushing final snapshots
func (r *Registry) Shutdown(ctx context.Context) {
	for _, sess := range r.GetAll() {
		sess.Stop(ctx)
	}
}
