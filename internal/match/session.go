// Package match owns the live match runtime: a registry of sessions and the
// per-match state machine that consumes telemetry, drives the election,
// feeds the stats ledger and broadcasts realtime events.
package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/election"
	"github.com/matchdeck/matchdeck/internal/gameserver"
	"github.com/matchdeck/matchdeck/internal/logparse"
	"github.com/matchdeck/matchdeck/internal/stats"
	"github.com/matchdeck/matchdeck/internal/storage"
)

// ErrValidation marks malformed input on create/update operations
var ErrValidation = errors.New("validation failed")

const (
	payloadBuffer = 256
	maxLogEntries = 512
	opTimeout     = 10 * time.Second
)

// Publisher broadcasts realtime events. Satisfied by *notifier.Notifier.
type Publisher interface {
	Publish(ev domain.Event) error
}

// SessionConfig carries the runtime knobs a session needs
type SessionConfig struct {
	SayPrefix        string
	SnapshotDebounce time.Duration
}

// Session is the runtime for one match. All match state mutation happens on
// the single consumer goroutine; API goroutines only read through the lock.
type Session struct {
	mu sync.RWMutex
	m  *domain.Match

	origSteps []domain.ElectionStep
	elect     *election.Election

	// teamASide is team A's side on the active map right now; it flips at
	// halftime and every overtime half
	teamASide       domain.Side
	sidesResolved   int
	knifeWinner     domain.TeamKey
	knifeWinnerSide domain.Side

	ledger *stats.Ledger
	store  *storage.Store
	pub    Publisher
	rcon   gameserver.Commander
	cfg    SessionConfig
	rnd    *rand.Rand

	payloads chan string
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	snapMu    sync.Mutex
	snapTimer *time.Timer
}

func newSession(m *domain.Match, store *storage.Store, ledger *stats.Ledger, pub Publisher, rcon gameserver.Commander, cfg SessionConfig, rnd *rand.Rand) (*Session, error) {
	if cfg.SnapshotDebounce <= 0 {
		cfg.SnapshotDebounce = 2 * time.Second
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	elect, err := election.New(m.ElectionSteps, m.MapPool, rnd)
	if err != nil {
		return nil, err
	}

	s := &Session{
		m:         m,
		origSteps: cloneSteps(m.ElectionSteps),
		elect:     elect,
		teamASide: domain.SideCT,
		ledger:    ledger,
		store:     store,
		pub:       pub,
		rcon:      rcon,
		cfg:       cfg,
		rnd:       rnd,
		payloads:  make(chan string, payloadBuffer),
		done:      make(chan struct{}),
	}

	// revived matches resume with their election progress intact
	for _, step := range m.ElectionSteps {
		if step.Resolved && step.Type == domain.StepSide {
			s.sidesResolved++
		}
	}
	if am := m.ActiveMap(); am != nil && am.TeamAStartSide != "" {
		s.teamASide = am.TeamAStartSide
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

func cloneSteps(steps []domain.ElectionStep) []domain.ElectionStep {
	out := make([]domain.ElectionStep, len(steps))
	copy(out, steps)
	return out
}

// ID returns the match id
func (s *Session) ID() string {
	return s.m.ID
}

// Token returns the per-match API token
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m.Token
}

// SecretMatches checks the log ingestion secret
func (s *Session) SecretMatches(secret string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return secret != "" && secret == s.m.LogSecret
}

// Accepting reports whether the session still takes telemetry
func (s *Session) Accepting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.m.IsStopped && !s.m.State.Terminal()
}

// Match returns a copy of the current match state
func (s *Session) Match() domain.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.Match {
	m := *s.m
	m.MapPool = append([]string(nil), s.m.MapPool...)
	m.ElectionSteps = cloneSteps(s.m.ElectionSteps)
	m.Maps = append([]domain.MatchMap(nil), s.m.Maps...)
	m.Log = append([]domain.LogEntry(nil), s.m.Log...)
	return m
}

// OnLog hands a raw telemetry payload to the session. It never blocks the
// caller; when the buffer is full the payload is dropped and noted in the
// match log.
func (s *Session) OnLog(payload string) {
	select {
	case s.payloads <- payload:
	default:
		s.appendLog("telemetry payload dropped, buffer full")
	}
}

// run is the single consumer goroutine; it preserves arrival order
func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.payloads:
			s.process(payload)
		}
	}
}

func (s *Session) process(payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	for _, ev := range logparse.ParsePayload(payload) {
		if err := s.handleEvent(ctx, ev); err != nil {
			s.appendLog(fmt.Sprintf("event %s: %v", ev.Type, err))
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev logparse.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Type == logparse.EventTypeUnrecognized {
		return nil
	}

	// first telemetry confirms the game server
	if s.m.State == domain.StatePending {
		s.resolveAutoStepsLocked()
		if s.playableLocked() {
			s.enterLiveLocked()
		} else {
			s.m.State = domain.StateElection
			s.publishLocked(domain.EventMatchUpdated, nil)
		}
		s.scheduleSnapshot()
	}

	switch ev.Type {
	case logparse.EventTypeSay, logparse.EventTypeSayTeam:
		return s.handleChatLocked(ev)
	case logparse.EventTypeKill:
		return s.handleKillLocked(ctx, ev)
	case logparse.EventTypeDamage:
		return s.handleDamageLocked(ctx, ev)
	case logparse.EventTypeAssist:
		return s.handleAssistLocked(ctx, ev)
	case logparse.EventTypeSuicide:
		data := ev.Data.(logparse.SuicideData)
		return s.handleOtherDeathLocked(ctx, data.Player)
	case logparse.EventTypeWorldKill:
		data := ev.Data.(logparse.WorldKillData)
		return s.handleOtherDeathLocked(ctx, data.Victim)
	case logparse.EventTypeRoundEnd:
		return s.handleRoundEndLocked(ctx, ev)
	case logparse.EventTypeMatchStart:
		return s.handleMatchStartLocked(ev)
	case logparse.EventTypeGameOver:
		return s.handleGameOverLocked(ctx, ev)
	}
	return nil
}

// --- election ---

// teamOfSideLocked maps an in-game side onto team A/B given the current
// side assignment.
func (s *Session) teamOfSideLocked(side domain.Side) domain.TeamKey {
	if side == s.teamASide {
		return domain.TeamA
	}
	return domain.TeamB
}

func (s *Session) teamOfPlayerLocked(p logparse.Player) (domain.TeamKey, bool) {
	side, ok := p.Side()
	if !ok {
		return "", false
	}
	return s.teamOfSideLocked(side), true
}

func (s *Session) handleChatLocked(ev logparse.Event) error {
	data := ev.Data.(logparse.ChatData)
	s.publishLocked(domain.EventChat, domain.ChatEvent{
		Player:   data.Player.Name,
		SteamID:  data.Player.SteamID,
		TeamChat: ev.Type == logparse.EventTypeSayTeam,
		Message:  data.Message,
	})

	if s.m.State != domain.StateElection {
		return nil
	}
	team, ok := s.teamOfPlayerLocked(data.Player)
	if !ok {
		return nil
	}

	fields := strings.Fields(strings.ToLower(strings.TrimSpace(data.Message)))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], ".") {
		return nil
	}

	var (
		step *domain.ElectionStep
		err  error
	)
	switch fields[0] {
	case ".ban":
		if len(fields) < 2 {
			return nil
		}
		step, err = s.elect.Ban(team, fields[1])
	case ".pick":
		if len(fields) < 2 {
			return nil
		}
		step, err = s.elect.Pick(team, fields[1])
	case ".ct":
		step, err = s.resolveSideLocked(team, domain.SideCT)
	case ".t":
		step, err = s.resolveSideLocked(team, domain.SideT)
	case ".stay":
		step, err = s.resolveKnifeChoiceLocked(team, false)
	case ".switch":
		step, err = s.resolveKnifeChoiceLocked(team, true)
	default:
		return nil
	}
	if err != nil {
		s.appendLogLocked(fmt.Sprintf("election input %q from %s rejected: %v", fields[0], data.Player.Name, err))
		return nil
	}
	s.applyResolvedLocked(step)
	s.resolveAutoStepsLocked()
	s.scheduleSnapshot()
	return nil
}

// resolveSideLocked handles an explicit side choice: a knife winner choosing
// a concrete side, or a SIDE_PICK step.
func (s *Session) resolveSideLocked(team domain.TeamKey, side domain.Side) (*domain.ElectionStep, error) {
	if s.knifeWinner != "" {
		if team != s.knifeWinner {
			return nil, fmt.Errorf("side choice belongs to the knife winner")
		}
		step, err := s.elect.KnifeDecision(team, side)
		if err == nil {
			s.knifeWinner = ""
		}
		return step, err
	}
	return s.elect.PickSide(team, side)
}

func (s *Session) resolveKnifeChoiceLocked(team domain.TeamKey, swap bool) (*domain.ElectionStep, error) {
	if s.knifeWinner == "" {
		return nil, fmt.Errorf("no knife result pending")
	}
	if team != s.knifeWinner {
		return nil, fmt.Errorf("side choice belongs to the knife winner")
	}
	side := s.knifeWinnerSide
	if swap {
		side = side.Other()
	}
	step, err := s.elect.KnifeDecision(team, side)
	if err == nil {
		s.knifeWinner = ""
	}
	return step, err
}

func (s *Session) resolveAutoStepsLocked() {
	for {
		step, err := s.elect.ResolveAuto()
		if err != nil || step == nil {
			return
		}
		s.applyResolvedLocked(step)
	}
}

// applyResolvedLocked folds a resolved step into the match: picked maps
// become MatchMaps, side outcomes attach to the newest map.
func (s *Session) applyResolvedLocked(step *domain.ElectionStep) {
	if step.Type == domain.StepMap && step.Mode != domain.ModeBan {
		s.m.Maps = append(s.m.Maps, domain.MatchMap{
			Name:       step.Map,
			TeamAScore: s.m.TeamAData.Advantage,
			TeamBScore: s.m.TeamBData.Advantage,
		})
		s.sayLocked(fmt.Sprintf("map %d will be %s", len(s.m.Maps), step.Map))
	}
	if step.Type == domain.StepMap && step.Mode == domain.ModeBan {
		s.sayLocked(fmt.Sprintf("%s banned %s", s.m.Team(step.Who).Name, step.Map))
	}
	if step.Type == domain.StepSide && len(s.m.Maps) > 0 {
		s.m.Maps[len(s.m.Maps)-1].TeamAStartSide = step.Side
		s.sidesResolved++
	}
	s.publishLocked(domain.EventElectionStep, domain.ElectionStepEvent{
		Index: s.stepIndexLocked(step),
		Step:  *step,
	})

	if s.m.State == domain.StateElection && s.playableLocked() {
		s.enterLiveLocked()
	}
}

// stepIndexLocked locates a resolved step within the match's step list.
// The election resolves steps in place, so the pointer is into the slice.
func (s *Session) stepIndexLocked(step *domain.ElectionStep) int {
	for i := range s.m.ElectionSteps {
		if &s.m.ElectionSteps[i] == step {
			return i
		}
	}
	return -1
}

// playableLocked reports whether the current map has both its name and its
// starting sides settled.
func (s *Session) playableLocked() bool {
	return s.m.CurrentMap < len(s.m.Maps) && s.m.CurrentMap < s.sidesResolved
}

func (s *Session) enterLiveLocked() {
	s.m.State = domain.StateLive
	s.teamASide = s.m.Maps[s.m.CurrentMap].TeamAStartSide
	s.publishLocked(domain.EventMatchUpdated, nil)
	s.sayLocked(fmt.Sprintf("%s is live, good luck", s.m.Maps[s.m.CurrentMap].Name))
}

// --- live play ---

func (s *Session) activeMapNameLocked() string {
	if am := s.m.ActiveMap(); am != nil {
		return am.Name
	}
	return ""
}

func (s *Session) handleKillLocked(ctx context.Context, ev logparse.Event) error {
	if s.m.State != domain.StateLive {
		return nil
	}
	data := ev.Data.(logparse.KillData)
	s.publishLocked(domain.EventKill, domain.KillEvent{
		Map:      s.activeMapNameLocked(),
		Killer:   data.Killer.Name,
		Victim:   data.Victim.Name,
		Weapon:   data.Weapon,
		Headshot: data.Headshot,
	})
	return s.ledger.OnKill(ctx, s.m.ID, s.activeMapNameLocked(), data)
}

func (s *Session) handleDamageLocked(ctx context.Context, ev logparse.Event) error {
	if s.m.State != domain.StateLive {
		return nil
	}
	return s.ledger.OnDamage(ctx, s.m.ID, s.activeMapNameLocked(), ev.Data.(logparse.DamageData))
}

func (s *Session) handleAssistLocked(ctx context.Context, ev logparse.Event) error {
	if s.m.State != domain.StateLive {
		return nil
	}
	return s.ledger.OnAssist(ctx, s.m.ID, s.activeMapNameLocked(), ev.Data.(logparse.AssistData))
}

func (s *Session) handleOtherDeathLocked(ctx context.Context, victim logparse.Player) error {
	if s.m.State != domain.StateLive {
		return nil
	}
	return s.ledger.OnOtherDeath(ctx, s.m.ID, s.activeMapNameLocked(), victim)
}

func (s *Session) handleRoundEndLocked(ctx context.Context, ev logparse.Event) error {
	data := ev.Data.(logparse.RoundEndData)

	// during the election a round end is the knife result
	if s.m.State == domain.StateElection {
		if _, step := s.elect.Current(); step != nil && step.Mode == domain.ModeKnife {
			s.knifeWinner = s.teamOfSideLocked(data.WinnerSide)
			s.knifeWinnerSide = data.WinnerSide
			knifeMap := ""
			if len(s.m.Maps) > 0 {
				knifeMap = s.m.Maps[len(s.m.Maps)-1].Name
			}
			s.publishLocked(domain.EventKnifeEnd, domain.KnifeEndEvent{
				Map:    knifeMap,
				Winner: s.knifeWinner,
			})
			s.sayLocked(fmt.Sprintf("%s won the knife round, .stay or .switch", s.m.Team(s.knifeWinner).Name))
			s.scheduleSnapshot()
		}
		return nil
	}

	if s.m.State != domain.StateLive {
		return nil
	}
	am := s.m.ActiveMap()
	if am == nil {
		return nil
	}

	winner := s.teamOfSideLocked(data.WinnerSide)
	if winner == domain.TeamA {
		am.TeamAScore++
	} else {
		am.TeamBScore++
	}
	am.Rounds++

	// sides swap at halftime and every overtime half
	s.teamASide = teamASideForRound(am.TeamAStartSide, am.Rounds)

	err := s.ledger.UpdateRoundCount(ctx, s.m.ID, s.m.CurrentMap, am.Name, am.TeamAScore, am.TeamBScore)
	s.publishLocked(domain.EventRoundEnd, domain.RoundEndEvent{
		Map:        am.Name,
		Winner:     winner,
		TeamAScore: am.TeamAScore,
		TeamBScore: am.TeamBScore,
	})
	s.scheduleSnapshot()
	return err
}

// teamASideForRound returns the side team A plays the round after
// roundsPlayed completed rounds. Regulation halves are 12 rounds, overtime
// halves are 3.
func teamASideForRound(start domain.Side, roundsPlayed int) domain.Side {
	var half int
	switch {
	case roundsPlayed < 12:
		half = 0
	case roundsPlayed < 24:
		half = 1
	default:
		half = 2 + (roundsPlayed-24)/3
	}
	if half%2 == 0 {
		return start
	}
	return start.Other()
}

func (s *Session) handleMatchStartLocked(ev logparse.Event) error {
	if s.m.State != domain.StateLive {
		return nil
	}
	am := s.m.ActiveMap()
	if am == nil {
		return nil
	}
	if am.StartedAt == nil {
		now := ev.Timestamp
		am.StartedAt = &now
	}
	s.teamASide = am.TeamAStartSide
	s.publishLocked(domain.EventMapStart, domain.MapStartEvent{
		Map:       am.Name,
		MapNumber: s.m.CurrentMap + 1,
	})
	s.scheduleSnapshot()
	return nil
}

func (s *Session) handleGameOverLocked(ctx context.Context, ev logparse.Event) error {
	if s.m.State != domain.StateLive {
		return nil
	}
	am := s.m.ActiveMap()
	if am == nil {
		return nil
	}

	am.Finished = true
	now := ev.Timestamp
	am.EndedAt = &now
	s.m.State = domain.StateMapComplete

	if err := s.store.FinishMatchMap(ctx, s.m.ID, s.m.CurrentMap, am.Name, am.TeamAScore, am.TeamBScore); err != nil {
		s.appendLogLocked(fmt.Sprintf("recording map result: %v", err))
	}
	s.publishLocked(domain.EventMapEnd, domain.MapEndEvent{
		Map:        am.Name,
		TeamAScore: am.TeamAScore,
		TeamBScore: am.TeamBScore,
	})

	s.advanceLocked()
	s.scheduleSnapshot()
	return nil
}

// advanceLocked moves past a completed map: next map, next election stage,
// loop restart or the end of the match.
func (s *Session) advanceLocked() {
	if s.m.CurrentMap+1 < len(s.m.Maps) || !s.elect.Done() {
		s.m.CurrentMap++
		if s.playableLocked() {
			s.enterLiveLocked()
		} else {
			s.m.State = domain.StateElection
			s.publishLocked(domain.EventMatchUpdated, nil)
		}
		return
	}

	if s.m.Mode == domain.ModeLoop {
		s.resetForLoopLocked()
		return
	}

	s.m.State = domain.StateFinished
	var winner domain.TeamKey
	switch a, b := s.mapsWonLocked(domain.TeamA), s.mapsWonLocked(domain.TeamB); {
	case a > b:
		winner = domain.TeamA
	case b > a:
		winner = domain.TeamB
	}
	s.publishLocked(domain.EventMatchEnd, domain.MatchEndEvent{Winner: winner})
	s.sayLocked("match finished, thanks for playing")
}

func (s *Session) mapsWonLocked(team domain.TeamKey) int {
	won := 0
	for _, mm := range s.m.Maps {
		if !mm.Finished {
			continue
		}
		if (team == domain.TeamA && mm.TeamAScore > mm.TeamBScore) ||
			(team == domain.TeamB && mm.TeamBScore > mm.TeamAScore) {
			won++
		}
	}
	return won
}

// resetForLoopLocked rewinds the match for another run of the same election
func (s *Session) resetForLoopLocked() {
	s.m.ElectionSteps = cloneSteps(s.origSteps)
	s.m.Maps = nil
	s.m.CurrentMap = 0
	s.m.State = domain.StatePending
	s.sidesResolved = 0
	s.knifeWinner = ""
	s.teamASide = domain.SideCT

	elect, err := election.New(s.m.ElectionSteps, s.m.MapPool, s.rnd)
	if err != nil {
		s.appendLogLocked(fmt.Sprintf("loop restart: %v", err))
		s.m.State = domain.StateFinished
		return
	}
	s.elect = elect
	s.publishLocked(domain.EventMatchUpdated, nil)
}

// --- public operations ---

// UpdateRequest carries the fields a partial edit may touch
type UpdateRequest struct {
	TeamAName  *string
	TeamBName  *string
	Mode       *domain.MatchMode
	GameServer *domain.GameServerRef
}

// Update applies a field-validated partial edit
func (s *Session) Update(req UpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.TeamAName != nil && *req.TeamAName == "" {
		return fmt.Errorf("%w: team A name empty", ErrValidation)
	}
	if req.TeamBName != nil && *req.TeamBName == "" {
		return fmt.Errorf("%w: team B name empty", ErrValidation)
	}
	if req.Mode != nil && *req.Mode != domain.ModeSingle && *req.Mode != domain.ModeLoop {
		return fmt.Errorf("%w: unknown mode %q", ErrValidation, *req.Mode)
	}
	if req.GameServer != nil && req.GameServer.Address == "" {
		return fmt.Errorf("%w: game server address empty", ErrValidation)
	}

	if req.TeamAName != nil {
		s.m.TeamAData.Name = *req.TeamAName
	}
	if req.TeamBName != nil {
		s.m.TeamBData.Name = *req.TeamBName
	}
	if req.Mode != nil {
		s.m.Mode = *req.Mode
	}
	if req.GameServer != nil {
		s.m.GameServer = *req.GameServer
		s.rcon = gameserver.NewClient(req.GameServer.Address, req.GameServer.RconPassword)
	}

	s.publishLocked(domain.EventMatchUpdated, nil)
	s.scheduleSnapshot()
	return nil
}

// MapUpdateRequest carries the fields a per-map edit may touch
type MapUpdateRequest struct {
	Name       *string
	TeamAScore *int
	TeamBScore *int
}

// UpdateMap applies an operator edit to one of the match's maps, addressed
// by its position in play order.
func (s *Session) UpdateMap(number int, req MapUpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number < 0 || number >= len(s.m.Maps) {
		return fmt.Errorf("map %d: %w", number, storage.ErrNotFound)
	}
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("%w: map name empty", ErrValidation)
	}
	if req.TeamAScore != nil && *req.TeamAScore < 0 {
		return fmt.Errorf("%w: negative team A score", ErrValidation)
	}
	if req.TeamBScore != nil && *req.TeamBScore < 0 {
		return fmt.Errorf("%w: negative team B score", ErrValidation)
	}

	mm := &s.m.Maps[number]
	if req.Name != nil {
		mm.Name = *req.Name
	}
	if req.TeamAScore != nil {
		mm.TeamAScore = *req.TeamAScore
	}
	if req.TeamBScore != nil {
		mm.TeamBScore = *req.TeamBScore
	}

	s.publishLocked(domain.EventMatchUpdated, nil)
	s.scheduleSnapshot()
	return nil
}

// RoundBackups lists the match's round backup files, newest first, limited
// to count when count > 0.
func (s *Session) RoundBackups(ctx context.Context, count int) ([]string, int, error) {
	s.mu.RLock()
	rcon := s.rcon
	s.mu.RUnlock()
	if rcon == nil {
		return nil, 0, fmt.Errorf("%w: no game server configured", ErrValidation)
	}

	files, err := gameserver.ListBackupFiles(ctx, rcon)
	if err != nil {
		return nil, 0, err
	}
	total := len(files)
	if count > 0 && count < total {
		files = files[:count]
	}
	return files, total, nil
}

// LoadRoundBackup asks the game server to restore a backup. Returns false
// when the file is not among the match's known backups or the restore fails.
func (s *Session) LoadRoundBackup(ctx context.Context, fileName string) bool {
	files, _, err := s.RoundBackups(ctx, 0)
	if err != nil {
		return false
	}
	known := false
	for _, f := range files {
		if f == fileName {
			known = true
			break
		}
	}
	if !known {
		return false
	}

	s.mu.RLock()
	rcon := s.rcon
	s.mu.RUnlock()
	if err := gameserver.RestoreBackup(ctx, rcon, fileName); err != nil {
		s.appendLog(fmt.Sprintf("restoring backup %s: %v", fileName, err))
		return false
	}
	return true
}

// ExecRcon runs an arbitrary console command on the match's game server
func (s *Session) ExecRcon(ctx context.Context, command string) (string, error) {
	s.mu.RLock()
	rcon := s.rcon
	s.mu.RUnlock()
	if rcon == nil {
		return "", fmt.Errorf("%w: no game server configured", ErrValidation)
	}
	return rcon.Exec(ctx, command)
}

// Stop ends this session instance. The snapshot stays durable; a revived
// match gets a fresh session.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		s.m.IsStopped = true
		if !s.m.State.Terminal() {
			s.m.State = domain.StateStopped
		}
		s.publishLocked(domain.EventMatchStop, nil)
		m := s.snapshotLocked()
		s.mu.Unlock()

		s.cancelSnapshot()
		if err := s.store.SaveMatch(ctx, &m); err != nil {
			log.Printf("match %s: final snapshot: %v", m.ID, err)
		}
	})
}

// --- housekeeping ---

func (s *Session) appendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(line)
}

func (s *Session) appendLogLocked(line string) {
	s.m.Log = append(s.m.Log, domain.LogEntry{At: time.Now().UTC(), Line: line})
	if len(s.m.Log) > maxLogEntries {
		s.m.Log = s.m.Log[len(s.m.Log)-maxLogEntries:]
	}
}

func (s *Session) publishLocked(eventType string, data interface{}) {
	if s.pub == nil {
		return
	}
	err := s.pub.Publish(domain.Event{
		Type:    eventType,
		MatchID: s.m.ID,
		Data:    data,
	})
	if err != nil {
		log.Printf("match %s: publishing %s: %v", s.m.ID, eventType, err)
	}
}

// sayLocked announces through the game server, best effort
func (s *Session) sayLocked(message string) {
	if s.rcon == nil {
		return
	}
	rcon, prefix := s.rcon, s.cfg.SayPrefix
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := gameserver.Say(ctx, rcon, prefix, message); err != nil {
			s.appendLog(fmt.Sprintf("say: %v", err))
		}
	}()
}

// scheduleSnapshot debounces snapshot writes: at most one write per
// debounce window, the last state wins.
func (s *Session) scheduleSnapshot() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snapTimer != nil {
		return
	}
	s.snapTimer = time.AfterFunc(s.cfg.SnapshotDebounce, s.flushSnapshot)
}

func (s *Session) cancelSnapshot() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snapTimer != nil {
		s.snapTimer.Stop()
		s.snapTimer = nil
	}
}

func (s *Session) flushSnapshot() {
	s.snapMu.Lock()
	s.snapTimer = nil
	s.snapMu.Unlock()

	m := s.Match()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.store.SaveMatch(ctx, &m); err != nil {
		s.appendLog(fmt.Sprintf("snapshot: %v", err))
	}
}
