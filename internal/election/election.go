// Package election implements the map/side election engine: deriving the
// ordered ban/pick/side step sequence from a preset and resolving each step
// strictly in order as inputs arrive.
package election

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/matchdeck/matchdeck/internal/domain"
)

var (
	// ErrInvalidPreset means the preset asks for more maps than the pool holds
	ErrInvalidPreset = errors.New("invalid election preset")
	// ErrStepSequence means an input arrived for a step that is not the current one
	ErrStepSequence = errors.New("election step out of order")
	// ErrUnknownMap means a ban/pick named a map not in the remaining pool
	ErrUnknownMap = errors.New("map not in remaining pool")
	// ErrComplete means all steps are already resolved
	ErrComplete = errors.New("election already complete")
)

// DerivePreset expands a best-of-N preset over a map pool into the ordered
// step sequence: (|pool| - N) bans alternating the deciding team starting with
// team A, then N (random map pick, knife side pick) pairs.
func DerivePreset(preset string, pool []string) ([]domain.ElectionStep, error) {
	n, err := parseBestOf(preset)
	if err != nil {
		return nil, err
	}
	if n > len(pool) {
		return nil, fmt.Errorf("%w: %s needs %d maps, pool has %d", ErrInvalidPreset, preset, n, len(pool))
	}

	var steps []domain.ElectionStep
	who := domain.TeamA
	for i := 0; i < len(pool)-n; i++ {
		steps = append(steps, domain.ElectionStep{
			Type: domain.StepMap,
			Mode: domain.ModeBan,
			Who:  who,
		})
		who = who.Other()
	}
	for i := 0; i < n; i++ {
		steps = append(steps,
			domain.ElectionStep{Type: domain.StepMap, Mode: domain.ModeRandomPick},
			domain.ElectionStep{Type: domain.StepSide, Mode: domain.ModeKnife},
		)
	}
	return steps, nil
}

// parseBestOf parses "BO1", "bo3", ... into the number of maps played
func parseBestOf(preset string) (int, error) {
	p := strings.ToUpper(strings.TrimSpace(preset))
	if !strings.HasPrefix(p, "BO") {
		return 0, fmt.Errorf("%w: unknown preset %q", ErrInvalidPreset, preset)
	}
	n, err := strconv.Atoi(p[2:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: unknown preset %q", ErrInvalidPreset, preset)
	}
	return n, nil
}

// ValidateSteps checks an explicit step list against a pool: the number of
// map-consuming steps (bans + picks) must not exceed the pool size, and every
// fixed map must be in the pool.
func ValidateSteps(steps []domain.ElectionStep, pool []string) error {
	mapSteps := 0
	for _, s := range steps {
		if s.Type != domain.StepMap {
			continue
		}
		mapSteps++
		if s.Mode == domain.ModeFixedMap && !contains(pool, s.Fixed) {
			return fmt.Errorf("%w: fixed map %q", ErrUnknownMap, s.Fixed)
		}
	}
	if mapSteps > len(pool) {
		return fmt.Errorf("%w: %d map steps for pool of %d", ErrInvalidPreset, mapSteps, len(pool))
	}
	return nil
}

// Election walks a step sequence over a map pool. It mutates the steps slice
// in place so the owning Match sees resolved outcomes; it is not safe for
// concurrent use (the match session serializes access).
type Election struct {
	steps     []domain.ElectionStep
	remaining []string
	next      int
	rnd       *rand.Rand
}

// New builds an election over steps and pool. Already-resolved steps (from a
// revived snapshot) are replayed to rebuild the remaining pool.
func New(steps []domain.ElectionStep, pool []string, rnd *rand.Rand) (*Election, error) {
	if err := ValidateSteps(steps, pool); err != nil {
		return nil, err
	}
	e := &Election{
		steps:     steps,
		remaining: append([]string(nil), pool...),
		rnd:       rnd,
	}
	for i := range steps {
		if !steps[i].Resolved {
			break
		}
		if steps[i].Type == domain.StepMap {
			e.removeRemaining(steps[i].Map)
		}
		e.next = i + 1
	}
	return e, nil
}

// Done reports whether every step is resolved
func (e *Election) Done() bool {
	return e.next >= len(e.steps)
}

// Current returns the index and step awaiting resolution
func (e *Election) Current() (int, *domain.ElectionStep) {
	if e.Done() {
		return -1, nil
	}
	return e.next, &e.steps[e.next]
}

// Remaining returns the maps still in the pool
func (e *Election) Remaining() []string {
	return append([]string(nil), e.remaining...)
}

// Ban resolves the current step as a ban by team of mapName
func (e *Election) Ban(team domain.TeamKey, mapName string) (*domain.ElectionStep, error) {
	step, err := e.expect(domain.StepMap, domain.ModeBan, team)
	if err != nil {
		return nil, err
	}
	if !e.removeRemaining(mapName) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, mapName)
	}
	step.Resolved = true
	step.Map = mapName
	e.next++
	return step, nil
}

// Pick resolves the current step as a named pick by team of mapName
func (e *Election) Pick(team domain.TeamKey, mapName string) (*domain.ElectionStep, error) {
	step, err := e.expect(domain.StepMap, domain.ModePick, team)
	if err != nil {
		return nil, err
	}
	if !e.removeRemaining(mapName) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, mapName)
	}
	step.Resolved = true
	step.Map = mapName
	e.next++
	return step, nil
}

// PickSide resolves the current side step as an explicit choice by team:
// side is the side the choosing team will start on.
func (e *Election) PickSide(team domain.TeamKey, side domain.Side) (*domain.ElectionStep, error) {
	step, err := e.expect(domain.StepSide, domain.ModeSidePick, team)
	if err != nil {
		return nil, err
	}
	step.Resolved = true
	step.Side = teamASide(team, side)
	e.next++
	return step, nil
}

// KnifeDecision resolves the current knife side step: winner is the knife
// round winner, side the side the winner chose to start on.
func (e *Election) KnifeDecision(winner domain.TeamKey, side domain.Side) (*domain.ElectionStep, error) {
	step, err := e.expect(domain.StepSide, domain.ModeKnife, "")
	if err != nil {
		return nil, err
	}
	step.Resolved = true
	step.Side = teamASide(winner, side)
	e.next++
	return step, nil
}

// ResolveAuto resolves the current step if it needs no external input
// (random pick, fixed map, fixed side). Returns nil when the current step
// requires an input, or ErrComplete when nothing is left.
func (e *Election) ResolveAuto() (*domain.ElectionStep, error) {
	if e.Done() {
		return nil, ErrComplete
	}
	step := &e.steps[e.next]
	switch step.Mode {
	case domain.ModeRandomPick:
		if len(e.remaining) == 0 {
			return nil, fmt.Errorf("%w: pool exhausted", ErrInvalidPreset)
		}
		idx := 0
		if e.rnd != nil {
			idx = e.rnd.Intn(len(e.remaining))
		}
		step.Map = e.remaining[idx]
		e.removeRemaining(step.Map)
	case domain.ModeFixedMap:
		if !e.removeRemaining(step.Fixed) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMap, step.Fixed)
		}
		step.Map = step.Fixed
	case domain.ModeFixedSide:
		step.Side = domain.Side(step.Fixed)
	default:
		return nil, nil
	}
	step.Resolved = true
	e.next++
	return step, nil
}

// expect validates that the current step matches the given type, mode and
// acting team. Any mismatch is a step-sequence violation: the match state is
// left unchanged and the caller rejects the input.
func (e *Election) expect(t domain.StepType, mode domain.StepMode, who domain.TeamKey) (*domain.ElectionStep, error) {
	if e.Done() {
		return nil, ErrComplete
	}
	step := &e.steps[e.next]
	if step.Type != t || step.Mode != mode {
		return nil, fmt.Errorf("%w: step %d is %s/%s", ErrStepSequence, e.next, step.Type, step.Mode)
	}
	if who != "" && step.Who != "" && step.Who != who {
		return nil, fmt.Errorf("%w: step %d decided by %s", ErrStepSequence, e.next, step.Who)
	}
	return step, nil
}

// teamASide normalizes a (team, side) choice into the side team A starts on
func teamASide(team domain.TeamKey, side domain.Side) domain.Side {
	if team == domain.TeamA {
		return side
	}
	return side.Other()
}

func (e *Election) removeRemaining(name string) bool {
	for i, m := range e.remaining {
		if m == name {
			e.remaining = append(e.remaining[:i], e.remaining[i+1:]...)
			return true
		}
	}
	return false
}

func contains(pool []string, name string) bool {
	for _, m := range pool {
		if m == name {
			return true
		}
	}
	return false
}
