// Package stats maintains the per-player counters fed by telemetry events.
// Every mutation is an atomic SQL increment, so two events for the same
// player landing at the same time both stick.
package stats

import (
	"context"

	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/logparse"
	"github.com/matchdeck/matchdeck/internal/storage"
)

// Ledger applies telemetry events to the relational stats store
type Ledger struct {
	store *storage.Store
}

// NewLedger creates a ledger over the given store
func NewLedger(store *storage.Store) *Ledger {
	return &Ledger{store: store}
}

// trackable filters out bots, GOTV and console entries
func trackable(p logparse.Player) bool {
	return p.SteamID != "" && !p.IsBot()
}

// OnKill credits the killer with a kill (and a headshot when flagged) and
// the victim with a death, on both the match and global aggregates.
func (l *Ledger) OnKill(ctx context.Context, matchID, mapName string, data logparse.KillData) error {
	if trackable(data.Killer) {
		headshots := 0
		if data.Headshot {
			headshots = 1
		}
		err := l.store.AddMatchStats(ctx, domain.PlayerMatchStats{
			SteamID:   data.Killer.SteamID,
			MatchID:   matchID,
			Map:       mapName,
			Name:      data.Killer.Name,
			Kills:     1,
			Headshots: headshots,
		})
		if err != nil {
			return err
		}
	}
	if trackable(data.Victim) {
		return l.store.AddMatchStats(ctx, domain.PlayerMatchStats{
			SteamID: data.Victim.SteamID,
			MatchID: matchID,
			Map:     mapName,
			Name:    data.Victim.Name,
			Deaths:  1,
		})
	}
	return nil
}

// OnDamage credits the attacker with a hit and the dealt damage, health
// and armor combined.
func (l *Ledger) OnDamage(ctx context.Context, matchID, mapName string, data logparse.DamageData) error {
	if !trackable(data.Attacker) {
		return nil
	}
	return l.store.AddMatchStats(ctx, domain.PlayerMatchStats{
		SteamID: data.Attacker.SteamID,
		MatchID: matchID,
		Map:     mapName,
		Name:    data.Attacker.Name,
		Hits:    1,
		Damage:  data.Damage + data.DamageArmor,
	})
}

// OnAssist credits the assister with an assist
func (l *Ledger) OnAssist(ctx context.Context, matchID, mapName string, data logparse.AssistData) error {
	if !trackable(data.Assister) {
		return nil
	}
	return l.store.AddMatchStats(ctx, domain.PlayerMatchStats{
		SteamID: data.Assister.SteamID,
		MatchID: matchID,
		Map:     mapName,
		Name:    data.Assister.Name,
		Assists: 1,
	})
}

// OnOtherDeath records a death with no attacker (suicide, bomb, fall)
func (l *Ledger) OnOtherDeath(ctx context.Context, matchID, mapName string, victim logparse.Player) error {
	if !trackable(victim) {
		return nil
	}
	return l.store.AddMatchStats(ctx, domain.PlayerMatchStats{
		SteamID: victim.SteamID,
		MatchID: matchID,
		Map:     mapName,
		Name:    victim.Name,
		Deaths:  1,
	})
}

// UpdateRoundCount bumps the round counter of every player seen on this
// match and map, and writes the map's score in the same transaction.
func (l *Ledger) UpdateRoundCount(ctx context.Context, matchID string, position int, mapName string, teamAScore, teamBScore int) error {
	return l.store.IncrementRounds(ctx, matchID, position, mapName, teamAScore, teamBScore)
}

// MatchStats returns the per-player rows for one match
func (l *Ledger) MatchStats(ctx context.Context, matchID string) ([]domain.PlayerMatchStats, error) {
	return l.store.GetMatchStats(ctx, matchID)
}

// GlobalStats returns every player's aggregate across all matches
func (l *Ledger) GlobalStats(ctx context.Context) ([]domain.PlayerGlobalStats, error) {
	return l.store.GetGlobalStats(ctx)
}

// PlayerGlobalStats returns one player's aggregate across all matches
func (l *Ledger) PlayerGlobalStats(ctx context.Context, steamID string) (*domain.PlayerGlobalStats, error) {
	return l.store.GetGlobalStatsBySteamID(ctx, steamID)
}
