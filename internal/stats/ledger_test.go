package stats

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/logparse"
	"github.com/matchdeck/matchdeck/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewLedger(s)
}

func player(name, steamID, team string) logparse.Player {
	return logparse.Player{Name: name, SteamID: steamID, Team: team}
}

func TestOnKillCreditsBothSides(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.OnKill(ctx, "m1", "de_dust2", logparse.KillData{
		Killer:   player("x", "STEAM_1:0:1", "CT"),
		Victim:   player("y", "STEAM_1:0:2", "TERRORIST"),
		Weapon:   "awp",
		Headshot: true,
	})
	require.NoError(t, err)

	rows, err := l.MatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]domain.PlayerMatchStats{}
	for _, r := range rows {
		byID[r.SteamID] = r
	}
	assert.Equal(t, 1, byID["STEAM_1:0:1"].Kills)
	assert.Equal(t, 1, byID["STEAM_1:0:1"].Headshots)
	assert.Equal(t, 0, byID["STEAM_1:0:1"].Deaths)
	assert.Equal(t, 1, byID["STEAM_1:0:2"].Deaths)

	// global aggregates reflect the same event
	g, err := l.PlayerGlobalStats(ctx, "STEAM_1:0:1")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Kills)
	g, err = l.PlayerGlobalStats(ctx, "STEAM_1:0:2")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Deaths)
}

func TestOnKillSkipsBots(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.OnKill(ctx, "m1", "de_dust2", logparse.KillData{
		Killer: player("Cliffe", "BOT", "TERRORIST"),
		Victim: player("y", "STEAM_1:0:2", "CT"),
	})
	require.NoError(t, err)

	rows, err := l.MatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "STEAM_1:0:2", rows[0].SteamID)
}

func TestOnDamageAccumulates(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, d := range []logparse.DamageData{
		{Damage: 27},
		{Damage: 41},
		{Damage: 30, DamageArmor: 12},
	} {
		d.Attacker = player("x", "STEAM_1:0:1", "CT")
		d.Victim = player("y", "STEAM_1:0:2", "TERRORIST")
		require.NoError(t, l.OnDamage(ctx, "m1", "de_nuke", d))
	}

	rows, err := l.MatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Hits)
	// 27 + 41 + (30 health + 12 armor)
	assert.Equal(t, 110, rows[0].Damage)
}

func TestOnAssistAndOtherDeath(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.OnAssist(ctx, "m1", "de_mirage", logparse.AssistData{
		Assister: player("x", "STEAM_1:0:1", "CT"),
	}))
	require.NoError(t, l.OnOtherDeath(ctx, "m1", "de_mirage", player("y", "STEAM_1:0:2", "TERRORIST")))

	rows, err := l.MatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		if r.SteamID == "STEAM_1:0:1" {
			assert.Equal(t, 1, r.Assists)
		} else {
			assert.Equal(t, 1, r.Deaths)
		}
	}
}

func TestConcurrentKillsNoLostUpdate(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	kill := logparse.KillData{
		Killer: player("x", "STEAM_1:0:1", "CT"),
		Victim: player("y", "STEAM_1:0:2", "TERRORIST"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.OnKill(ctx, "m1", "de_dust2", kill))
		}()
	}
	wg.Wait()

	rows, err := l.MatchStats(ctx, "m1")
	require.NoError(t, err)
	byID := map[string]domain.PlayerMatchStats{}
	for _, r := range rows {
		byID[r.SteamID] = r
	}
	assert.Equal(t, 2, byID["STEAM_1:0:1"].Kills)
	assert.Equal(t, 2, byID["STEAM_1:0:2"].Deaths)
}

func TestUpdateRoundCount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	// rows appear through events first, then the round bump touches them all
	require.NoError(t, l.OnKill(ctx, "m1", "de_dust2", logparse.KillData{
		Killer: player("x", "STEAM_1:0:1", "CT"),
		Victim: player("y", "STEAM_1:0:2", "TERRORIST"),
	}))
	require.NoError(t, l.UpdateRoundCount(ctx, "m1", 0, "de_dust2", 1, 0))

	rows, err := l.MatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, 1, r.Rounds)
	}
}
