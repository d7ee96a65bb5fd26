package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchdeck/matchdeck/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMatchSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &domain.Match{
		ID:        "m1",
		TeamAData: domain.Team{Name: "Alpha"},
		TeamBData: domain.Team{Name: "Bravo"},
		MapPool:   []string{"de_dust2", "de_mirage"},
		State:     domain.StateLive,
		LogSecret: "s3cret",
		Maps: []domain.MatchMap{
			{Name: "de_mirage", TeamAScore: 7, TeamBScore: 5, Rounds: 12},
		},
	}
	require.NoError(t, s.SaveMatch(ctx, m))

	got, err := s.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.TeamAData.Name)
	assert.Equal(t, domain.StateLive, got.State)
	require.Len(t, got.Maps, 1)
	assert.Equal(t, 7, got.Maps[0].TeamAScore)

	// second save replaces, not duplicates
	m.State = domain.StateFinished
	require.NoError(t, s.SaveMatch(ctx, m))
	all, err := s.GetMatches(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StateFinished, all[0].State)
}

func TestGetMatchNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMatch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMatchStatsCreatesAndIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	delta := domain.PlayerMatchStats{
		SteamID: "STEAM_1:0:1", MatchID: "m1", Map: "de_dust2",
		Name: "sniper", Kills: 1, Headshots: 1, Damage: 100,
	}
	require.NoError(t, s.AddMatchStats(ctx, delta))
	require.NoError(t, s.AddMatchStats(ctx, delta))

	stats, err := s.GetMatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Kills)
	assert.Equal(t, 2, stats[0].Headshots)
	assert.Equal(t, 200, stats[0].Damage)
	assert.Equal(t, 0, stats[0].Deaths)
}

func TestAddMatchStatsConcurrentNoLostUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AddMatchStats(ctx, domain.PlayerMatchStats{
				SteamID: "STEAM_1:0:1", MatchID: "m1", Map: "de_dust2",
				Name: "sniper", Kills: 1,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := s.GetMatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, n, stats[0].Kills)
}

func TestIncrementRounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"STEAM_1:0:1", "STEAM_1:0:2"} {
		require.NoError(t, s.AddMatchStats(ctx, domain.PlayerMatchStats{
			SteamID: id, MatchID: "m1", Map: "de_nuke", Name: "p", Kills: 1,
		}))
	}
	require.NoError(t, s.IncrementRounds(ctx, "m1", 0, "de_nuke", 1, 0))
	require.NoError(t, s.IncrementRounds(ctx, "m1", 0, "de_nuke", 1, 1))

	stats, err := s.GetMatchStats(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, st := range stats {
		assert.Equal(t, 2, st.Rounds)
	}

	maps, err := s.GetMatchMaps(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, 1, maps[0].TeamAScore)
	assert.Equal(t, 1, maps[0].TeamBScore)
	assert.Equal(t, 2, maps[0].Rounds)
	assert.False(t, maps[0].Finished)
}

func TestFinishMatchMap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementRounds(ctx, "m1", 0, "de_inferno", 12, 3))
	require.NoError(t, s.FinishMatchMap(ctx, "m1", 0, "de_inferno", 13, 3))

	maps, err := s.GetMatchMaps(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, 13, maps[0].TeamAScore)
	assert.True(t, maps[0].Finished)
}

func TestGlobalStatsAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	x := domain.PlayerMatchStats{SteamID: "STEAM_1:0:1", Name: "x", Kills: 3, Deaths: 1}
	for _, key := range []struct{ match, mapName string }{
		{"m1", "de_dust2"}, {"m1", "de_nuke"}, {"m2", "de_mirage"},
	} {
		d := x
		d.MatchID, d.Map = key.match, key.mapName
		require.NoError(t, s.AddMatchStats(ctx, d))
	}

	g, err := s.GetGlobalStatsBySteamID(ctx, "STEAM_1:0:1")
	require.NoError(t, err)
	assert.Equal(t, 9, g.Kills)
	assert.Equal(t, 3, g.Deaths)
	assert.Equal(t, 6, g.Diff)

	all, err := s.GetGlobalStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = s.GetGlobalStatsBySteamID(ctx, "STEAM_1:0:9")
	assert.ErrorIs(t, err, ErrNotFound)
}
