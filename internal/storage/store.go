// Package storage persists match state and the stats ledger in a single
// sqlite database. Match snapshots are compressed JSON blobs; stats live in
// relational tables and are only ever mutated through atomic increments.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/matchdeck/matchdeck/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// --- Match snapshot methods ---

// SaveMatch writes the full match state as a compressed snapshot. One row per
// match; a later save replaces the earlier one.
func (s *Store) SaveMatch(ctx context.Context, m *domain.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding match %s: %w", m.ID, err)
	}
	blob := s.enc.EncodeAll(raw, nil)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_snapshots (match_id, state, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, m.ID, string(m.State), blob, formatTimestamp(time.Now()))
	return err
}

// GetMatch loads a match snapshot by id
func (s *Store) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM match_snapshots WHERE match_id = ?
	`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.decodeMatch(blob)
}

// GetMatches loads all stored match snapshots, most recently updated first
func (s *Store) GetMatches(ctx context.Context) ([]*domain.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM match_snapshots ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*domain.Match
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		m, err := s.decodeMatch(blob)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Store) decodeMatch(blob []byte) (*domain.Match, error) {
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	var m domain.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &m, nil
}

// --- Stats ledger methods ---

// AddMatchStats applies a counter delta for one (player, match, map) tuple.
// The row is created on first touch; the increment happens inside the SQL
// statement so concurrent deltas for the same player never lose an update.
func (s *Store) AddMatchStats(ctx context.Context, d domain.PlayerMatchStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := touchPlayer(ctx, tx, d.SteamID, d.Name); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO player_match_stats (
			steam_id, match_id, map, name, kills, deaths, assists, hits, headshots, rounds, damage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(steam_id, match_id, map) DO UPDATE SET
			name = excluded.name,
			kills = kills + excluded.kills,
			deaths = deaths + excluded.deaths,
			assists = assists + excluded.assists,
			hits = hits + excluded.hits,
			headshots = headshots + excluded.headshots,
			rounds = rounds + excluded.rounds,
			damage = damage + excluded.damage
	`, d.SteamID, d.MatchID, d.Map, d.Name, d.Kills, d.Deaths, d.Assists, d.Hits, d.Headshots, d.Rounds, d.Damage)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// IncrementRounds bumps the round counter for every player with a row for
// this match and map, and writes the map's current score in the same
// transaction, so a concurrent reader never sees the score without the round
// increments or vice versa.
func (s *Store) IncrementRounds(ctx context.Context, matchID string, position int, mapName string, teamAScore, teamBScore int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE player_match_stats SET rounds = rounds + 1
		WHERE match_id = ? AND map = ?
	`, matchID, mapName)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO match_maps (match_id, position, map, team_a_score, team_b_score, rounds)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(match_id, position) DO UPDATE SET
			map = excluded.map,
			team_a_score = excluded.team_a_score,
			team_b_score = excluded.team_b_score,
			rounds = rounds + 1
	`, matchID, position, mapName, teamAScore, teamBScore)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// FinishMatchMap records a map's final score and marks it finished
func (s *Store) FinishMatchMap(ctx context.Context, matchID string, position int, mapName string, teamAScore, teamBScore int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_maps (match_id, position, map, team_a_score, team_b_score, finished)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(match_id, position) DO UPDATE SET
			map = excluded.map,
			team_a_score = excluded.team_a_score,
			team_b_score = excluded.team_b_score,
			finished = 1
	`, matchID, position, mapName, teamAScore, teamBScore)
	return err
}

// touchPlayer upserts the players row, keeping the latest name and last_seen
func touchPlayer(ctx context.Context, tx *sql.Tx, steamID, name string) error {
	now := formatTimestamp(time.Now())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO players (steam_id, name, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(steam_id) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen
	`, steamID, name, now, now)
	return err
}

// GetMatchStats returns all per-player rows for a match, every map included
func (s *Store) GetMatchStats(ctx context.Context, matchID string) ([]domain.PlayerMatchStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT steam_id, match_id, map, name, kills, deaths, assists, hits, headshots, rounds, damage
		FROM player_match_stats
		WHERE match_id = ?
		ORDER BY map, kills DESC
	`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.PlayerMatchStats
	for rows.Next() {
		var d domain.PlayerMatchStats
		if err := rows.Scan(&d.SteamID, &d.MatchID, &d.Map, &d.Name, &d.Kills, &d.Deaths, &d.Assists, &d.Hits, &d.Headshots, &d.Rounds, &d.Damage); err != nil {
			return nil, err
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

// GetGlobalStats aggregates every player's counters across all matches
func (s *Store) GetGlobalStats(ctx context.Context) ([]domain.PlayerGlobalStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			p.steam_id, p.name,
			COALESCE(SUM(pms.kills), 0),
			COALESCE(SUM(pms.deaths), 0),
			COALESCE(SUM(pms.assists), 0),
			COALESCE(SUM(pms.hits), 0),
			COALESCE(SUM(pms.headshots), 0),
			COALESCE(SUM(pms.rounds), 0),
			COALESCE(SUM(pms.damage), 0)
		FROM players p
		LEFT JOIN player_match_stats pms ON pms.steam_id = p.steam_id
		GROUP BY p.steam_id
		ORDER BY SUM(pms.kills) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.PlayerGlobalStats
	for rows.Next() {
		var g domain.PlayerGlobalStats
		if err := rows.Scan(&g.SteamID, &g.Name, &g.Kills, &g.Deaths, &g.Assists, &g.Hits, &g.Headshots, &g.Rounds, &g.Damage); err != nil {
			return nil, err
		}
		g.Diff = g.Kills - g.Deaths
		stats = append(stats, g)
	}
	return stats, rows.Err()
}

// GetGlobalStatsBySteamID aggregates one player's counters across all matches
func (s *Store) GetGlobalStatsBySteamID(ctx context.Context, steamID string) (*domain.PlayerGlobalStats, error) {
	var g domain.PlayerGlobalStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			p.steam_id, p.name,
			COALESCE(SUM(pms.kills), 0),
			COALESCE(SUM(pms.deaths), 0),
			COALESCE(SUM(pms.assists), 0),
			COALESCE(SUM(pms.hits), 0),
			COALESCE(SUM(pms.headshots), 0),
			COALESCE(SUM(pms.rounds), 0),
			COALESCE(SUM(pms.damage), 0)
		FROM players p
		LEFT JOIN player_match_stats pms ON pms.steam_id = p.steam_id
		WHERE p.steam_id = ?
		GROUP BY p.steam_id
	`, steamID).Scan(&g.SteamID, &g.Name, &g.Kills, &g.Deaths, &g.Assists, &g.Hits, &g.Headshots, &g.Rounds, &g.Damage)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("player %s: %w", steamID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	g.Diff = g.Kills - g.Deaths
	return &g, nil
}

// GetMatchMaps returns the relational scoreboard rows for a match
func (s *Store) GetMatchMaps(ctx context.Context, matchID string) ([]domain.MatchMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT map, team_a_score, team_b_score, rounds, finished
		FROM match_maps
		WHERE match_id = ?
		ORDER BY position
	`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var maps []domain.MatchMap
	for rows.Next() {
		var m domain.MatchMap
		if err := rows.Scan(&m.Name, &m.TeamAScore, &m.TeamBScore, &m.Rounds, &m.Finished); err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}
