package domain

import "time"

// MatchState is the lifecycle state of a match session
type MatchState string

const (
	StatePending     MatchState = "PENDING"      // created, game server not yet confirmed
	StateElection    MatchState = "ELECTION"     // resolving map/side election steps
	StateLive        MatchState = "LIVE"         // round-by-round play on the current map
	StateMapComplete MatchState = "MAP_COMPLETE" // map score recorded, next map or finish pending
	StateFinished    MatchState = "FINISHED"     // terminal (SINGLE mode)
	StateStopped     MatchState = "STOPPED"      // terminal for this session instance
)

// MatchMode controls what happens after the last map completes
type MatchMode string

const (
	ModeSingle MatchMode = "SINGLE" // run once, finish
	ModeLoop   MatchMode = "LOOP"   // restart from PENDING on completion
)

// TeamKey identifies one of the two sides of a match
type TeamKey string

const (
	TeamA TeamKey = "TEAM_A"
	TeamB TeamKey = "TEAM_B"
)

// Other returns the opposing team key
func (k TeamKey) Other() TeamKey {
	if k == TeamA {
		return TeamB
	}
	return TeamA
}

// Team describes one side of a match
type Team struct {
	Name      string `json:"name"`
	Advantage int    `json:"advantage"` // bonus rounds carried into every map
}

// MatchMap is one played (or to-be-played) map of a match.
// Append-only: created when an election map step resolves, never removed.
type MatchMap struct {
	Name       string     `json:"name"`
	TeamAScore int        `json:"team_a_score"`
	TeamBScore int        `json:"team_b_score"`
	Rounds     int        `json:"rounds"` // monotonically increasing round counter
	Finished   bool       `json:"finished"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	// Side the A team starts on, resolved by the paired side step
	TeamAStartSide Side `json:"team_a_start_side,omitempty"`
}

// LogEntry is one line of a match's operational log
type LogEntry struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// Match is the full durable state of one match. The live copy is owned by
// exactly one match.Session; the snapshot store holds it once evicted.
type Match struct {
	ID            string         `json:"id"`
	TeamAData     Team           `json:"team_a"`
	TeamBData     Team           `json:"team_b"`
	MapPool       []string       `json:"map_pool"`
	ElectionSteps []ElectionStep `json:"election_steps"`
	Maps          []MatchMap     `json:"maps"`
	CurrentMap    int            `json:"current_map"` // index into Maps while LIVE

	// LogSecret authenticates the game server's log push channel. Generated
	// once at creation, only ever compared, never logged.
	LogSecret string `json:"log_secret"`
	// Token grants MATCH-scoped API access to this match
	Token string `json:"token"`

	Mode        MatchMode  `json:"mode"`
	State       MatchState `json:"state"`
	IsStopped   bool       `json:"is_stopped"`
	Passthrough string     `json:"passthrough,omitempty"` // opaque external correlation tag

	GameServer GameServerRef `json:"game_server"`

	CreatedAt time.Time  `json:"created_at"`
	Log       []LogEntry `json:"log,omitempty"`
}

// GameServerRef points at the external game server hosting this match
type GameServerRef struct {
	Address      string `json:"address"` // host:port
	RconPassword string `json:"rcon_password"`
}

// Team returns the team data for a key
func (m *Match) Team(k TeamKey) *Team {
	if k == TeamA {
		return &m.TeamAData
	}
	return &m.TeamBData
}

// ActiveMap returns the map currently being played, or nil
func (m *Match) ActiveMap() *MatchMap {
	if m.CurrentMap < 0 || m.CurrentMap >= len(m.Maps) {
		return nil
	}
	return &m.Maps[m.CurrentMap]
}

// Terminal reports whether no further state transitions are possible
func (s MatchState) Terminal() bool {
	return s == StateFinished || s == StateStopped
}
