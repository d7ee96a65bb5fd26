package domain

import "time"

// Event types for realtime notifications
const (
	EventMatchCreated = "match_created"
	EventMatchUpdated = "match_updated"
	EventMatchStop    = "match_stop"
	EventMatchEnd     = "match_end"
	EventMatchRevived = "match_revived"
	EventElectionStep = "election_step"
	EventKnifeEnd     = "knife_end"
	EventMapStart     = "map_start"
	EventRoundEnd     = "round_end"
	EventMapEnd       = "map_end"
	EventKill         = "kill"
	EventChat         = "chat"
)

// Event is a realtime notification broadcast to connected observers
type Event struct {
	Type      string      `json:"event"`
	MatchID   string      `json:"match_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ElectionStepEvent is sent when an election step resolves
type ElectionStepEvent struct {
	Index int          `json:"index"`
	Step  ElectionStep `json:"step"`
}

// MapStartEvent is sent when play begins on a map
type MapStartEvent struct {
	Map       string `json:"map"`
	MapNumber int    `json:"map_number"`
}

// RoundEndEvent is sent after every completed round
type RoundEndEvent struct {
	Map        string  `json:"map"`
	Winner     TeamKey `json:"winner"`
	TeamAScore int     `json:"team_a_score"`
	TeamBScore int     `json:"team_b_score"`
}

// MapEndEvent is sent when a map finishes
type MapEndEvent struct {
	Map        string `json:"map"`
	TeamAScore int    `json:"team_a_score"`
	TeamBScore int    `json:"team_b_score"`
}

// KnifeEndEvent is sent when a knife round decides a side pick
type KnifeEndEvent struct {
	Map    string  `json:"map"`
	Winner TeamKey `json:"winner"`
}

// KillEvent is sent for every kill during live play
type KillEvent struct {
	Map      string `json:"map"`
	Killer   string `json:"killer"`
	Victim   string `json:"victim"`
	Weapon   string `json:"weapon"`
	Headshot bool   `json:"headshot"`
}

// ChatEvent is sent for player chat lines
type ChatEvent struct {
	Player   string `json:"player"`
	SteamID  string `json:"steam_id"`
	TeamChat bool   `json:"team_chat"`
	Message  string `json:"message"`
}

// MatchEndEvent is sent when the match reaches a terminal state
type MatchEndEvent struct {
	Winner TeamKey `json:"winner,omitempty"` // empty on draw
}
