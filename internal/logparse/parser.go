// Package logparse turns raw game-server log payloads into a closed set of
// tagged telemetry events. Lines that match no known pattern become an
// Unrecognized event so a malformed payload can never take the ingestion
// path down.
package logparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/matchdeck/matchdeck/internal/domain"
)

// Event is a parsed telemetry event from the game server log
type Event struct {
	Timestamp time.Time
	Type      string
	Data      interface{}
}

// Event types
const (
	EventTypeKill         = "kill"
	EventTypeDamage       = "damage"
	EventTypeAssist       = "assist"
	EventTypeSuicide      = "suicide"
	EventTypeWorldKill    = "world_kill"
	EventTypeRoundEnd     = "round_end"
	EventTypeRoundStart   = "round_start"
	EventTypeMatchStart   = "match_start"
	EventTypeGameOver     = "game_over"
	EventTypeSay          = "say"
	EventTypeSayTeam      = "say_team"
	EventTypeTeamSwitch   = "team_switch"
	EventTypeConnect      = "connect"
	EventTypeDisconnect   = "disconnect"
	EventTypeUnrecognized = "unrecognized"
)

// Player identifies one player as printed in a log line:
// "Name<3><STEAM_1:0:12345><CT>"
type Player struct {
	Name     string
	ClientID int
	SteamID  string
	Team     string // CT, TERRORIST, Unassigned, Spectator
}

// Side maps the log team tag onto a playing side; ok is false for
// spectators, unassigned players and console lines.
func (p Player) Side() (domain.Side, bool) {
	switch p.Team {
	case "CT":
		return domain.SideCT, true
	case "TERRORIST", "T":
		return domain.SideT, true
	}
	return "", false
}

// IsBot reports whether the entry refers to a server bot
func (p Player) IsBot() bool {
	return p.SteamID == "BOT"
}

// Event data structures
type KillData struct {
	Killer   Player
	Victim   Player
	Weapon   string
	Headshot bool
}

type DamageData struct {
	Attacker    Player
	Victim      Player
	Weapon      string
	Damage      int
	DamageArmor int
	Health      int
	Armor       int
	HitGroup    string
}

type AssistData struct {
	Assister Player
	Victim   Player
	Flash    bool
}

type SuicideData struct {
	Player Player
	Cause  string
}

type WorldKillData struct {
	Victim Player
	Cause  string
}

type RoundEndData struct {
	WinnerSide domain.Side
	Trigger    string // SFUI notice, e.g. SFUI_Notice_Bomb_Defused
	ScoreCT    int
	ScoreT     int
}

type MatchStartData struct {
	MapName string
}

type GameOverData struct {
	Mode     string
	MapName  string
	ScoreCT  int
	ScoreT   int
	Duration int // minutes
}

type ChatData struct {
	Player  Player
	Message string
}

type TeamSwitchData struct {
	Player Player
	From   string
	To     string
}

type ConnectData struct {
	Player  Player
	Address string
}

type DisconnectData struct {
	Player Player
	Reason string
}

type UnrecognizedData struct {
	Line string
}

// Regular expressions for parsing log lines
var (
	// HL log prefix: L 08/29/2026 - 12:34:56:
	prefixRegex = regexp.MustCompile(`^L (\d{2}/\d{2}/\d{4}) - (\d{2}:\d{2}:\d{2})(?:\.\d+)?:\s+`)

	// "Name<id><steamid><team>"
	playerRegex = regexp.MustCompile(`^(.*)<(\d+)><([^>]*)><([^>]*)>$`)

	// Event patterns (after prefix is stripped). Position vectors are optional:
	// CS:GO prints them, older engines do not.
	killRegex       = regexp.MustCompile(`^"(.+?)"(?: \[[-\d ]+\])? killed "(.+?)"(?: \[[-\d ]+\])? with "([^"]+)"( \(headshot\))?$`)
	damageRegex     = regexp.MustCompile(`^"(.+?)"(?: \[[-\d ]+\])? attacked "(.+?)"(?: \[[-\d ]+\])? with "([^"]+)" \(damage "(\d+)"\) \(damage_armor "(\d+)"\) \(health "(\d+)"\) \(armor "(\d+)"\) \(hitgroup "([^"]+)"\)$`)
	assistRegex     = regexp.MustCompile(`^"(.+?)" (flash-)?assisted killing "(.+?)"$`)
	suicideRegex    = regexp.MustCompile(`^"(.+?)"(?: \[[-\d ]+\])? committed suicide with "([^"]+)"$`)
	worldKillRegex  = regexp.MustCompile(`^"(.+?)"(?: \[[-\d ]+\])? was killed by the (\w+)\.?$`)
	teamRoundRegex  = regexp.MustCompile(`^Team "(CT|TERRORIST)" triggered "([A-Za-z_]+)" \(CT "(\d+)"\) \(T "(\d+)"\)$`)
	matchStartRegex = regexp.MustCompile(`^World triggered "Match_Start" on "(\S+)"$`)
	roundStartRegex = regexp.MustCompile(`^World triggered "Round_Start"$`)
	gameOverRegex   = regexp.MustCompile(`^Game Over: (\S+) (\S+) (\S+) score (\d+):(\d+) after (\d+) min$`)
	sayRegex        = regexp.MustCompile(`^"(.+?)" say(_team)? "(.*)"$`)
	teamSwitchRegex = regexp.MustCompile(`^"(.+?)" switched from team <([A-Za-z]*)> to <([A-Za-z]*)>$`)
	connectRegex    = regexp.MustCompile(`^"(.+?)" connected, address "([^"]*)"$`)
	disconnectRegex = regexp.MustCompile(`^"(.+?)" disconnected(?: \(reason "([^"]*)"\))?$`)
)

// ParsePayload splits a raw log POST body into lines and parses each one.
// Blank lines are skipped; everything else yields exactly one event, in
// arrival order.
func ParsePayload(body string) []Event {
	var events []Event
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		events = append(events, ParseLine(line))
	}
	return events
}

// ParseLine parses a single log line. It never fails: lines that match no
// known pattern come back as an Unrecognized event carrying the raw line.
func ParseLine(line string) Event {
	timestamp := time.Now().UTC()
	content := line

	if match := prefixRegex.FindStringSubmatch(line); match != nil {
		if ts, err := time.Parse("01/02/2006 15:04:05", match[1]+" "+match[2]); err == nil {
			timestamp = ts
		}
		content = line[len(match[0]):]
	}

	event := Event{Timestamp: timestamp}

	if match := killRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeKill
		event.Data = KillData{
			Killer:   parsePlayer(match[1]),
			Victim:   parsePlayer(match[2]),
			Weapon:   match[3],
			Headshot: match[4] != "",
		}
		return event
	}

	if match := damageRegex.FindStringSubmatch(content); match != nil {
		damage, _ := strconv.Atoi(match[4])
		damageArmor, _ := strconv.Atoi(match[5])
		health, _ := strconv.Atoi(match[6])
		armor, _ := strconv.Atoi(match[7])
		event.Type = EventTypeDamage
		event.Data = DamageData{
			Attacker:    parsePlayer(match[1]),
			Victim:      parsePlayer(match[2]),
			Weapon:      match[3],
			Damage:      damage,
			DamageArmor: damageArmor,
			Health:      health,
			Armor:       armor,
			HitGroup:    match[8],
		}
		return event
	}

	if match := assistRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeAssist
		event.Data = AssistData{
			Assister: parsePlayer(match[1]),
			Flash:    match[2] != "",
			Victim:   parsePlayer(match[3]),
		}
		return event
	}

	if match := suicideRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeSuicide
		event.Data = SuicideData{
			Player: parsePlayer(match[1]),
			Cause:  match[2],
		}
		return event
	}

	if match := worldKillRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeWorldKill
		event.Data = WorldKillData{
			Victim: parsePlayer(match[1]),
			Cause:  match[2],
		}
		return event
	}

	if match := teamRoundRegex.FindStringSubmatch(content); match != nil {
		winner := domain.SideCT
		if match[1] == "TERRORIST" {
			winner = domain.SideT
		}
		scoreCT, _ := strconv.Atoi(match[3])
		scoreT, _ := strconv.Atoi(match[4])
		event.Type = EventTypeRoundEnd
		event.Data = RoundEndData{
			WinnerSide: winner,
			Trigger:    match[2],
			ScoreCT:    scoreCT,
			ScoreT:     scoreT,
		}
		return event
	}

	if match := matchStartRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeMatchStart
		event.Data = MatchStartData{MapName: match[1]}
		return event
	}

	if roundStartRegex.MatchString(content) {
		event.Type = EventTypeRoundStart
		return event
	}

	if match := gameOverRegex.FindStringSubmatch(content); match != nil {
		scoreCT, _ := strconv.Atoi(match[4])
		scoreT, _ := strconv.Atoi(match[5])
		duration, _ := strconv.Atoi(match[6])
		event.Type = EventTypeGameOver
		event.Data = GameOverData{
			Mode:     match[1],
			MapName:  match[3],
			ScoreCT:  scoreCT,
			ScoreT:   scoreT,
			Duration: duration,
		}
		return event
	}

	if match := sayRegex.FindStringSubmatch(content); match != nil {
		if match[2] == "" {
			event.Type = EventTypeSay
		} else {
			event.Type = EventTypeSayTeam
		}
		event.Data = ChatData{
			Player:  parsePlayer(match[1]),
			Message: match[3],
		}
		return event
	}

	if match := teamSwitchRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeTeamSwitch
		event.Data = TeamSwitchData{
			Player: parsePlayer(match[1]),
			From:   match[2],
			To:     match[3],
		}
		return event
	}

	if match := connectRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeConnect
		event.Data = ConnectData{
			Player:  parsePlayer(match[1]),
			Address: match[2],
		}
		return event
	}

	if match := disconnectRegex.FindStringSubmatch(content); match != nil {
		event.Type = EventTypeDisconnect
		event.Data = DisconnectData{
			Player: parsePlayer(match[1]),
			Reason: match[2],
		}
		return event
	}

	event.Type = EventTypeUnrecognized
	event.Data = UnrecognizedData{Line: content}
	return event
}

// parsePlayer parses the <id><steamid><team> suffix form. Entries that do
// not carry the suffix (the console, GOTV) keep the raw string as the name.
func parsePlayer(s string) Player {
	match := playerRegex.FindStringSubmatch(s)
	if match == nil {
		return Player{Name: s}
	}
	clientID, _ := strconv.Atoi(match[2])
	return Player{
		Name:     match[1],
		ClientID: clientID,
		SteamID:  match[3],
		Team:     match[4],
	}
}
