package domain

// PlayerMatchStats is the per (player, match, map) counter row.
// Created lazily on the first event referencing the player, never deleted.
type PlayerMatchStats struct {
	SteamID   string `json:"steam_id"`
	MatchID   string `json:"match_id"`
	Map       string `json:"map"`
	Name      string `json:"name"`
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	Assists   int    `json:"assists"`
	Hits      int    `json:"hits"`
	Headshots int    `json:"headshots"`
	Rounds    int    `json:"rounds"`
	Damage    int    `json:"damage"` // health + armor damage combined
}

// PlayerGlobalStats is the lifetime aggregate per player across all matches
type PlayerGlobalStats struct {
	SteamID   string `json:"steam_id"`
	Name      string `json:"name"`
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	Assists   int    `json:"assists"`
	Diff      int    `json:"diff"` // kills - deaths
	Hits      int    `json:"hits"`
	Headshots int    `json:"headshots"`
	Rounds    int    `json:"rounds"`
	Damage    int    `json:"damage"`
}
