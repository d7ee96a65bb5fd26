package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/matchdeck/matchdeck/internal/config"
	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/match"
	"github.com/matchdeck/matchdeck/internal/storage"
)

// maxLogPayload bounds a single telemetry POST body
const maxLogPayload = 1 << 20

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleCreateMatch creates a match and returns its full state, credentials
// included, so the caller can configure the game server.
func (r *Router) handleCreateMatch(w http.ResponseWriter, req *http.Request) {
	var body match.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := r.registry.Create(req.Context(), body)
	if err != nil {
		if errors.Is(err, match.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.Match())
}

// handleGetMatches lists every known match, live state first. The state and
// passthrough filters are repeatable and OR within themselves; is_stopped
// narrows to stopped or running matches.
func (r *Router) handleGetMatches(w http.ResponseWriter, req *http.Request) {
	matches, err := r.registry.GetAllFromStorage(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	q := req.URL.Query()
	states := q["state"]
	passthroughs := q["passthrough"]
	var stopped *bool
	if v := q.Get("is_stopped"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid is_stopped")
			return
		}
		stopped = &b
	}

	filtered := matches[:0]
	for _, m := range matches {
		if len(states) > 0 && !slices.Contains(states, string(m.State)) {
			continue
		}
		if len(passthroughs) > 0 && !slices.Contains(passthroughs, m.Passthrough) {
			continue
		}
		if stopped != nil && m.IsStopped != *stopped {
			continue
		}
		filtered = append(filtered, m)
	}
	writeJSON(w, http.StatusOK, filtered)
}

// handleGetMatch returns a single match, falling back to the snapshot store
// when no session is live.
func (r *Router) handleGetMatch(w http.ResponseWriter, req *http.Request) {
	m, err := r.registry.GetFromStorage(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleUpdateMatch applies a partial edit to a live match
func (r *Router) handleUpdateMatch(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.registry.Get(req.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "match not live")
		return
	}

	var body struct {
		TeamAName  *string               `json:"team_a"`
		TeamBName  *string               `json:"team_b"`
		Mode       *domain.MatchMode     `json:"mode"`
		GameServer *domain.GameServerRef `json:"game_server"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := sess.Update(match.UpdateRequest{
		TeamAName:  body.TeamAName,
		TeamBName:  body.TeamBName,
		Mode:       body.Mode,
		GameServer: body.GameServer,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Match())
}

// handleUpdateMatchMap edits one map of a live match, for score corrections
// after manual server intervention.
func (r *Router) handleUpdateMatchMap(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.registry.Get(req.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "match not live")
		return
	}

	number, err := strconv.Atoi(req.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid map number")
		return
	}

	var body struct {
		Name       *string `json:"name"`
		TeamAScore *int    `json:"team_a_score"`
		TeamBScore *int    `json:"team_b_score"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = sess.UpdateMap(number, match.MapUpdateRequest{
		Name:       body.Name,
		TeamAScore: body.TeamAScore,
		TeamBScore: body.TeamBScore,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Match())
}

// handleRemoveMatch stops the live session and evicts it; the snapshot stays
func (r *Router) handleRemoveMatch(w http.ResponseWriter, req *http.Request) {
	if err := r.registry.Remove(req.Context(), req.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "match not live")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReviveMatch rebuilds a session from the durable snapshot
func (r *Router) handleReviveMatch(w http.ResponseWriter, req *http.Request) {
	sess, err := r.registry.Revive(req.Context(), req.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, match.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sess.Match())
}

// handleLog is the telemetry gateway. The status code is the whole protocol:
// 200 tells the game server to keep sending, 410 tells it to stop for good.
// Nothing here may answer outside those two, an oversized body included.
func (r *Router) handleLog(w http.ResponseWriter, req *http.Request) {
	id, secret := req.PathValue("id"), req.PathValue("secret")

	var ok bool
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxLogPayload))
	if err != nil {
		ok = r.registry.OnLogOversized(id, secret)
	} else {
		ok = r.registry.OnLog(id, secret, string(body))
	}

	if ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusGone)
}

// handleGetMatchStats returns the per-map stat rows for one match
func (r *Router) handleGetMatchStats(w http.ResponseWriter, req *http.Request) {
	rows, err := r.ledger.MatchStats(req.Context(), req.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleGetGlobalStats returns the all-time aggregation across matches
func (r *Router) handleGetGlobalStats(w http.ResponseWriter, req *http.Request) {
	rows, err := r.ledger.GlobalStats(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleGetPlayerStats returns one player's all-time aggregation
func (r *Router) handleGetPlayerStats(w http.ResponseWriter, req *http.Request) {
	row, err := r.ledger.PlayerGlobalStats(req.Context(), req.PathValue("steamid"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handleRoundBackups lists round backup files, newest first
func (r *Router) handleRoundBackups(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.registry.Get(req.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "match not live")
		return
	}

	count := 0
	if c := req.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = n
	}

	files, total, err := sess.RoundBackups(req.Context(), count)
	if err != nil {
		if errors.Is(err, match.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"total": total,
	})
}

// handleLoadRoundBackup restores a named round backup on the game server
func (r *Router) handleLoadRoundBackup(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.registry.Get(req.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "match not live")
		return
	}

	var body struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.File == "" {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}

	if !sess.LoadRoundBackup(req.Context(), body.File) {
		writeError(w, http.StatusBadRequest, "backup not restored")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restored": true})
}

// handleIssueToken mints a GLOBAL-scope JWT for the authenticated caller
func (r *Router) handleIssueToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Subject string `json:"subject"`
	}
	// body is optional
	_ = json.NewDecoder(req.Body).Decode(&body)

	token, err := r.auth.GenerateToken(body.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleAuthCheck echoes the caller's classification. MATCH tokens learn
// which match they belong to; anonymous callers get scope UNAUTHORIZED
// with a 200, since the endpoint exists to answer exactly that question.
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	access := r.classify(req)
	writeJSON(w, http.StatusOK, map[string]string{
		"scope":    access.Scope.String(),
		"match_id": access.MatchID,
	})
}

// handleGetConfig returns the running configuration with secrets redacted
func (r *Router) handleGetConfig(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, redactConfig(r.cfg.Get()))
}

// handlePatchConfig updates the game-facing settings at runtime. Server and
// auth settings stay restart-only. Sessions already running keep the config
// they started with.
func (r *Router) handlePatchConfig(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SayPrefix        *string        `json:"say_prefix"`
		SnapshotDebounce *time.Duration `json:"snapshot_debounce"`
		DefaultMapPool   []string       `json:"default_map_pool"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := *r.cfg.Get()
	if body.SayPrefix != nil {
		if *body.SayPrefix == "" {
			writeError(w, http.StatusBadRequest, "say_prefix must not be empty")
			return
		}
		cfg.Game.SayPrefix = *body.SayPrefix
	}
	if body.SnapshotDebounce != nil {
		if *body.SnapshotDebounce <= 0 {
			writeError(w, http.StatusBadRequest, "snapshot_debounce must be positive")
			return
		}
		cfg.Game.SnapshotDebounce = *body.SnapshotDebounce
	}
	if len(body.DefaultMapPool) > 0 {
		cfg.Game.DefaultMapPool = body.DefaultMapPool
	}

	r.cfg.Set(&cfg)
	r.registry.SetSessionConfig(match.SessionConfig{
		SayPrefix:        cfg.Game.SayPrefix,
		SnapshotDebounce: cfg.Game.SnapshotDebounce,
	})
	writeJSON(w, http.StatusOK, redactConfig(&cfg))
}

func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Auth.JWTSecret = ""
	out.Auth.APIKeys = nil
	return out
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
