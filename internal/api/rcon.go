package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matchdeck/matchdeck/internal/match"
)

// handleRconCommand executes a console command on a match's game server
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	sess, ok := r.registry.Get(req.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "match not live")
		return
	}

	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Command == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}

	output, err := sess.ExecRcon(req.Context(), body.Command)
	if err != nil {
		if errors.Is(err, match.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": output})
}
