package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"ironfront/internal/game"
	"ironfront/internal/protocol"
)

var errLoopTimeout = errors.New("game loop did not respond")

// onLoop runs fn on the session's loop goroutine and waits for it. Every
// handler goes through here so the session is only ever touched from one
// goroutine.
func (h *routerHandlers) onLoop(fn func()) error {
	done := make(chan struct{})
	h.loop.Do(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return errLoopTimeout
	}
}

func (h *routerHandlers) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	var stats map[string]interface{}
	if err := h.onLoop(func() { stats = h.session.Stats() }); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, stats)
}

func playerJSON(p *game.Player) map[string]interface{} {
	return map[string]interface{}{
		"id":                p.ID,
		"name":              p.Name,
		"species":           p.Species,
		"teamColor":         p.TeamColor,
		"minerals":          p.Minerals,
		"oil":               p.Oil,
		"inGame":            p.InGame,
		"defeated":          p.Defeated,
		"startingCompleted": p.StartingCompleted,
		"neutral":           p.IsNeutral(),
	}
}

func (h *routerHandlers) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	var players []map[string]interface{}
	err := h.onLoop(func() {
		for _, p := range h.session.Players() {
			players = append(players, playerJSON(p))
		}
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if players == nil {
		players = []map[string]interface{}{}
	}
	writeJSON(w, players)
}

func (h *routerHandlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	type record struct {
		Arrival   time.Time   `json:"arrival"`
		GameSpeed int         `json:"gameSpeed"`
		Calls     int         `json:"calls"`
		CallTimes []time.Time `json:"callTimes,omitempty"`
	}
	var history []record
	err := h.onLoop(func() {
		for _, at := range h.session.Scheduler().History() {
			history = append(history, record{
				Arrival:   at.Arrival,
				GameSpeed: at.GameSpeed,
				Calls:     len(at.CallTimes),
				CallTimes: at.CallTimes,
			})
		}
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if history == nil {
		history = []record{}
	}
	writeJSON(w, history)
}

func (h *routerHandlers) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed int `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Speed <= 0 || req.Speed >= game.MaxGameSpeed {
		writeError(w, "Speed out of range", http.StatusBadRequest)
		return
	}
	if err := h.onLoop(func() { h.session.SetGameSpeed(req.Speed) }); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.onLoop(func() { h.session.SetPaused(req.Paused) }); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleRequestSync(w http.ResponseWriter, r *http.Request) {
	var admin bool
	err := h.onLoop(func() {
		admin = h.session.IsAdmin()
		if admin {
			h.session.RequestSync()
		}
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !admin {
		writeError(w, "Only the authority can trigger a resync", http.StatusForbidden)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleKillPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID uint32 `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if !game.ValidRealPlayerID(req.PlayerID) {
		writeError(w, "Invalid player id", http.StatusBadRequest)
		return
	}
	var found bool
	err := h.onLoop(func() {
		found = h.session.FindPlayer(req.PlayerID) != nil
		if found {
			h.session.RequestKillPlayer(req.PlayerID)
		}
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		writeError(w, "Player not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		writeError(w, "Text is required", http.StatusBadRequest)
		return
	}
	if len(req.Text) > 512 {
		req.Text = req.Text[:512]
	}
	err := h.onLoop(func() {
		h.session.SendMessage(protocol.IdChat, protocol.ChatPayload{
			PlayerID: h.session.ClientID(),
			Text:     req.Text,
		})
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
