package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
	"github.com/go-chi/chi/v5"
)

const defaultLogLimit = 50

func okBody(extra map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"success": true}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Recorder.Stats(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to read stats")
		writeJSON(w, http.StatusInternalServerError, errorBody("Failed"))
		return
	}
	sessions, err := h.deps.Sessions.Count(r.Context())
	if err != nil {
		h.log.WithError(err).Warn("Failed to count sessions")
	}
	body := map[string]interface{}{
		"stats":    stats,
		"sessions": sessions,
		"ts":       time.Now().UTC().Format(time.RFC3339),
	}
	if h.deps.Redis != nil {
		body["redis"] = h.deps.Redis.PoolStats()
	}
	writeJSON(w, http.StatusOK, okBody(body))
}

func (h *Handler) adminLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	logs, err := h.deps.Recorder.Logs(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"logs": logs}))
}

func (h *Handler) adminClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Recorder.ClearLogs(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(nil))
}

func (h *Handler) adminListBans(w http.ResponseWriter, r *http.Request) {
	bans, err := h.deps.Registry.ListBans(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"bans": bans}))
}

type adminBanRequest struct {
	HWID     flexString `json:"hwid"`
	IP       flexString `json:"ip"`
	PlayerID flexString `json:"playerId"`
	Reason   string     `json:"reason"`
}

func (h *Handler) adminBan(w http.ResponseWriter, r *http.Request) {
	var req adminBanRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.HWID == "" && req.IP == "" && req.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Required"))
		return
	}
	banID, err := h.deps.Access.Ban(r.Context(), domain.BanRequest{
		DeviceID:       req.HWID.String(),
		IdentityID:     req.PlayerID.String(),
		NetworkAddress: req.IP.String(),
		Reason:         req.Reason,
		Source:         domain.BanSourceManual,
	}, usecase.ActorAdmin)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"banId": banID}))
}

func (h *Handler) adminUnban(w http.ResponseWriter, r *http.Request) {
	removed, err := h.deps.Registry.UnbanByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": removed > 0})
}

func (h *Handler) adminClearBans(w http.ResponseWriter, r *http.Request) {
	count, err := h.deps.Registry.BanCount(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.deps.Registry.ClearBans(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"cleared": count}))
}

func (h *Handler) adminClearCache(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Invalidate(r.Context()); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, okBody(nil))
}

type sessionView struct {
	domain.Session
	AgeSeconds int64 `json:"age"`
}

func (h *Handler) adminListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.deps.Sessions.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	now := time.Now()
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{Session: s, AgeSeconds: int64(now.Sub(s.CreatedAt).Seconds())})
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"sessions": out}))
}

func (h *Handler) adminClearSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Sessions.Clear(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"cleared": n}))
}

type killRequest struct {
	SessionID flexString `json:"sessionId"`
	Reason    string     `json:"reason"`
}

func (h *Handler) adminKillSession(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing sessionId"))
		return
	}
	if err := h.deps.Sessions.Kill(r.Context(), req.SessionID.String(), req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"msg": "Session will be terminated on next heartbeat"}))
}

func (h *Handler) adminListWhitelist(w http.ResponseWriter, r *http.Request) {
	wl, err := h.deps.Registry.ListWhitelist(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	owners := h.cfg.OwnerIdentityIDs
	if owners == nil {
		owners = []string{}
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{
		"whitelist": map[string]interface{}{
			"userIds": wl.IdentityIDs,
			"hwids":   wl.DeviceIDs,
			"ips":     wl.NetworkAddresses,
			"owners":  owners,
		},
	}))
}

type entryRequest struct {
	Type  string     `json:"type"`
	Value flexString `json:"value"`
}

func (h *Handler) decodeWhitelistEntry(w http.ResponseWriter, r *http.Request) (domain.WhitelistType, string, bool) {
	var req entryRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return "", "", false
	}
	if req.Type == "" || req.Value == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing fields"))
		return "", "", false
	}
	kind, err := domain.ParseWhitelistType(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid type"))
		return "", "", false
	}
	return kind, req.Value.String(), true
}

func (h *Handler) adminAddWhitelist(w http.ResponseWriter, r *http.Request) {
	kind, value, valid := h.decodeWhitelistEntry(w, r)
	if !valid {
		return
	}
	if err := h.deps.Registry.AddWhitelist(r.Context(), kind, value); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"msg": fmt.Sprintf("Added %s: %s", kind, value)}))
}

func (h *Handler) adminRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	kind, value, valid := h.decodeWhitelistEntry(w, r)
	if !valid {
		return
	}
	if err := h.deps.Registry.RemoveWhitelist(r.Context(), kind, value); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"msg": fmt.Sprintf("Removed %s: %s", kind, value)}))
}

func (h *Handler) adminListSuspended(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Registry.ListSuspends(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"suspended": list}))
}

type suspendRequest struct {
	Type     string     `json:"type"`
	Value    flexString `json:"value"`
	Reason   string     `json:"reason"`
	Duration flexString `json:"duration"`
}

func (h *Handler) adminSuspend(w http.ResponseWriter, r *http.Request) {
	var req suspendRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Type == "" || req.Value == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing type or value"))
		return
	}
	kind, err := domain.ParseSuspendType(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid type"))
		return
	}

	secs, set := req.Duration.Int()
	duration, err := domain.SuspendDuration(secs)
	if (req.Duration != "" && !set) || err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid duration"))
		return
	}
	if _, err := h.deps.Registry.Suspend(r.Context(), kind, req.Value.String(), req.Reason, duration); err != nil {
		h.writeError(w, err)
		return
	}

	msg := fmt.Sprintf("Suspended %s: %s permanently", kind, req.Value)
	if duration > 0 {
		msg = fmt.Sprintf("Suspended %s: %s for %ds", kind, req.Value, int64(duration.Seconds()))
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"msg": msg}))
}

func (h *Handler) adminUnsuspend(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Type == "" || req.Value == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing fields"))
		return
	}
	kind, err := domain.ParseSuspendType(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid type"))
		return
	}
	if _, err := h.deps.Registry.Unsuspend(r.Context(), kind, req.Value.String()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody(map[string]interface{}{"msg": fmt.Sprintf("Unsuspended %s: %s", kind, req.Value)}))
}
