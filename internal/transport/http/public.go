package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/security"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
)

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	redisUp := h.deps.Redis != nil && h.deps.Redis.Ping(r.Context()) == nil
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "redis": redisUp})
}

// classify tags the request and records the category
func (h *Handler) classify(view domain.RequestView) (bool, domain.ClientCategory) {
	blocked, category := h.deps.Classifier.ShouldBlock(view)
	h.deps.Metrics.RecordClassification(category.String())
	if blocked {
		h.deps.Metrics.RecordSecurityBlock("classifier")
	}
	return blocked, category
}

func (h *Handler) loader(w http.ResponseWriter, r *http.Request) {
	view := requestView(r, nil)
	blocked, category := h.classify(view)
	url := h.serverURL(r)

	if category == domain.CategoryBrowser {
		writeText(w, http.StatusOK, "text/html; charset=utf-8", security.LoaderPage(url))
		return
	}

	id := domain.Identity{
		DeviceID:       view.Header("x-hwid"),
		IdentityID:     view.Header("x-roblox-id"),
		PlaceContext:   view.Header("x-place-id"),
		NetworkAddress: view.SourceAddress,
	}
	entry := domain.AccessLog{Identity: id, UserAgent: view.UserAgent, Client: category.String()}

	if blocked {
		entry.Action = domain.ActionBlockedBot
		h.deps.Recorder.Record(r.Context(), entry)
		writeText(w, http.StatusOK, "text/plain; charset=utf-8", h.deps.Decoys.Script())
		return
	}

	entry.Action, entry.Success = domain.ActionLoaderFetch, true
	h.deps.Recorder.Record(r.Context(), entry)

	script, err := h.deps.Delivery.Loader(r.Context(), id, url)
	if err != nil {
		h.log.WithError(err).Error("Failed to render loader")
		writeText(w, http.StatusInternalServerError, "text/plain; charset=utf-8", "-- loader unavailable")
		return
	}
	writeText(w, http.StatusOK, "text/plain; charset=utf-8", script)
}

type challengeRequest struct {
	UserID  flexString `json:"userId"`
	HWID    flexString `json:"hwid"`
	PlaceID flexString `json:"placeId"`
}

func (h *Handler) challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	body, err := decodeBody(w, r, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := requestView(r, body)
	blocked, category := h.classify(view)

	id := domain.Identity{
		DeviceID:       req.HWID.String(),
		IdentityID:     req.UserID.String(),
		PlaceContext:   req.PlaceID.String(),
		NetworkAddress: view.SourceAddress,
	}
	if id.DeviceID == "" {
		id.DeviceID = view.Header("x-hwid")
	}
	entry := domain.AccessLog{Identity: id, UserAgent: view.UserAgent, Client: category.String()}

	if blocked {
		entry.Action = domain.ActionChallengeBot
		h.deps.Recorder.Record(r.Context(), entry)
		writeJSON(w, http.StatusForbidden, errorBody("Access denied"))
		return
	}

	entry.Action, entry.Success = domain.ActionChallengeInit, true
	h.deps.Recorder.Record(r.Context(), entry)

	ch, err := h.deps.Auth.Issue(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRejected) {
			entry.Action, entry.Success = domain.ActionChallengeDenied, false
			entry.Reason = domain.RejectionReason(err)
			h.deps.Recorder.Record(r.Context(), entry)
		}
		h.writeError(w, err)
		return
	}
	h.deps.Recorder.ChallengeIssued(r.Context())

	cv := ch.View()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"challengeId": cv.ID,
		"type":        cv.Type,
		"puzzle":      cv.Puzzle,
		"expiresIn":   cv.ExpiresInSeconds,
	})
}

type verifyRequest struct {
	ChallengeID flexString  `json:"challengeId"`
	Solution    *flexString `json:"solution"`
	Timestamp   flexString  `json:"timestamp"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	body, err := decodeBody(w, r, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := requestView(r, body)
	if blocked, _ := h.classify(view); blocked {
		writeJSON(w, http.StatusForbidden, errorBody("Access denied"))
		return
	}

	if req.ChallengeID == "" || req.Solution == nil || req.Timestamp == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing fields"))
		return
	}
	answer, ok := req.Solution.Int()
	if !ok {
		// an unparseable answer can never match
		answer = -1 << 62
	}
	ts, _ := req.Timestamp.Int()

	d, err := h.deps.Delivery.Deliver(r.Context(), usecase.DeliveryRequest{
		Solution: domain.Solution{
			ChallengeID:     req.ChallengeID.String(),
			Answer:          answer,
			ClientTimestamp: ts,
			NetworkAddress:  view.SourceAddress,
		},
		ServerURL: h.serverURL(r),
		Executor:  view.UserAgent,
	})
	if err != nil {
		if errors.Is(err, domain.ErrWrongAnswer) {
			h.deps.Recorder.Record(r.Context(), domain.AccessLog{
				Action:    domain.ActionVerifyFail,
				Identity:  domain.Identity{NetworkAddress: view.SourceAddress},
				UserAgent: view.UserAgent,
				Reason:    "Wrong solution",
			})
		}
		h.writeError(w, err)
		return
	}

	h.deps.Recorder.Record(r.Context(), domain.AccessLog{
		Action:    domain.ActionVerifySuccess,
		Success:   true,
		Identity:  d.Identity,
		UserAgent: view.UserAgent,
	})

	out, err := withSuccess(d.Response)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// withSuccess adds "success": true to the packaged response object
func withSuccess(resp *domain.DeliveryResponse) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["success"] = json.RawMessage("true")
	return json.Marshal(fields)
}

type heartbeatRequest struct {
	SessionID flexString `json:"sessionId"`
	HWID      flexString `json:"hwid"`
	UserID    flexString `json:"userId"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.deps.Sessions.Heartbeat(r.Context(), usecase.Heartbeat{
		SessionID:      req.SessionID.String(),
		DeviceID:       req.HWID.String(),
		IdentityID:     req.UserID.String(),
		NetworkAddress: clientAddress(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := map[string]interface{}{
		"success": res.Action == domain.ActionContinue,
		"action":  res.Action,
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	writeJSON(w, http.StatusOK, out)
}

type suspiciousRequest struct {
	UserID    flexString `json:"userId"`
	HWID      flexString `json:"hwid"`
	Tool      string     `json:"tool"`
	SessionID flexString `json:"sessionId"`
}

func (h *Handler) suspicious(w http.ResponseWriter, r *http.Request) {
	var req suspiciousRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	id := domain.Identity{
		DeviceID:       req.HWID.String(),
		IdentityID:     req.UserID.String(),
		NetworkAddress: clientAddress(r),
	}

	h.deps.Recorder.Record(r.Context(), domain.AccessLog{
		Action:    domain.ActionSuspicious,
		Identity:  id,
		UserAgent: r.UserAgent(),
		Tool:      req.Tool,
	})
	h.deps.Access.ReportSuspicious(r.Context(), id, req.Tool, req.SessionID.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type shimBanRequest struct {
	HWID      flexString `json:"hwid"`
	PlayerID  flexString `json:"playerId"`
	Reason    string     `json:"reason"`
	SessionID flexString `json:"sessionId"`
}

func (h *Handler) shimBan(w http.ResponseWriter, r *http.Request) {
	var req shimBanRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.HWID == "" && req.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing id"))
		return
	}

	banID, err := h.deps.Access.ShimBan(r.Context(), domain.BanRequest{
		DeviceID:   req.HWID.String(),
		IdentityID: req.PlayerID.String(),
		Reason:     req.Reason,
	}, req.SessionID.String())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.deps.Recorder.Record(r.Context(), domain.AccessLog{
		Action:  domain.ActionBanAdded,
		Success: true,
		Identity: domain.Identity{
			DeviceID:       req.HWID.String(),
			IdentityID:     req.PlayerID.String(),
			NetworkAddress: clientAddress(r),
		},
		UserAgent: r.UserAgent(),
		Reason:    req.Reason,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "banId": banID})
}
