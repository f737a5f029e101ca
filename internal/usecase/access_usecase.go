package usecase

import (
	"context"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/monitoring"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/sirupsen/logrus"
)

// Ban actors shown in notifications
const (
	ActorAdmin  = "Admin"
	ActorSystem = "System"
)

// AccessUsecase wraps registry mutations that notify
type AccessUsecase interface {
	Ban(ctx context.Context, req domain.BanRequest, actor string) (string, error)
	ShimBan(ctx context.Context, req domain.BanRequest, sessionID string) (string, error)
	ReportSuspicious(ctx context.Context, id domain.Identity, tool, sessionID string)
}

type accessUsecase struct {
	registry *registry.Registry
	sessions SessionUsecase
	events   EventEmitter
	metrics  *monitoring.Metrics
	autoBan  bool
	log      *logrus.Entry
}

// NewAccessUsecase creates the access usecase. autoBan only changes how
// suspicious reports are labelled; the shim issues the ban itself.
func NewAccessUsecase(reg *registry.Registry, sessions SessionUsecase, events EventEmitter, metrics *monitoring.Metrics, autoBan bool) AccessUsecase {
	return &accessUsecase{
		registry: reg,
		sessions: sessions,
		events:   emitterOrNoop(events),
		metrics:  metrics,
		autoBan:  autoBan,
		log:      logger.Component("access"),
	}
}

// Ban bans every key of req. Only a ban that adds a key is notified.
func (u *accessUsecase) Ban(ctx context.Context, req domain.BanRequest, actor string) (string, error) {
	if req.Source == "" {
		req.Source = domain.BanSourceManual
	}
	banID, created, err := u.registry.BanKeys(ctx, req)
	if err != nil {
		return "", err
	}
	if !created {
		return banID, nil
	}
	u.metrics.RecordBan(string(req.Source))
	u.events.Emit(domain.Event{
		Type: domain.EventBanIssued,
		Identity: domain.Identity{
			DeviceID:       req.DeviceID,
			IdentityID:     req.IdentityID,
			NetworkAddress: req.NetworkAddress,
		},
		Reason: req.Reason,
		BanID:  banID,
		Actor:  actor,
	})
	return banID, nil
}

// ShimBan handles a ban reported by the shim. Keys that are already banned
// keep their record; the rest are banned. The reporting session is dropped
// either way.
func (u *accessUsecase) ShimBan(ctx context.Context, req domain.BanRequest, sessionID string) (string, error) {
	if req.DeviceID == "" && req.IdentityID == "" {
		return "", ErrMissingFields
	}
	if req.Reason == "" {
		req.Reason = "Auto"
	}
	req.Source = domain.BanSourceShim

	if sessionID != "" {
		if _, err := u.sessions.Remove(ctx, sessionID); err != nil {
			u.log.WithError(err).Warn("Failed to remove reporting session")
		}
	}

	return u.Ban(ctx, req, ActorSystem)
}

// ReportSuspicious logs and notifies an inspection tool detection
func (u *accessUsecase) ReportSuspicious(ctx context.Context, id domain.Identity, tool, sessionID string) {
	action := "Kicked"
	if u.autoBan {
		action = "Auto-banned"
	}
	u.log.WithFields(logger.IdentityFields(id)).WithFields(logrus.Fields{
		"tool":       tool,
		"session_id": sessionID,
	}).Warn("Suspicious activity reported")

	u.events.Emit(domain.Event{
		Type:     domain.EventSuspiciousActivity,
		Identity: id,
		ToolName: tool,
		Reason:   "Spy tool detected: " + action,
	})
}
