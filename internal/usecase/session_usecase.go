package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/monitoring"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/sirupsen/logrus"
)

// SessionUsecase manages delivered sessions and the heartbeat kill-switch
type SessionUsecase interface {
	Open(ctx context.Context, id domain.Identity) (*domain.Session, error)
	Heartbeat(ctx context.Context, hb Heartbeat) (domain.HeartbeatResult, error)
	Kill(ctx context.Context, sessionID, reason string) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	List(ctx context.Context) ([]domain.Session, error)
	Count(ctx context.Context) (int64, error)
	Remove(ctx context.Context, sessionID string) (bool, error)
	Clear(ctx context.Context) (int, error)
}

// Heartbeat is one liveness poll from a shim
type Heartbeat struct {
	SessionID      string
	DeviceID       string
	IdentityID     string
	NetworkAddress string
}

type sessionUsecase struct {
	store    repository.Store
	registry *registry.Registry
	metrics  *monitoring.Metrics
	now      func() time.Time
	log      *logrus.Entry
}

// NewSessionUsecase creates a session manager. now may be nil.
func NewSessionUsecase(store repository.Store, reg *registry.Registry, metrics *monitoring.Metrics, now func() time.Time) SessionUsecase {
	if now == nil {
		now = time.Now
	}
	return &sessionUsecase{
		store:    store,
		registry: reg,
		metrics:  metrics,
		now:      now,
		log:      logger.Component("session"),
	}
}

// Open records a session for a verified identity
func (u *sessionUsecase) Open(ctx context.Context, id domain.Identity) (*domain.Session, error) {
	now := u.now().UTC()
	s := &domain.Session{
		ID:         newToken(),
		Identity:   id,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := u.save(ctx, s); err != nil {
		return nil, err
	}
	u.updateGauge(ctx)
	u.log.WithFields(logger.IdentityFields(id)).WithField("session_id", s.ID).Info("Session opened")
	return s, nil
}

// Heartbeat answers continue or terminate. Known sessions are checked
// against their bound identity and the presented ids are ignored; unknown
// sessions are checked against the presented ids. Transient store errors
// skip the failing check; malformed records fail.
func (u *sessionUsecase) Heartbeat(ctx context.Context, hb Heartbeat) (domain.HeartbeatResult, error) {
	if hb.SessionID == "" {
		return u.answer(domain.Continue()), nil
	}
	log := u.log.WithField("session_id", hb.SessionID)

	s, err := u.Get(ctx, hb.SessionID)
	switch {
	case err == nil:
		s.LastSeenAt = u.now().UTC()
		if err := u.save(ctx, s); err != nil {
			log.WithError(err).Warn("Failed to update session")
		}
		// a known session is judged on the identity it was verified with
		hb.DeviceID = s.Identity.DeviceID
		hb.IdentityID = s.Identity.IdentityID
		hb.NetworkAddress = s.Identity.NetworkAddress
	case errors.Is(err, domain.ErrSessionNotFound):
	default:
		if err := tolerate(err); err != nil {
			return domain.HeartbeatResult{}, err
		}
	}

	// kill-switch applies even to whitelisted identities
	killed, err := u.registry.IsSuspended(ctx, "", "", hb.SessionID)
	if err := tolerate(err); err != nil {
		return domain.HeartbeatResult{}, err
	}
	if killed.Suspended {
		log.WithField("reason", killed.Reason).Info("Session terminated")
		return u.answer(domain.Terminate(killed.Reason)), nil
	}

	if u.registry.IsWhitelisted(ctx, hb.DeviceID, hb.IdentityID, hb.NetworkAddress) {
		return u.answer(domain.Continue()), nil
	}

	susp, err := u.registry.IsSuspended(ctx, hb.DeviceID, hb.IdentityID, "")
	if err := tolerate(err); err != nil {
		return domain.HeartbeatResult{}, err
	}
	if susp.Suspended {
		log.WithField("reason", susp.Reason).Info("Session terminated")
		return u.answer(domain.Terminate(susp.Reason)), nil
	}

	ban, err := u.registry.IsBlocked(ctx, hb.DeviceID, hb.NetworkAddress, hb.IdentityID)
	if err := tolerate(err); err != nil {
		return domain.HeartbeatResult{}, err
	}
	if ban.Blocked {
		log.WithField("ban_id", ban.BanID).Info("Session terminated by ban")
		return u.answer(domain.Terminate("Banned: " + ban.Reason)), nil
	}

	return u.answer(domain.Continue()), nil
}

func (u *sessionUsecase) answer(res domain.HeartbeatResult) domain.HeartbeatResult {
	u.metrics.RecordHeartbeat(string(res.Action))
	return res
}

// tolerate swallows transient store errors and surfaces everything else
func tolerate(err error) error {
	if err == nil || repository.IsUnavailable(err) {
		if err != nil {
			logger.Component("session").WithError(err).Warn("Store unavailable during heartbeat")
		}
		return nil
	}
	if errors.Is(err, repository.ErrMalformedRecord) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return err
}

// Kill suspends the session. The shim stops on its next heartbeat.
func (u *sessionUsecase) Kill(ctx context.Context, sessionID, reason string) error {
	s, err := u.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "Killed by admin"
	}
	if _, err := u.registry.Suspend(ctx, domain.SuspendSession, sessionID, reason, 0); err != nil {
		return err
	}
	u.log.WithFields(logger.IdentityFields(s.Identity)).WithField("session_id", sessionID).Info("Session killed")
	return nil
}

// Get returns a session or domain.ErrSessionNotFound
func (u *sessionUsecase) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := u.store.HGet(ctx, repository.KeySessions, sessionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, repository.ErrMalformedRecord)
	}
	return &s, nil
}

// List returns all sessions, newest first
func (u *sessionUsecase) List(ctx context.Context) ([]domain.Session, error) {
	all, err := u.store.HGetAll(ctx, repository.KeySessions)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]domain.Session, 0, len(all))
	for id, data := range all {
		var s domain.Session
		if err := json.Unmarshal(data, &s); err != nil {
			u.log.WithField("session_id", id).WithError(err).Error("Malformed session record")
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Count returns the number of sessions
func (u *sessionUsecase) Count(ctx context.Context) (int64, error) {
	return u.store.HLen(ctx, repository.KeySessions)
}

// Remove deletes a session record
func (u *sessionUsecase) Remove(ctx context.Context, sessionID string) (bool, error) {
	n, err := u.store.HDel(ctx, repository.KeySessions, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to remove session: %w", err)
	}
	u.updateGauge(ctx)
	return n > 0, nil
}

// Clear deletes every session and returns how many there were
func (u *sessionUsecase) Clear(ctx context.Context) (int, error) {
	n, err := u.Count(ctx)
	if err != nil {
		return 0, err
	}
	if err := u.store.Delete(ctx, repository.KeySessions); err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}
	u.metrics.SetActiveSessions(0)
	return int(n), nil
}

func (u *sessionUsecase) save(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := u.store.HSet(ctx, repository.KeySessions, s.ID, data); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (u *sessionUsecase) updateGauge(ctx context.Context) {
	if n, err := u.Count(ctx); err == nil {
		u.metrics.SetActiveSessions(int(n))
	}
}
