package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/captcha"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/monitoring"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/sirupsen/logrus"
)

// Issuance validation errors
var (
	ErrMissingFields    = fmt.Errorf("%w: missing fields", domain.ErrInvalidRequest)
	ErrDeviceIDRequired = fmt.Errorf("%w: hwid required", domain.ErrInvalidRequest)
	ErrInvalidFormat    = fmt.Errorf("%w: invalid format", domain.ErrInvalidRequest)
)

// AuthUsecase issues and verifies challenges
type AuthUsecase interface {
	Issue(ctx context.Context, id domain.Identity) (*domain.Challenge, error)
	Verify(ctx context.Context, sol domain.Solution) (*domain.VerifyResult, error)
}

// AuthConfig represents the authenticator configuration
type AuthConfig struct {
	ChallengeTTL    time.Duration
	RequireDeviceID bool
	AllowedPlaceIDs []string

	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

type authUsecase struct {
	store    repository.Store
	registry *registry.Registry
	engine   *captcha.Engine
	events   EventEmitter
	metrics  *monitoring.Metrics
	cfg      AuthConfig
	places   map[string]struct{}
	now      func() time.Time
	log      *logrus.Entry
}

// NewAuthUsecase creates a new challenge authenticator
func NewAuthUsecase(store repository.Store, reg *registry.Registry, engine *captcha.Engine, events EventEmitter, metrics *monitoring.Metrics, cfg AuthConfig) AuthUsecase {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 120 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	places := make(map[string]struct{}, len(cfg.AllowedPlaceIDs))
	for _, p := range cfg.AllowedPlaceIDs {
		places[p] = struct{}{}
	}
	return &authUsecase{
		store:    store,
		registry: reg,
		engine:   engine,
		events:   emitterOrNoop(events),
		metrics:  metrics,
		cfg:      cfg,
		places:   places,
		now:      now,
		log:      logger.Component("auth"),
	}
}

// Issue creates a challenge bound to the identity and its network address
func (u *authUsecase) Issue(ctx context.Context, id domain.Identity) (*domain.Challenge, error) {
	if err := u.validate(id); err != nil {
		return nil, err
	}
	log := u.log.WithFields(logger.IdentityFields(id))

	decision, err := u.registry.Check(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Registry check failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if decision.Blocked {
		log.WithField("reason", decision.Reason).Info("Challenge refused")
		return nil, domain.Reject(decision.Reason)
	}

	if len(u.places) > 0 && !decision.Whitelisted {
		if _, ok := u.places[id.PlaceContext]; !ok {
			log.Info("Challenge refused for unlisted place")
			return nil, domain.Reject("Game not authorized")
		}
	}

	puzzle, answer := u.engine.Generate()
	now := u.now().UTC()
	ch := &domain.Challenge{
		ID:          newToken(),
		Identity:    id,
		Puzzle:      puzzle,
		Answer:      answer,
		Whitelisted: decision.Whitelisted,
		CreatedAt:   now,
		ExpiresAt:   now.Add(u.cfg.ChallengeTTL),
	}

	data, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := u.store.Set(ctx, repository.ChallengeKey(ch.ID), data, u.cfg.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	u.metrics.RecordChallengeIssued(string(puzzle.Type))
	log.WithFields(logrus.Fields{"challenge_id": ch.ID, "type": puzzle.Type}).Debug("Challenge issued")
	return ch, nil
}

func (u *authUsecase) validate(id domain.Identity) error {
	if id.IdentityID == "" || id.PlaceContext == "" {
		return ErrMissingFields
	}
	if u.cfg.RequireDeviceID && id.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if _, err := strconv.ParseInt(id.IdentityID, 10, 64); err != nil {
		return ErrInvalidFormat
	}
	if _, err := strconv.ParseInt(id.PlaceContext, 10, 64); err != nil {
		return ErrInvalidFormat
	}
	return nil
}

// Verify checks a solution. A wrong answer leaves the challenge in place;
// a correct one consumes it atomically so concurrent callers cannot both win.
func (u *authUsecase) Verify(ctx context.Context, sol domain.Solution) (*domain.VerifyResult, error) {
	key := repository.ChallengeKey(sol.ChallengeID)
	log := u.log.WithFields(logrus.Fields{"challenge_id": sol.ChallengeID, "network_address": sol.NetworkAddress})

	ch, err := u.load(ctx, key)
	if err != nil {
		u.metrics.RecordVerification(verifyLabel(err))
		return nil, err
	}

	if ch.Identity.NetworkAddress != sol.NetworkAddress {
		log.WithField("bound_address", ch.Identity.NetworkAddress).Info("Verification from a different address")
		u.metrics.RecordVerification("mismatch")
		return nil, domain.ErrAddressMismatch
	}

	if sol.Answer != ch.Answer {
		u.metrics.RecordVerification("wrong")
		u.recordFailure(ctx, ch.Identity)
		return nil, domain.ErrWrongAnswer
	}

	if _, err := u.store.Take(ctx, key); err != nil {
		if repository.IsNotFound(err) {
			u.metrics.RecordVerification("expired")
			return nil, domain.ErrChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	u.metrics.RecordVerification("success")
	return &domain.VerifyResult{
		ChallengeID: ch.ID,
		Identity:    ch.Identity,
		Whitelisted: ch.Whitelisted,
	}, nil
}

func (u *authUsecase) load(ctx context.Context, key string) (*domain.Challenge, error) {
	data, err := u.store.Get(ctx, key)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	var ch domain.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		u.log.WithError(err).Error("Malformed challenge record")
		return nil, domain.ErrChallengeExpired
	}
	if !u.now().Before(ch.ExpiresAt) {
		if err := u.store.Delete(ctx, key); err != nil {
			u.log.WithError(err).Warn("Failed to delete expired challenge")
		}
		return nil, domain.ErrChallengeExpired
	}
	return &ch, nil
}

func (u *authUsecase) recordFailure(ctx context.Context, id domain.Identity) {
	banID, err := u.registry.RecordFailure(ctx, id.NetworkAddress)
	if err != nil {
		u.log.WithError(err).Warn("Failed to record verification failure")
		return
	}
	if banID == "" {
		return
	}
	u.metrics.RecordBan(string(domain.BanSourceAuto))
	u.events.Emit(domain.Event{
		Type:     domain.EventBanIssued,
		Identity: domain.Identity{NetworkAddress: id.NetworkAddress},
		Reason:   "Too many failed verifications",
		BanID:    banID,
		Actor:    "System",
	})
}

func verifyLabel(err error) string {
	if errors.Is(err, domain.ErrChallengeExpired) {
		return "expired"
	}
	return "error"
}
