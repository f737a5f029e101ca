package usecase

import (
	"context"
	"fmt"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/delivery"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/monitoring"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/sirupsen/logrus"
)

// ScriptProvider returns the protected payload
type ScriptProvider interface {
	Script(ctx context.Context) (string, error)
}

// DeliveryUsecase runs verification through to a packaged payload
type DeliveryUsecase interface {
	Deliver(ctx context.Context, req DeliveryRequest) (*Delivery, error)
	Loader(ctx context.Context, id domain.Identity, serverURL string) (string, error)
}

// DeliveryRequest is a verified-solution submission
type DeliveryRequest struct {
	Solution  domain.Solution
	ServerURL string
	Executor  string
}

// Delivery is the outcome of a successful verification
type Delivery struct {
	Response    *domain.DeliveryResponse
	Identity    domain.Identity
	Whitelisted bool
}

// DeliveryConfig contains delivery mode switches
type DeliveryConfig struct {
	ChunkDelivery     bool
	AlreadyObfuscated bool
	EncodeLoader      bool
}

type deliveryUsecase struct {
	auth     AuthUsecase
	sessions SessionUsecase
	source   ScriptProvider
	packager *delivery.Packager
	registry *registry.Registry
	events   EventEmitter
	metrics  *monitoring.Metrics
	cfg      DeliveryConfig
	log      *logrus.Entry
}

// NewDeliveryUsecase creates the delivery orchestrator
func NewDeliveryUsecase(auth AuthUsecase, sessions SessionUsecase, source ScriptProvider, packager *delivery.Packager, reg *registry.Registry, events EventEmitter, metrics *monitoring.Metrics, cfg DeliveryConfig) DeliveryUsecase {
	return &deliveryUsecase{
		auth:     auth,
		sessions: sessions,
		source:   source,
		packager: packager,
		registry: reg,
		events:   emitterOrNoop(events),
		metrics:  metrics,
		cfg:      cfg,
		log:      logger.Component("delivery"),
	}
}

// Deliver verifies the solution, opens a session and packages the payload
func (u *deliveryUsecase) Deliver(ctx context.Context, req DeliveryRequest) (*Delivery, error) {
	res, err := u.auth.Verify(ctx, req.Solution)
	if err != nil {
		return nil, err
	}
	id := res.Identity
	log := u.log.WithFields(logger.IdentityFields(id))

	script, err := u.source.Script(ctx)
	if err != nil {
		return nil, err
	}

	session, err := u.sessions.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	wrapped, err := u.packager.Wrap(script, u.packager.ShimConfig(session.ID, req.ServerURL))
	if err != nil {
		return nil, err
	}

	mode := SelectMode(res.Whitelisted, u.cfg.ChunkDelivery, u.cfg.AlreadyObfuscated, script)
	resp, err := u.packager.Package(wrapped, id, mode, session.ID, req.Solution.ClientTimestamp)
	if err != nil {
		return nil, err
	}

	u.events.Emit(domain.Event{
		Type:     domain.EventExecution,
		Identity: id,
		Executor: req.Executor,
	})
	u.metrics.RecordDelivery(string(mode))
	log.WithFields(logrus.Fields{"session_id": session.ID, "mode": mode}).Info("Payload delivered")

	return &Delivery{Response: resp, Identity: id, Whitelisted: res.Whitelisted}, nil
}

// SelectMode picks the delivery mode. Whitelisted identities get the
// wrapped payload unchunked.
func SelectMode(whitelisted, chunkDelivery, alreadyObfuscated bool, script string) domain.DeliveryMode {
	switch {
	case whitelisted:
		return domain.DeliveryRaw
	case chunkDelivery:
		return domain.DeliveryChunked
	case alreadyObfuscated || delivery.IsObfuscated(script):
		return domain.DeliveryRaw
	default:
		return domain.DeliveryEncrypted
	}
}

// Loader returns the bootstrap loader for a runtime client
func (u *deliveryUsecase) Loader(ctx context.Context, id domain.Identity, serverURL string) (string, error) {
	if u.cfg.EncodeLoader && !u.registry.IsWhitelisted(ctx, id.DeviceID, id.IdentityID, id.NetworkAddress) {
		return u.packager.BootstrapLoader(serverURL, id)
	}
	return u.packager.Loader(serverURL)
}
