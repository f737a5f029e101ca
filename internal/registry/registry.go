package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config contains registry settings
type Config struct {
	// StaticWhitelist entries come from configuration and cannot be removed at runtime
	StaticWhitelist domain.Whitelist

	AbuseBanEnabled   bool
	MaxFailedAttempts int
	FailureWindow     time.Duration

	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Registry owns ban, suspend and whitelist records
type Registry struct {
	store  repository.Store
	cfg    Config
	static map[domain.WhitelistType]map[string]struct{}
	now    func() time.Time
	log    *logrus.Entry
}

// New creates a registry over the given store
func New(store repository.Store, cfg Config) *Registry {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		store: store,
		cfg:   cfg,
		static: map[domain.WhitelistType]map[string]struct{}{
			domain.WhitelistDevice:   toSet(cfg.StaticWhitelist.DeviceIDs),
			domain.WhitelistIdentity: toSet(cfg.StaticWhitelist.IdentityIDs),
			domain.WhitelistNetwork:  toSet(cfg.StaticWhitelist.NetworkAddresses),
		},
		now: now,
		log: logger.Component("registry"),
	}
	return r
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// newBanID returns a short opaque ban identifier
func newBanID() string {
	id := uuid.New()
	return strings.ToUpper(fmt.Sprintf("%x", id[:8]))
}

// IsBlocked checks every non-empty key against the ban map. The first match wins.
func (r *Registry) IsBlocked(ctx context.Context, deviceID, networkAddress, identityID string) (domain.BlockResult, error) {
	for _, key := range []string{deviceID, networkAddress, identityID} {
		if key == "" {
			continue
		}
		rec, err := r.getBan(ctx, key)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return domain.BlockResult{}, err
		}
		reason := rec.Reason
		if reason == "" {
			reason = "Banned"
		}
		return domain.BlockResult{Blocked: true, Reason: reason, BanID: rec.BanID}, nil
	}
	return domain.BlockResult{}, nil
}

func (r *Registry) getBan(ctx context.Context, key string) (*domain.BanRecord, error) {
	data, err := r.store.HGet(ctx, repository.KeyBans, key)
	if err != nil {
		return nil, err
	}
	var rec domain.BanRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.WithField("key", key).WithError(err).Error("Malformed ban record")
		return nil, fmt.Errorf("ban %q: %w", key, repository.ErrMalformedRecord)
	}
	rec.Key = key
	return &rec, nil
}

// IsSuspended checks session, then device, then identity. Lapsed records are
// deleted when read.
func (r *Registry) IsSuspended(ctx context.Context, deviceID, identityID, sessionID string) (domain.SuspendResult, error) {
	checks := []struct {
		kind  domain.SuspendType
		value string
	}{
		{domain.SuspendSession, sessionID},
		{domain.SuspendDevice, deviceID},
		{domain.SuspendIdentity, identityID},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		rec, err := r.getSuspend(ctx, c.kind, c.value)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return domain.SuspendResult{}, err
		}
		reason := rec.Reason
		if reason == "" {
			reason = "Suspended by admin"
		}
		return domain.SuspendResult{Suspended: true, Type: c.kind, Reason: reason}, nil
	}
	return domain.SuspendResult{}, nil
}

func (r *Registry) getSuspend(ctx context.Context, kind domain.SuspendType, value string) (*domain.SuspendRecord, error) {
	key := repository.SuspendKey(string(kind), value)
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec domain.SuspendRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.WithField("key", key).WithError(err).Error("Malformed suspend record")
		return nil, fmt.Errorf("suspend %q: %w", key, repository.ErrMalformedRecord)
	}
	if rec.Expired(r.now()) {
		if err := r.store.Delete(ctx, key); err != nil {
			r.log.WithError(err).Warn("Failed to evict expired suspension")
		}
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

// IsWhitelisted reports membership of any of the given keys. Store errors
// count as not whitelisted.
func (r *Registry) IsWhitelisted(ctx context.Context, deviceID, identityID, networkAddress string) bool {
	checks := []struct {
		kind  domain.WhitelistType
		value string
	}{
		{domain.WhitelistNetwork, networkAddress},
		{domain.WhitelistIdentity, identityID},
		{domain.WhitelistDevice, deviceID},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		if _, ok := r.static[c.kind][c.value]; ok {
			return true
		}
		member, err := r.store.SIsMember(ctx, repository.WhitelistKey(string(c.kind)), c.value)
		if err != nil {
			r.log.WithError(err).Warn("Whitelist lookup failed")
			continue
		}
		if member {
			return true
		}
	}
	return false
}

// Check returns the combined verdict for an identity. Whitelist membership
// short-circuits the suspend and ban checks.
func (r *Registry) Check(ctx context.Context, id domain.Identity) (domain.Decision, error) {
	if r.IsWhitelisted(ctx, id.DeviceID, id.IdentityID, id.NetworkAddress) {
		return domain.Decision{Whitelisted: true}, nil
	}

	susp, err := r.IsSuspended(ctx, id.DeviceID, id.IdentityID, "")
	if err != nil {
		return domain.Decision{}, err
	}
	if susp.Suspended {
		return domain.Decision{Blocked: true, Reason: "Suspended: " + susp.Reason}, nil
	}

	ban, err := r.IsBlocked(ctx, id.DeviceID, id.NetworkAddress, id.IdentityID)
	if err != nil {
		return domain.Decision{}, err
	}
	if ban.Blocked {
		return domain.Decision{Blocked: true, Reason: "Banned: " + ban.Reason, BanID: ban.BanID}, nil
	}
	return domain.Decision{}, nil
}

// Ban creates a ban record for every non-empty key of req. Keys that are
// already banned keep their record. New keys share one ban id, which is
// returned; when every key was already banned the existing id is returned.
func (r *Registry) Ban(ctx context.Context, req domain.BanRequest) (string, error) {
	banID, _, err := r.BanKeys(ctx, req)
	return banID, err
}

// BanKeys is Ban that also reports whether any key was newly banned
func (r *Registry) BanKeys(ctx context.Context, req domain.BanRequest) (string, bool, error) {
	keys := req.Keys()
	if len(keys) == 0 {
		return "", false, fmt.Errorf("%w: ban needs at least one key", domain.ErrInvalidRequest)
	}
	if req.Reason == "" {
		req.Reason = "Manual"
	}
	if req.Source == "" {
		req.Source = domain.BanSourceManual
	}

	rec := domain.BanRecord{
		BanID:          newBanID(),
		Reason:         req.Reason,
		Source:         req.Source,
		DeviceID:       req.DeviceID,
		IdentityID:     req.IdentityID,
		NetworkAddress: req.NetworkAddress,
		CreatedAt:      r.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode ban: %w", err)
	}

	created := false
	existingID := ""
	for _, key := range keys {
		ok, err := r.store.HSetNX(ctx, repository.KeyBans, key, data)
		if err != nil {
			return "", false, fmt.Errorf("failed to store ban: %w", err)
		}
		if ok {
			created = true
			continue
		}
		if existingID == "" {
			if prev, err := r.getBan(ctx, key); err == nil {
				existingID = prev.BanID
			}
		}
	}

	if !created {
		return existingID, false, nil
	}

	r.log.WithFields(logrus.Fields{
		"ban_id": rec.BanID,
		"source": rec.Source,
		"keys":   len(keys),
	}).Info("Ban issued")
	return rec.BanID, true, nil
}

// Unban removes the ban of a single key
func (r *Registry) Unban(ctx context.Context, key string) (bool, error) {
	n, err := r.store.HDel(ctx, repository.KeyBans, key)
	if err != nil {
		return false, fmt.Errorf("failed to remove ban: %w", err)
	}
	return n > 0, nil
}

// UnbanByID removes every key carrying the given ban id
func (r *Registry) UnbanByID(ctx context.Context, banID string) (int, error) {
	bans, err := r.ListBans(ctx)
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, b := range bans {
		if b.BanID == banID {
			keys = append(keys, b.Key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.store.HDel(ctx, repository.KeyBans, keys...)
	if err != nil {
		return 0, fmt.Errorf("failed to remove ban: %w", err)
	}
	return int(n), nil
}

// ListBans returns all bans, newest first. Malformed records are skipped.
func (r *Registry) ListBans(ctx context.Context) ([]domain.BanRecord, error) {
	all, err := r.store.HGetAll(ctx, repository.KeyBans)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	bans := make([]domain.BanRecord, 0, len(all))
	for key, data := range all {
		var rec domain.BanRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			r.log.WithField("key", key).WithError(err).Error("Malformed ban record")
			continue
		}
		rec.Key = key
		bans = append(bans, rec)
	}
	sort.Slice(bans, func(i, j int) bool {
		if bans[i].CreatedAt.Equal(bans[j].CreatedAt) {
			return bans[i].Key < bans[j].Key
		}
		return bans[i].CreatedAt.After(bans[j].CreatedAt)
	})
	return bans, nil
}

// BanCount returns the number of banned keys
func (r *Registry) BanCount(ctx context.Context) (int64, error) {
	return r.store.HLen(ctx, repository.KeyBans)
}

// ClearBans removes every ban
func (r *Registry) ClearBans(ctx context.Context) error {
	return r.store.Delete(ctx, repository.KeyBans)
}

// Suspend suspends a device, identity or session. A zero duration is permanent.
func (r *Registry) Suspend(ctx context.Context, kind domain.SuspendType, value, reason string, duration time.Duration) (*domain.SuspendRecord, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: suspend value is required", domain.ErrInvalidRequest)
	}
	if _, err := domain.ParseSuspendType(string(kind)); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Suspended by admin"
	}

	now := r.now().UTC()
	rec := &domain.SuspendRecord{
		Type:      kind,
		Value:     value,
		Reason:    reason,
		CreatedAt: now,
	}
	if duration > 0 {
		exp := now.Add(duration)
		rec.ExpiresAt = &exp
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode suspension: %w", err)
	}
	if err := r.store.Set(ctx, repository.SuspendKey(string(kind), value), data, duration); err != nil {
		return nil, fmt.Errorf("failed to store suspension: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"type":     kind,
		"value":    value,
		"duration": duration.String(),
	}).Info("Suspension added")
	return rec, nil
}

// Unsuspend removes a suspension and reports whether it existed
func (r *Registry) Unsuspend(ctx context.Context, kind domain.SuspendType, value string) (bool, error) {
	key := repository.SuspendKey(string(kind), value)
	if _, err := r.store.Get(ctx, key); err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read suspension: %w", err)
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("failed to remove suspension: %w", err)
	}
	return true, nil
}

// ListSuspends returns the active suspensions, newest first
func (r *Registry) ListSuspends(ctx context.Context) ([]domain.SuspendRecord, error) {
	keys, err := r.store.Keys(ctx, repository.PrefixSuspend)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspensions: %w", err)
	}
	out := make([]domain.SuspendRecord, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, repository.PrefixSuspend)
		kind, value, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		rec, err := r.getSuspend(ctx, domain.SuspendType(kind), value)
		if err != nil {
			if repository.IsNotFound(err) || errors.Is(err, repository.ErrMalformedRecord) {
				continue
			}
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ClearSuspends removes every suspension
func (r *Registry) ClearSuspends(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, repository.PrefixSuspend)
	if err != nil {
		return 0, fmt.Errorf("failed to list suspensions: %w", err)
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to clear suspensions: %w", err)
	}
	return len(keys), nil
}

// AddWhitelist adds a dynamic whitelist entry
func (r *Registry) AddWhitelist(ctx context.Context, kind domain.WhitelistType, value string) error {
	if value == "" {
		return fmt.Errorf("%w: whitelist value is required", domain.ErrInvalidRequest)
	}
	if _, err := domain.ParseWhitelistType(string(kind)); err != nil {
		return err
	}
	if err := r.store.SAdd(ctx, repository.WhitelistKey(string(kind)), value); err != nil {
		return fmt.Errorf("failed to add whitelist entry: %w", err)
	}
	return nil
}

// RemoveWhitelist removes a dynamic whitelist entry. Static entries are refused.
func (r *Registry) RemoveWhitelist(ctx context.Context, kind domain.WhitelistType, value string) error {
	if _, err := domain.ParseWhitelistType(string(kind)); err != nil {
		return err
	}
	if _, ok := r.static[kind][value]; ok {
		return domain.ErrStaticWhitelist
	}
	if err := r.store.SRem(ctx, repository.WhitelistKey(string(kind)), value); err != nil {
		return fmt.Errorf("failed to remove whitelist entry: %w", err)
	}
	return nil
}

// ListWhitelist returns static and dynamic entries merged
func (r *Registry) ListWhitelist(ctx context.Context) (domain.Whitelist, error) {
	merge := func(kind domain.WhitelistType) ([]string, error) {
		set := make(map[string]struct{}, len(r.static[kind]))
		for v := range r.static[kind] {
			set[v] = struct{}{}
		}
		dynamic, err := r.store.SMembers(ctx, repository.WhitelistKey(string(kind)))
		if err != nil {
			return nil, fmt.Errorf("failed to list whitelist: %w", err)
		}
		for _, v := range dynamic {
			set[v] = struct{}{}
		}
		out := make([]string, 0, len(set))
		for v := range set {
			out = append(out, v)
		}
		sort.Strings(out)
		return out, nil
	}

	var (
		wl  domain.Whitelist
		err error
	)
	if wl.DeviceIDs, err = merge(domain.WhitelistDevice); err != nil {
		return wl, err
	}
	if wl.IdentityIDs, err = merge(domain.WhitelistIdentity); err != nil {
		return wl, err
	}
	if wl.NetworkAddresses, err = merge(domain.WhitelistNetwork); err != nil {
		return wl, err
	}
	return wl, nil
}

// RecordFailure counts a failed verification from a network address and
// bans the address once the threshold is reached within the window.
// It returns the ban id when a ban was issued.
func (r *Registry) RecordFailure(ctx context.Context, networkAddress string) (string, error) {
	if !r.cfg.AbuseBanEnabled || networkAddress == "" || r.cfg.MaxFailedAttempts <= 0 {
		return "", nil
	}
	if r.IsWhitelisted(ctx, "", "", networkAddress) {
		return "", nil
	}

	key := repository.FailureKey(networkAddress)
	count, err := r.store.Incr(ctx, key, r.cfg.FailureWindow)
	if err != nil {
		return "", fmt.Errorf("failed to record failure: %w", err)
	}
	if count < int64(r.cfg.MaxFailedAttempts) {
		return "", nil
	}

	banID, err := r.Ban(ctx, domain.BanRequest{
		NetworkAddress: networkAddress,
		Reason:         fmt.Sprintf("Too many failed verifications (%d)", count),
		Source:         domain.BanSourceAuto,
	})
	if err != nil {
		return "", err
	}
	if err := r.store.Delete(ctx, key); err != nil {
		r.log.WithError(err).Warn("Failed to reset failure counter")
	}
	return banID, nil
}
