package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
)

// maxScriptSize bounds a fetched payload
const maxScriptSize = 10 << 20

// Config contains payload source settings
type Config struct {
	URL          string
	File         string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
}

// ScriptSource fetches the protected payload and caches it in the store
type ScriptSource struct {
	store  repository.Store
	client *http.Client
	cfg    Config
}

// NewScriptSource creates a payload source
func NewScriptSource(store repository.Store, cfg Config) *ScriptSource {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 300 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &ScriptSource{
		store:  store,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		cfg:    cfg,
	}
}

// Script returns the payload, from cache when possible.
// It returns domain.ErrPayloadUnavailable when nothing is configured or the
// fetch fails.
func (s *ScriptSource) Script(ctx context.Context) (string, error) {
	log := logger.Component("source")

	cached, err := s.store.Get(ctx, repository.KeyScriptCache)
	switch {
	case err == nil && len(cached) > 0:
		return string(cached), nil
	case err != nil && !repository.IsNotFound(err):
		log.WithError(err).Warn("Script cache read failed")
	}

	script, err := s.load(ctx)
	if err != nil {
		log.WithError(err).Error("Script fetch failed")
		return "", fmt.Errorf("%w: %v", domain.ErrPayloadUnavailable, err)
	}
	if script == "" {
		return "", domain.ErrPayloadUnavailable
	}

	if err := s.store.Set(ctx, repository.KeyScriptCache, []byte(script), s.cfg.CacheTTL); err != nil {
		log.WithError(err).Warn("Script cache write failed")
	}
	return script, nil
}

// Invalidate drops the cached payload
func (s *ScriptSource) Invalidate(ctx context.Context) error {
	return s.store.Delete(ctx, repository.KeyScriptCache)
}

func (s *ScriptSource) load(ctx context.Context) (string, error) {
	switch {
	case s.cfg.URL != "":
		return s.fetch(ctx)
	case s.cfg.File != "":
		data, err := os.ReadFile(s.cfg.File)
		if err != nil {
			return "", fmt.Errorf("failed to read script file: %w", err)
		}
		return string(data), nil
	default:
		return "", nil
	}
}

func (s *ScriptSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return "", fmt.Errorf("failed to read script body: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", nil
	}
	return string(body), nil
}
