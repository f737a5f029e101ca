package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/repository"
	"github.com/sirupsen/logrus"
)

// BanCounter reports the number of banned keys
type BanCounter interface {
	BanCount(ctx context.Context) (int64, error)
}

// Recorder keeps the access log and the pipeline counters
type Recorder struct {
	store   repository.Store
	bans    BanCounter
	maxLogs int64
	now     func() time.Time
	log     *logrus.Entry
}

// NewRecorder creates a recorder. maxLogs bounds the access log.
func NewRecorder(store repository.Store, bans BanCounter, maxLogs int) *Recorder {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &Recorder{
		store:   store,
		bans:    bans,
		maxLogs: int64(maxLogs),
		now:     time.Now,
		log:     logger.Component("audit"),
	}
}

// Record appends an entry to the access log. Successful entries count
// towards the success counter. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, entry domain.AccessLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if len(entry.UserAgent) > 150 {
		entry.UserAgent = entry.UserAgent[:150]
	}

	data, err := json.Marshal(entry)
	if err != nil {
		r.log.WithError(err).Error("Failed to encode access log")
		return
	}
	if err := r.store.LPushCapped(ctx, repository.KeyLogs, data, r.maxLogs); err != nil {
		r.log.WithError(err).Warn("Failed to write access log")
	}
	if entry.Success {
		if _, err := r.store.Incr(ctx, repository.KeyStatsSuccess, 0); err != nil {
			r.log.WithError(err).Warn("Failed to update success counter")
		}
	}
}

// ChallengeIssued bumps the challenge counter
func (r *Recorder) ChallengeIssued(ctx context.Context) {
	if _, err := r.store.Incr(ctx, repository.KeyStatsChallenge, 0); err != nil {
		r.log.WithError(err).Warn("Failed to update challenge counter")
	}
}

// Logs returns up to limit entries, newest first
func (r *Recorder) Logs(ctx context.Context, limit int) ([]domain.AccessLog, error) {
	raw, err := r.store.LRange(ctx, repository.KeyLogs, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read access log: %w", err)
	}
	logs := make([]domain.AccessLog, 0, len(raw))
	for _, data := range raw {
		var entry domain.AccessLog
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// ClearLogs empties the access log
func (r *Recorder) ClearLogs(ctx context.Context) error {
	return r.store.Delete(ctx, repository.KeyLogs)
}

// Stats returns the pipeline counters
func (r *Recorder) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	var err error

	if stats.Success, err = r.counter(ctx, repository.KeyStatsSuccess); err != nil {
		return stats, err
	}
	if stats.Challenges, err = r.counter(ctx, repository.KeyStatsChallenge); err != nil {
		return stats, err
	}
	if r.bans != nil {
		if stats.Bans, err = r.bans.BanCount(ctx); err != nil {
			return stats, fmt.Errorf("failed to count bans: %w", err)
		}
	}
	return stats, nil
}

func (r *Recorder) counter(ctx context.Context, key string) (int64, error) {
	data, err := r.store.Get(ctx, key)
	if repository.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
