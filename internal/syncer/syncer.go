// Package syncer drains the pending spend and score queues against the
// remote authority. Retries are implicit: a failed entry stays unsynced and
// is re-sent on the next pass, with the same idempotency id, at the cadence
// the agent chooses. There is no backoff here.
package syncer

import (
	"context"
	"errors"

	"github.com/PocketPetLabs/petcore/internal/remote"
	"github.com/PocketPetLabs/petcore/pkg/economy"
	"go.uber.org/zap"
)

// API is the slice of the remote client the engine needs.
type API interface {
	SyncSpend(ctx context.Context, deviceID string, spend economy.PendingSpend) (remote.SpendAck, error)
	SubmitScore(ctx context.Context, deviceID string, score int64) (remote.ScoreAck, error)
}

// IdentitySource reports the paired device id, empty when unpaired.
type IdentitySource interface {
	DeviceID() string
}

// ConnectivityFunc reports whether the network is usable right now.
type ConnectivityFunc func() bool

// Engine walks both queues. It never rolls back a local debit: spends are
// committed locally and the remote side is eventually consistent.
type Engine struct {
	ledger   *economy.Ledger
	scores   *economy.ScoreQueue
	api      API
	identity IdentitySource
	online   ConnectivityFunc
	logger   *zap.Logger
}

// NewEngine wires an Engine.
func NewEngine(ledger *economy.Ledger, scores *economy.ScoreQueue, api API, identity IdentitySource, online ConnectivityFunc, logger *zap.Logger) (*Engine, error) {
	if ledger == nil || scores == nil || api == nil || identity == nil || online == nil {
		return nil, errors.New("syncer: nil dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ledger:   ledger,
		scores:   scores,
		api:      api,
		identity: identity,
		online:   online,
		logger:   logger,
	}, nil
}

// SyncSpends attempts to transmit every unsynced spend and returns the count
// acknowledged by the server this pass.
func (engine *Engine) SyncSpends(ctx context.Context) int {
	pending := engine.ledger.UnsyncedSpends()
	if len(pending) == 0 {
		return 0
	}
	deviceID, ok := engine.ready("spends")
	if !ok {
		return 0
	}

	acked := 0
	marked := 0
	for _, spend := range pending {
		if !spend.Sane() {
			// Unrecoverable garbage: mark synced so compaction drops it,
			// never transmit, never retry.
			engine.ledger.MarkSynced(spend.ID)
			marked++
			engine.logger.Warn("skipping invalid spend",
				zap.String("spend_id", spend.ID),
				zap.Int64("amount", spend.Amount))
			continue
		}
		ack, err := engine.api.SyncSpend(ctx, deviceID, spend)
		if err != nil {
			engine.logger.Warn("spend sync failed",
				zap.String("spend_id", spend.ID),
				zap.Error(err))
			continue
		}
		engine.ledger.MarkSynced(spend.ID)
		acked++
		marked++
		if ack.NewCoinBalance != nil {
			if err := engine.ledger.SetBalance(ctx, *ack.NewCoinBalance); err != nil {
				engine.logger.Error("balance update failed", zap.Error(err))
			}
		}
		engine.logger.Info("spend synced",
			zap.String("spend_id", spend.ID),
			zap.Int64("amount", spend.Amount),
			zap.String("action", spend.Category))
	}

	if marked > 0 {
		if err := engine.ledger.PersistQueue(ctx); err != nil {
			engine.logger.Error("spend queue persist failed", zap.Error(err))
		}
	}
	return acked
}

// SyncScores attempts to transmit every unsynced score and returns the count
// acknowledged this pass.
func (engine *Engine) SyncScores(ctx context.Context) int {
	pending := engine.scores.UnsyncedScores()
	if len(pending) == 0 {
		return 0
	}
	deviceID, ok := engine.ready("scores")
	if !ok {
		return 0
	}

	acked := 0
	marked := 0
	for _, score := range pending {
		if !score.Sane() {
			engine.scores.MarkSynced(score.ID)
			marked++
			engine.logger.Warn("skipping invalid score",
				zap.String("score_id", score.ID),
				zap.Int64("score", score.Score))
			continue
		}
		ack, err := engine.api.SubmitScore(ctx, deviceID, score.Score)
		if err != nil {
			engine.logger.Warn("score sync failed",
				zap.String("score_id", score.ID),
				zap.Error(err))
			continue
		}
		engine.scores.MarkSynced(score.ID)
		acked++
		marked++
		engine.logger.Info("score synced",
			zap.Int64("score", score.Score),
			zap.Bool("new_high_score", ack.IsNewHighScore),
			zap.Bool("personal_best", ack.IsPersonalBest))
	}

	if marked > 0 {
		if err := engine.scores.PersistQueue(ctx); err != nil {
			engine.logger.Error("score queue persist failed", zap.Error(err))
		}
	}
	return acked
}

// CompactSpends drops acknowledged spends, reclaiming queue capacity.
// Decoupled from sync: a crash between marking and compacting just re-sends
// an already-acknowledged id, which the server deduplicates.
func (engine *Engine) CompactSpends(ctx context.Context) int {
	removed, err := engine.ledger.Compact(ctx)
	if err != nil {
		engine.logger.Error("spend compaction failed", zap.Error(err))
	}
	return removed
}

// CompactScores drops acknowledged scores.
func (engine *Engine) CompactScores(ctx context.Context) int {
	removed, err := engine.scores.Compact(ctx)
	if err != nil {
		engine.logger.Error("score compaction failed", zap.Error(err))
	}
	return removed
}

func (engine *Engine) ready(queue string) (string, bool) {
	if !engine.online() {
		engine.logger.Debug("sync skipped, offline", zap.String("queue", queue))
		return "", false
	}
	deviceID := engine.identity.DeviceID()
	if deviceID == "" {
		engine.logger.Debug("sync skipped, no device id", zap.String("queue", queue))
		return "", false
	}
	return deviceID, true
}
