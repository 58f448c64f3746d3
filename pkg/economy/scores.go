package economy

import (
	"context"
	"encoding/json"
	"fmt"
)

// ScoreQueue holds game scores awaiting submission. Same queue discipline as
// the spend queue, separate namespace, but overflow evicts the oldest entry
// instead of dropping the newcomer: a fresher score is worth more than a
// stale one.
type ScoreQueue struct {
	store    Store
	queue    *Ring[PendingScore]
	capacity int
	nowMS    func() int64
	logger   OperationLogger
}

// NewScoreQueue wires a ScoreQueue.
func NewScoreQueue(store Store, nowMillis func() int64, options ...ScoreQueueOption) (*ScoreQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if nowMillis == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	scoreQueue := &ScoreQueue{store: store, nowMS: nowMillis, capacity: DefaultScoreCapacity}
	for _, option := range options {
		if option != nil {
			option(scoreQueue)
		}
	}
	queue, err := NewRing[PendingScore](scoreQueue.capacity)
	if err != nil {
		return nil, err
	}
	scoreQueue.queue = queue
	return scoreQueue, nil
}

// Initialize loads the score queue from the store, clamping invalid counts.
func (scoreQueue *ScoreQueue) Initialize(ctx context.Context) error {
	count, err := scoreQueue.store.GetInt64(ctx, namespaceScores, keyScoreCount, 0)
	if err != nil {
		return WrapError(operationInitialize, "score_queue", "load_count", err)
	}
	count = clampInt64(count, 0, int64(scoreQueue.queue.Capacity()))

	loaded := make([]PendingScore, 0, count)
	for slot := int64(0); slot < count; slot++ {
		raw, err := scoreQueue.store.GetString(ctx, namespaceScores, scoreSlotKey(int(slot)), "")
		if err != nil {
			return WrapError(operationInitialize, "score_queue", "load_slot", err)
		}
		if raw == "" {
			continue
		}
		var score PendingScore
		if err := json.Unmarshal([]byte(raw), &score); err != nil {
			continue
		}
		loaded = append(loaded, score)
	}
	scoreQueue.queue.Restore(loaded)
	return nil
}

// QueueScore records a finished game's score for submission. Negative scores
// are rejected with no state change.
func (scoreQueue *ScoreQueue) QueueScore(ctx context.Context, score int64) (bool, error) {
	if score < 0 {
		scoreQueue.logOperation(ctx, OperationLog{
			Operation: operationQueueScore,
			Amount:    score,
			Status:    operationStatusError,
			Error:     ErrInvalidScore,
		})
		return false, nil
	}
	entry := PendingScore{
		ID:          NewOpID().String(),
		TimestampMS: scoreQueue.nowMS(),
		Score:       score,
	}
	if scoreQueue.queue.PushEvict(entry) {
		scoreQueue.logOperation(ctx, OperationLog{
			Operation: operationScoreEvict,
			OpID:      entry.ID,
			Amount:    entry.Score,
			Status:    operationStatusWarn,
		})
	}
	if err := scoreQueue.PersistQueue(ctx); err != nil {
		return true, WrapError(operationQueueScore, "score_queue", "persist", err)
	}
	scoreQueue.logOperation(ctx, OperationLog{
		Operation: operationQueueScore,
		OpID:      entry.ID,
		Amount:    entry.Score,
	})
	return true, nil
}

// UnsyncedScores returns copies of the entries still awaiting submission.
func (scoreQueue *ScoreQueue) UnsyncedScores() []PendingScore {
	unsynced := make([]PendingScore, 0, scoreQueue.queue.Len())
	for index := 0; index < scoreQueue.queue.Len(); index++ {
		if score := scoreQueue.queue.At(index); !score.Synced {
			unsynced = append(unsynced, score)
		}
	}
	return unsynced
}

// MarkSynced flags the entry with the given id as submitted.
func (scoreQueue *ScoreQueue) MarkSynced(id string) bool {
	for index := 0; index < scoreQueue.queue.Len(); index++ {
		score := scoreQueue.queue.At(index)
		if score.ID == id && !score.Synced {
			score.Synced = true
			scoreQueue.queue.Set(index, score)
			return true
		}
	}
	return false
}

// PendingCount returns the number of unsynced entries.
func (scoreQueue *ScoreQueue) PendingCount() int {
	return len(scoreQueue.UnsyncedScores())
}

// QueueLen returns the total queue length including synced entries.
func (scoreQueue *ScoreQueue) QueueLen() int {
	return scoreQueue.queue.Len()
}

// Compact drops all synced entries and persists when anything was removed.
func (scoreQueue *ScoreQueue) Compact(ctx context.Context) (int, error) {
	removed := scoreQueue.queue.Compact(func(score PendingScore) bool {
		return !score.Synced
	})
	if removed == 0 {
		return 0, nil
	}
	if err := scoreQueue.PersistQueue(ctx); err != nil {
		return removed, WrapError(operationCompact, "score_queue", "persist", err)
	}
	scoreQueue.logOperation(ctx, OperationLog{
		Operation: operationCompact,
		Amount:    int64(removed),
	})
	return removed, nil
}

// PersistQueue writes the full queue snapshot in one transaction.
func (scoreQueue *ScoreQueue) PersistQueue(ctx context.Context) error {
	items := scoreQueue.queue.Items()
	return scoreQueue.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.PutInt64(ctx, namespaceScores, keyScoreCount, int64(len(items))); err != nil {
			return err
		}
		for slot, score := range items {
			encoded, err := json.Marshal(score)
			if err != nil {
				return err
			}
			if err := txStore.PutString(ctx, namespaceScores, scoreSlotKey(slot), string(encoded)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset clears the queue. Factory reset only.
func (scoreQueue *ScoreQueue) Reset(ctx context.Context) error {
	if err := scoreQueue.store.ClearNamespace(ctx, namespaceScores); err != nil {
		return WrapError(operationReset, "scores", "clear", err)
	}
	scoreQueue.queue.Restore(nil)
	scoreQueue.logOperation(ctx, OperationLog{Operation: operationReset})
	return nil
}

func (scoreQueue *ScoreQueue) logOperation(ctx context.Context, entry OperationLog) {
	if scoreQueue.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	scoreQueue.logger.LogOperation(ctx, entry)
}

func scoreSlotKey(slot int) string {
	return fmt.Sprintf("%s%d", scoreKeyPrefix, slot)
}
