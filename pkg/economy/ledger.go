package economy

import (
	"context"
	"encoding/json"
	"fmt"
)

// Ledger owns the authoritative local coin balance and the pending spend
// queue. Spends commit locally first; the sync engine reconciles with the
// remote authority later.
type Ledger struct {
	store    Store
	queue    *Ring[PendingSpend]
	balance  int64
	capacity int
	nowMS    func() int64
	logger   OperationLogger
}

// NewLedger wires a Ledger. nowMillis is the device's monotonic clock.
func NewLedger(store Store, nowMillis func() int64, options ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if nowMillis == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	ledger := &Ledger{store: store, nowMS: nowMillis, capacity: DefaultSpendCapacity}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	queue, err := NewRing[PendingSpend](ledger.capacity)
	if err != nil {
		return nil, err
	}
	ledger.queue = queue
	return ledger, nil
}

// Initialize loads the balance and spend queue from the store. Counts outside
// [0, capacity] are clamped; undecodable slots are skipped. No network access.
func (ledger *Ledger) Initialize(ctx context.Context) error {
	count, err := ledger.store.GetInt64(ctx, namespaceEconomy, keySpendCount, 0)
	if err != nil {
		return WrapError(operationInitialize, "spend_queue", "load_count", err)
	}
	count = clampInt64(count, 0, int64(ledger.queue.Capacity()))

	loaded := make([]PendingSpend, 0, count)
	for slot := int64(0); slot < count; slot++ {
		raw, err := ledger.store.GetString(ctx, namespaceEconomy, spendSlotKey(int(slot)), "")
		if err != nil {
			return WrapError(operationInitialize, "spend_queue", "load_slot", err)
		}
		if raw == "" {
			continue
		}
		var spend PendingSpend
		if err := json.Unmarshal([]byte(raw), &spend); err != nil {
			continue
		}
		loaded = append(loaded, spend)
	}
	ledger.queue.Restore(loaded)

	balance, err := ledger.store.GetInt64(ctx, namespaceEconomy, keyLocalCoins, 0)
	if err != nil {
		return WrapError(operationInitialize, "balance", "load", err)
	}
	if balance < 0 {
		balance = 0
	}
	ledger.balance = balance
	return nil
}

// TrySpend debits the balance and queues the spend for sync. It returns false
// with no state change when the balance cannot cover the amount.
//
// Durability ordering: the balance is committed before the queue snapshot. A
// crash between the two writes loses at most the queue entry, never coins.
func (ledger *Ledger) TrySpend(ctx context.Context, amount Amount, category string) (bool, error) {
	normalizedCategory, err := NewCategory(category)
	if err != nil {
		return false, err
	}
	if amount.Int64() > ledger.balance {
		ledger.logOperation(ctx, OperationLog{
			Operation: operationSpend,
			Amount:    amount.Int64(),
			Category:  normalizedCategory,
			Balance:   ledger.balance,
			Status:    operationStatusError,
			Error:     ErrInsufficientFunds,
		})
		return false, nil
	}

	ledger.balance -= amount.Int64()
	spend := PendingSpend{
		ID:          NewOpID().String(),
		TimestampMS: ledger.nowMS(),
		Amount:      amount.Int64(),
		Category:    normalizedCategory,
	}
	if !ledger.queue.Push(spend) {
		// Queue full: the debit stands but the entry is dropped, so this
		// spend can never be synced. The remote side reconciles from its
		// own balance on the next config poll.
		ledger.logOperation(ctx, OperationLog{
			Operation: operationSpendDrop,
			OpID:      spend.ID,
			Amount:    spend.Amount,
			Category:  spend.Category,
			Balance:   ledger.balance,
			Status:    operationStatusWarn,
		})
	}

	if err := ledger.persistBalance(ctx); err != nil {
		return true, WrapError(operationSpend, "balance", "persist", err)
	}
	if err := ledger.PersistQueue(ctx); err != nil {
		return true, WrapError(operationSpend, "spend_queue", "persist", err)
	}
	ledger.logOperation(ctx, OperationLog{
		Operation: operationSpend,
		OpID:      spend.ID,
		Amount:    spend.Amount,
		Category:  spend.Category,
		Balance:   ledger.balance,
	})
	return true, nil
}

// Balance returns the in-memory local coin balance.
func (ledger *Ledger) Balance() int64 {
	return ledger.balance
}

// SetBalance overwrites the balance with a server-confirmed value and
// persists it immediately. Negative values clamp to zero.
func (ledger *Ledger) SetBalance(ctx context.Context, value int64) error {
	if value < 0 {
		value = 0
	}
	ledger.balance = value
	err := ledger.persistBalance(ctx)
	ledger.logOperation(ctx, OperationLog{
		Operation: operationSetBalance,
		Balance:   ledger.balance,
		Error:     err,
	})
	if err != nil {
		return WrapError(operationSetBalance, "balance", "persist", err)
	}
	return nil
}

// Credit adds server-earned coins to the balance and persists it.
func (ledger *Ledger) Credit(ctx context.Context, delta Amount) error {
	ledger.balance += delta.Int64()
	err := ledger.persistBalance(ctx)
	ledger.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		Amount:    delta.Int64(),
		Balance:   ledger.balance,
		Error:     err,
	})
	if err != nil {
		return WrapError(operationCredit, "balance", "persist", err)
	}
	return nil
}

// Reset clears the balance and queue. Factory reset only.
func (ledger *Ledger) Reset(ctx context.Context) error {
	if err := ledger.store.ClearNamespace(ctx, namespaceEconomy); err != nil {
		return WrapError(operationReset, "economy", "clear", err)
	}
	ledger.balance = 0
	ledger.queue.Restore(nil)
	ledger.logOperation(ctx, OperationLog{Operation: operationReset})
	return nil
}

// UnsyncedSpends returns copies of the entries still awaiting acknowledgment.
func (ledger *Ledger) UnsyncedSpends() []PendingSpend {
	unsynced := make([]PendingSpend, 0, ledger.queue.Len())
	for index := 0; index < ledger.queue.Len(); index++ {
		if spend := ledger.queue.At(index); !spend.Synced {
			unsynced = append(unsynced, spend)
		}
	}
	return unsynced
}

// MarkSynced flags the entry with the given id as acknowledged. The flag is
// in-memory only; callers persist once per sync pass via PersistQueue.
func (ledger *Ledger) MarkSynced(id string) bool {
	for index := 0; index < ledger.queue.Len(); index++ {
		spend := ledger.queue.At(index)
		if spend.ID == id && !spend.Synced {
			spend.Synced = true
			ledger.queue.Set(index, spend)
			return true
		}
	}
	return false
}

// PendingCount returns the number of unsynced entries. UI status only.
func (ledger *Ledger) PendingCount() int {
	return len(ledger.UnsyncedSpends())
}

// QueueLen returns the total queue length including synced entries.
func (ledger *Ledger) QueueLen() int {
	return ledger.queue.Len()
}

// Compact drops all synced entries, preserving the order of the rest, and
// persists the queue when anything was removed.
func (ledger *Ledger) Compact(ctx context.Context) (int, error) {
	removed := ledger.queue.Compact(func(spend PendingSpend) bool {
		return !spend.Synced
	})
	if removed == 0 {
		return 0, nil
	}
	if err := ledger.PersistQueue(ctx); err != nil {
		return removed, WrapError(operationCompact, "spend_queue", "persist", err)
	}
	ledger.logOperation(ctx, OperationLog{
		Operation: operationCompact,
		Amount:    int64(removed),
		Balance:   ledger.balance,
	})
	return removed, nil
}

// PersistQueue writes the full queue snapshot in one transaction.
func (ledger *Ledger) PersistQueue(ctx context.Context) error {
	items := ledger.queue.Items()
	return ledger.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.PutInt64(ctx, namespaceEconomy, keySpendCount, int64(len(items))); err != nil {
			return err
		}
		for slot, spend := range items {
			encoded, err := json.Marshal(spend)
			if err != nil {
				return err
			}
			if err := txStore.PutString(ctx, namespaceEconomy, spendSlotKey(slot), string(encoded)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ledger *Ledger) persistBalance(ctx context.Context) error {
	return ledger.store.PutInt64(ctx, namespaceEconomy, keyLocalCoins, ledger.balance)
}

func (ledger *Ledger) logOperation(ctx context.Context, entry OperationLog) {
	if ledger.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	ledger.logger.LogOperation(ctx, entry)
}

func spendSlotKey(slot int) string {
	return fmt.Sprintf("%s%d", spendKeyPrefix, slot)
}

func clampInt64(value int64, low int64, high int64) int64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
