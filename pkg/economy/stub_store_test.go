package economy

import (
	"context"
	"testing"
)

// stubStore is an in-memory Store that records write order for the
// durability-ordering assertions.
type stubStore struct {
	values     map[string]string
	writeOrder []string
	failPuts   bool
}

func newStubStore() *stubStore {
	return &stubStore{values: make(map[string]string)}
}

func (store *stubStore) storageKey(namespace string, key string) string {
	return namespace + "/" + key
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetInt64(_ context.Context, namespace string, key string, fallback int64) (int64, error) {
	raw, ok := store.values[store.storageKey(namespace, key)]
	if !ok {
		return fallback, nil
	}
	var value int64
	for _, digit := range []byte(raw) {
		if digit == '-' {
			continue
		}
		value = value*10 + int64(digit-'0')
	}
	if len(raw) > 0 && raw[0] == '-' {
		value = -value
	}
	return value, nil
}

func (store *stubStore) PutInt64(ctx context.Context, namespace string, key string, value int64) error {
	return store.PutString(ctx, namespace, key, formatInt(value))
}

func (store *stubStore) GetString(_ context.Context, namespace string, key string, fallback string) (string, error) {
	raw, ok := store.values[store.storageKey(namespace, key)]
	if !ok {
		return fallback, nil
	}
	return raw, nil
}

func (store *stubStore) PutString(_ context.Context, namespace string, key string, value string) error {
	if store.failPuts {
		return errStubWrite
	}
	storageKey := store.storageKey(namespace, key)
	store.values[storageKey] = value
	store.writeOrder = append(store.writeOrder, storageKey)
	return nil
}

func (store *stubStore) Delete(_ context.Context, namespace string, key string) error {
	delete(store.values, store.storageKey(namespace, key))
	return nil
}

func (store *stubStore) ClearNamespace(_ context.Context, namespace string) error {
	prefix := namespace + "/"
	for key := range store.values {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(store.values, key)
		}
	}
	return nil
}

func formatInt(value int64) string {
	if value == 0 {
		return "0"
	}
	negative := value < 0
	if negative {
		value = -value
	}
	var digits []byte
	for value > 0 {
		digits = append([]byte{byte('0' + value%10)}, digits...)
		value /= 10
	}
	if negative {
		return "-" + string(digits)
	}
	return string(digits)
}

var errStubWrite = WrapError("stub", "record", "put", ErrInvalidServiceConfig)

func mustLedger(test *testing.T, store Store, options ...LedgerOption) *Ledger {
	test.Helper()
	ledger, err := NewLedger(store, fixedClock(), options...)
	if err != nil {
		test.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func mustScoreQueue(test *testing.T, store Store, options ...ScoreQueueOption) *ScoreQueue {
	test.Helper()
	queue, err := NewScoreQueue(store, fixedClock(), options...)
	if err != nil {
		test.Fatalf("new score queue: %v", err)
	}
	return queue
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("new amount: %v", err)
	}
	return amount
}

func fixedClock() func() int64 {
	var tick int64
	return func() int64 {
		tick += 1000
		return tick
	}
}
