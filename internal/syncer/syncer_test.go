package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/PocketPetLabs/petcore/internal/remote"
	"github.com/PocketPetLabs/petcore/pkg/economy"
)

type mapStore struct {
	values map[string]string
}

func newMapStore() *mapStore {
	return &mapStore{values: make(map[string]string)}
}

func (store *mapStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore economy.Store) error) error {
	return fn(ctx, store)
}

func (store *mapStore) GetInt64(ctx context.Context, namespace string, key string, fallback int64) (int64, error) {
	raw, ok := store.values[namespace+"/"+key]
	if !ok {
		return fallback, nil
	}
	var value int64
	negative := false
	for _, digit := range []byte(raw) {
		if digit == '-' {
			negative = true
			continue
		}
		value = value*10 + int64(digit-'0')
	}
	if negative {
		value = -value
	}
	return value, nil
}

func (store *mapStore) PutInt64(ctx context.Context, namespace string, key string, value int64) error {
	negative := value < 0
	if negative {
		value = -value
	}
	var digits []byte
	if value == 0 {
		digits = []byte{'0'}
	}
	for value > 0 {
		digits = append([]byte{byte('0' + value%10)}, digits...)
		value /= 10
	}
	encoded := string(digits)
	if negative {
		encoded = "-" + encoded
	}
	return store.PutString(ctx, namespace, key, encoded)
}

func (store *mapStore) GetString(_ context.Context, namespace string, key string, fallback string) (string, error) {
	raw, ok := store.values[namespace+"/"+key]
	if !ok {
		return fallback, nil
	}
	return raw, nil
}

func (store *mapStore) PutString(_ context.Context, namespace string, key string, value string) error {
	store.values[namespace+"/"+key] = value
	return nil
}

func (store *mapStore) Delete(_ context.Context, namespace string, key string) error {
	delete(store.values, namespace+"/"+key)
	return nil
}

func (store *mapStore) ClearNamespace(_ context.Context, namespace string) error {
	prefix := namespace + "/"
	for key := range store.values {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(store.values, key)
		}
	}
	return nil
}

type stubAPI struct {
	syncSpend   func(ctx context.Context, deviceID string, spend economy.PendingSpend) (remote.SpendAck, error)
	submitScore func(ctx context.Context, deviceID string, score int64) (remote.ScoreAck, error)
	spendCalls  int
	scoreCalls  int
}

func (api *stubAPI) SyncSpend(ctx context.Context, deviceID string, spend economy.PendingSpend) (remote.SpendAck, error) {
	api.spendCalls++
	if api.syncSpend == nil {
		return remote.SpendAck{}, nil
	}
	return api.syncSpend(ctx, deviceID, spend)
}

func (api *stubAPI) SubmitScore(ctx context.Context, deviceID string, score int64) (remote.ScoreAck, error) {
	api.scoreCalls++
	if api.submitScore == nil {
		return remote.ScoreAck{}, nil
	}
	return api.submitScore(ctx, deviceID, score)
}

type stubIdentity struct {
	deviceID string
}

func (identity *stubIdentity) DeviceID() string {
	return identity.deviceID
}

func alwaysOnline() bool  { return true }
func alwaysOffline() bool { return false }

func newTestLedger(test *testing.T, store economy.Store, balance int64) *economy.Ledger {
	test.Helper()
	var tick int64
	ledger, err := economy.NewLedger(store, func() int64 { tick += 1000; return tick })
	if err != nil {
		test.Fatalf("new ledger: %v", err)
	}
	if err := ledger.SetBalance(context.Background(), balance); err != nil {
		test.Fatalf("set balance: %v", err)
	}
	return ledger
}

func newTestScores(test *testing.T, store economy.Store) *economy.ScoreQueue {
	test.Helper()
	var tick int64
	scores, err := economy.NewScoreQueue(store, func() int64 { tick += 1000; return tick })
	if err != nil {
		test.Fatalf("new score queue: %v", err)
	}
	return scores
}

func newTestEngine(test *testing.T, ledger *economy.Ledger, scores *economy.ScoreQueue, api API, identity IdentitySource, online ConnectivityFunc) *Engine {
	test.Helper()
	engine, err := NewEngine(ledger, scores, api, identity, online, nil)
	if err != nil {
		test.Fatalf("new engine: %v", err)
	}
	return engine
}

func mustSpend(test *testing.T, ledger *economy.Ledger, raw int64, category string) {
	test.Helper()
	amount, err := economy.NewAmount(raw)
	if err != nil {
		test.Fatalf("new amount: %v", err)
	}
	accepted, err := ledger.TrySpend(context.Background(), amount, category)
	if err != nil {
		test.Fatalf("try spend: %v", err)
	}
	if !accepted {
		test.Fatal("spend should be accepted")
	}
}

func TestSyncSpendsFailureThenSuccess(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMapStore()
	ledger := newTestLedger(test, store, 100)
	scores := newTestScores(test, store)
	mustSpend(test, ledger, 10, "feed")

	api := &stubAPI{
		syncSpend: func(context.Context, string, economy.PendingSpend) (remote.SpendAck, error) {
			return remote.SpendAck{}, errors.New("transport down")
		},
	}
	engine := newTestEngine(test, ledger, scores, api, &stubIdentity{deviceID: "device-1"}, alwaysOnline)

	if acked := engine.SyncSpends(ctx); acked != 0 {
		test.Fatalf("acked = %d, want 0 after transport failure", acked)
	}
	if pending := ledger.PendingCount(); pending != 1 {
		test.Fatalf("pending = %d, entry must stay unsynced", pending)
	}

	api.syncSpend = func(context.Context, string, economy.PendingSpend) (remote.SpendAck, error) {
		return remote.SpendAck{}, nil
	}
	if acked := engine.SyncSpends(ctx); acked != 1 {
		test.Fatalf("acked = %d, want 1 after recovery", acked)
	}
	if pending := ledger.PendingCount(); pending != 0 {
		test.Fatalf("pending = %d, want 0", pending)
	}
}

func TestSyncSpendsRetryReusesIdempotencyID(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMapStore()
	ledger := newTestLedger(test, store, 100)
	scores := newTestScores(test, store)
	mustSpend(test, ledger, 10, "feed")

	var seen []string
	attempt := 0
	api := &stubAPI{
		syncSpend: func(_ context.Context, _ string, spend economy.PendingSpend) (remote.SpendAck, error) {
			seen = append(seen, spend.ID)
			attempt++
			if attempt == 1 {
				return remote.SpendAck{}, errors.New("transport down")
			}
			return remote.SpendAck{}, nil
		},
	}
	engine := newTestEngine(test, ledger, scores, api, &stubIdentity{deviceID: "device-1"}, alwaysOnline)

	engine.SyncSpends(ctx)
	engine.SyncSpends(ctx)
	if len(seen) != 2 {
		test.Fatalf("transmissions = %d, want 2", len(seen))
	}
	if seen[0] != seen[1] {
		test.Fatalf("retry must reuse the same id, got %q then %q", seen[0], seen[1])
	}
}

func TestSyncSpendsAppliesServerBalance(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMapStore()
	ledger := newTestLedger(test, store, 100)
	scores := newTestScores(test, store)
	mustSpend(test, ledger, 10, "feed")

	serverBalance := int64(75)
	api := &stubAPI{
		syncSpend: func(context.Context, string, economy.PendingSpend) (remote.SpendAck, error) {
			return remote.SpendAck{NewCoinBalance: &serverBalance}, nil
		},
	}
	engine := newTestEngine(test, ledger, scores, api, &stubIdentity{deviceID: "device-1"}, alwaysOnline)

	if acked := engine.SyncSpends(ctx); acked != 1 {
		test.Fatalf("acked = %d, want 1", acked)
	}
	if got := ledger.Balance(); got != 75 {
		test.Fatalf("balance = %d, want server-confirmed 75", got)
	}
}

func TestSyncSpendsMarksInvalidEntryWithoutTransmitting(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMapStore()
	store.values["economy/spendCount"] = "1"
	store.values["economy/spend_0"] = `{"id":"1234567890","timestamp":1,"amount":0,"action":"feed","synced":false}`
	store.values["economy/localCoins"] = "50"

	ledger := newTestLedger(test, store, 0)
	if err := ledger.Initialize(ctx); err != nil {
		test.Fatalf("initialize: %v", err)
	}
	scores := newTestScores(test, store)
	api := &stubAPI{}
	engine := newTestEngine(test, ledger, scores, api, &stubIdentity{deviceID: "device-1"}, alwaysOnline)

	if acked := engine.SyncSpends(ctx); acked != 0 {
		test.Fatalf("acked = %d, invalid entries are never acknowledged", acked)
	}
	if api.spendCalls != 0 {
		test.Fatalf("transmissions = %d, invalid entries must not be sent", api.spendCalls)
	}
	if pending := ledger.PendingCount(); pending != 0 {
		test.Fatalf("pending = %d, invalid entry should be marked synced", pending)
	}
	if removed := engine.CompactSpends(ctx); removed != 1 {
		test.Fatalf("compacted = %d, want 1", removed)
	}
}

func TestSyncSkipsWhenOfflineOrUnpaired(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMapStore()
	ledger := newTestLedger(test, store, 100)
	scores := newTestScores(test, store)
	mustSpend(test, ledger, 10, "feed")
	api := &stubAPI{}

	offline := newTestEngine(test, ledger, scores, api, &stubIdentity{deviceID: "device-1"}, alwaysOffline)
	if acked := offline.SyncSpends(ctx); acked != 0 {
		test.Fatalf("offline acked = %d, want 0", acked)
	}

	unpaired := newTestEngine(test, ledger, scores, api, &stubIdentity{}, alwaysOnline)
	if acked := unpaired.SyncSpends(ctx); acked != 0 {
		test.Fatalf("unpaired acked = %d, want 0", acked)
	}
	if api.spendCalls != 0 {
		test.Fatalf("transmissions = %d, want 0", api.spendCalls)
	}
}

func TestSyncScoresDrainsQueue(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMapStore()
	ledger := newTestLedger(test, store, 0)
	scores := newTestScores(test, store)
	for _, score := range []int64{10, 20} {
		accepted, err := scores.QueueScore(ctx, score)
		if err != nil || !accepted {
			test.Fatalf("queue score %d: accepted=%v err=%v", score, accepted, err)
		}
	}

	var submitted []int64
	api := &stubAPI{
		submitScore: func(_ context.Context, _ string, score int64) (remote.ScoreAck, error) {
			submitted = append(submitted, score)
			return remote.ScoreAck{IsPersonalBest: true}, nil
		},
	}
	engine := newTestEngine(test, ledger, scores, api, &stubIdentity{deviceID: "device-1"}, alwaysOnline)

	if acked := engine.SyncScores(ctx); acked != 2 {
		test.Fatalf("acked = %d, want 2", acked)
	}
	if len(submitted) != 2 || submitted[0] != 10 || submitted[1] != 20 {
		test.Fatalf("submitted = %v, want [10 20] in order", submitted)
	}
	if removed := engine.CompactScores(ctx); removed != 2 {
		test.Fatalf("compacted = %d, want 2", removed)
	}
}

func TestNewEngineRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	store := newMapStore()
	ledger := newTestLedger(test, store, 0)
	scores := newTestScores(test, store)
	api := &stubAPI{}
	identity := &stubIdentity{}

	if _, err := NewEngine(nil, scores, api, identity, alwaysOnline, nil); err == nil {
		test.Fatal("expected error for nil ledger")
	}
	if _, err := NewEngine(ledger, nil, api, identity, alwaysOnline, nil); err == nil {
		test.Fatal("expected error for nil score queue")
	}
	if _, err := NewEngine(ledger, scores, nil, identity, alwaysOnline, nil); err == nil {
		test.Fatal("expected error for nil api")
	}
	if _, err := NewEngine(ledger, scores, api, nil, alwaysOnline, nil); err == nil {
		test.Fatal("expected error for nil identity source")
	}
	if _, err := NewEngine(ledger, scores, api, identity, nil, nil); err == nil {
		test.Fatal("expected error for nil connectivity")
	}
}
