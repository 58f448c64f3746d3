package gormkv

import (
	"context"
	"errors"
	"testing"

	"github.com/PocketPetLabs/petcore/pkg/economy"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestInt64RoundTrip(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)

	value, err := store.GetInt64(ctx, "economy", "localCoins", 42)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if value != 42 {
		test.Fatalf("value = %d, want fallback 42", value)
	}

	if err := store.PutInt64(ctx, "economy", "localCoins", -7); err != nil {
		test.Fatalf("put: %v", err)
	}
	value, err = store.GetInt64(ctx, "economy", "localCoins", 42)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if value != -7 {
		test.Fatalf("value = %d, want -7", value)
	}
}

func TestStringRoundTripAndUpsert(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)

	if err := store.PutString(ctx, "economy", "spend_0", `{"id":"a"}`); err != nil {
		test.Fatalf("put: %v", err)
	}
	if err := store.PutString(ctx, "economy", "spend_0", `{"id":"b"}`); err != nil {
		test.Fatalf("second put: %v", err)
	}
	value, err := store.GetString(ctx, "economy", "spend_0", "")
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if value != `{"id":"b"}` {
		test.Fatalf("value = %q, upsert must overwrite", value)
	}
}

func TestNamespacesAreIsolated(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)

	if err := store.PutInt64(ctx, "economy", "count", 1); err != nil {
		test.Fatalf("put: %v", err)
	}
	if err := store.PutInt64(ctx, "scores", "count", 2); err != nil {
		test.Fatalf("put: %v", err)
	}

	economyCount, err := store.GetInt64(ctx, "economy", "count", 0)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	scoresCount, err := store.GetInt64(ctx, "scores", "count", 0)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if economyCount != 1 || scoresCount != 2 {
		test.Fatalf("counts = %d/%d, want 1/2", economyCount, scoresCount)
	}

	if err := store.ClearNamespace(ctx, "economy"); err != nil {
		test.Fatalf("clear: %v", err)
	}
	economyCount, err = store.GetInt64(ctx, "economy", "count", 0)
	if err != nil {
		test.Fatalf("get after clear: %v", err)
	}
	scoresCount, err = store.GetInt64(ctx, "scores", "count", 0)
	if err != nil {
		test.Fatalf("get after clear: %v", err)
	}
	if economyCount != 0 || scoresCount != 2 {
		test.Fatalf("counts = %d/%d, clear must not cross namespaces", economyCount, scoresCount)
	}
}

func TestDeleteIsIdempotent(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)

	if err := store.PutString(ctx, "device", "pairingCode", "ABC234"); err != nil {
		test.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "device", "pairingCode"); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "device", "pairingCode"); err != nil {
		test.Fatalf("second delete: %v", err)
	}
	value, err := store.GetString(ctx, "device", "pairingCode", "none")
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if value != "none" {
		test.Fatalf("value = %q, want fallback", value)
	}
}

func TestWithTxCommitsAllWrites(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)

	err := store.WithTx(ctx, func(ctx context.Context, txStore economy.Store) error {
		if err := txStore.PutInt64(ctx, "economy", "localCoins", 70); err != nil {
			return err
		}
		return txStore.PutInt64(ctx, "economy", "spendCount", 1)
	})
	if err != nil {
		test.Fatalf("with tx: %v", err)
	}

	balance, err := store.GetInt64(ctx, "economy", "localCoins", 0)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if balance != 70 {
		test.Fatalf("balance = %d, want 70", balance)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newTestStore(test)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, txStore economy.Store) error {
		if err := txStore.PutInt64(ctx, "economy", "localCoins", 99); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		test.Fatalf("err = %v, want wrapped boom", err)
	}

	balance, err := store.GetInt64(ctx, "economy", "localCoins", 0)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if balance != 0 {
		test.Fatalf("balance = %d, rollback must discard the write", balance)
	}
}
