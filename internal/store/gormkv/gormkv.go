package gormkv

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/PocketPetLabs/petcore/pkg/economy"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	sqliteBusyCode             = 5

	maxTxAttempts = 2

	errorOperationStore = "store"
	errorSubjectRecord  = "record"
	errorSubjectTx      = "tx"
	errorCodeGet        = "get"
	errorCodePut        = "put"
	errorCodeDelete     = "delete"
	errorCodeClear      = "clear"
	errorCodeDecode     = "decode"
	errorCodeEncode     = "encode"
	errorCodeExec       = "exec"
)

// Store implements economy.Store on GORM, backed by sqlite on-device or
// postgres in the test rig.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the backing table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// WithTx executes fn within a transaction, retrying once when the driver
// reports a transient serialization conflict.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore economy.Store) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			return fn(ctx, &Store{db: transaction})
		})
		if !isRetryableTxError(err) {
			break
		}
	}
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeExec, err)
	}
	return nil
}

// GetInt64 reads an integer value, returning fallback when the key is absent.
func (store *Store) GetInt64(ctx context.Context, namespace string, key string, fallback int64) (int64, error) {
	raw, found, err := store.get(ctx, namespace, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback, nil
	}
	var value int64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, wrapStoreError(errorSubjectRecord, errorCodeDecode, err)
	}
	return value, nil
}

// PutInt64 durably writes an integer value.
func (store *Store) PutInt64(ctx context.Context, namespace string, key string, value int64) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeEncode, err)
	}
	return store.put(ctx, namespace, key, encoded)
}

// GetString reads a string value, returning fallback when the key is absent.
func (store *Store) GetString(ctx context.Context, namespace string, key string, fallback string) (string, error) {
	raw, found, err := store.get(ctx, namespace, key)
	if err != nil {
		return "", err
	}
	if !found {
		return fallback, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", wrapStoreError(errorSubjectRecord, errorCodeDecode, err)
	}
	return value, nil
}

// PutString durably writes a string value.
func (store *Store) PutString(ctx context.Context, namespace string, key string, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeEncode, err)
	}
	return store.put(ctx, namespace, key, encoded)
}

// Delete removes a key. Missing keys are not an error.
func (store *Store) Delete(ctx context.Context, namespace string, key string) error {
	err := store.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		Delete(&Record{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeDelete, err)
	}
	return nil
}

// ClearNamespace removes every key in a namespace.
func (store *Store) ClearNamespace(ctx context.Context, namespace string) error {
	err := store.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Delete(&Record{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeClear, err)
	}
	return nil
}

func (store *Store) get(ctx context.Context, namespace string, key string) ([]byte, bool, error) {
	var record Record
	err := store.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	return []byte(record.Value), true, nil
}

func (store *Store) put(ctx context.Context, namespace string, key string, value []byte) error {
	record := Record{
		Namespace: namespace,
		Key:       key,
		Value:     datatypes.JSON(value),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodePut, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return economy.WrapError(errorOperationStore, subject, code, err)
}

func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteBusyCode
	}
	return false
}
