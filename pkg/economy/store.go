package economy

import "context"

// Store is the namespaced durable key-value contract the economy services
// persist through. Implementations must commit each Put durably before
// returning; the services rely on write ordering for crash safety.
//
// The store is a single-writer resource. Callers serialize all access behind
// one mutual-exclusion boundary; implementations are not required to tolerate
// concurrent writers.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetInt64(ctx context.Context, namespace string, key string, fallback int64) (int64, error)
	PutInt64(ctx context.Context, namespace string, key string, value int64) error
	GetString(ctx context.Context, namespace string, key string, fallback string) (string, error)
	PutString(ctx context.Context, namespace string, key string, value string) error
	Delete(ctx context.Context, namespace string, key string) error
	ClearNamespace(ctx context.Context, namespace string) error
}
