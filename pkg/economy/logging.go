package economy

import "context"

// OperationLogger records domain-level events emitted by the economy services.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing economy operation.
type OperationLog struct {
	Operation string
	OpID      string
	Amount    int64
	Category  string
	Balance   int64
	Status    string
	Error     error
}

// LedgerOption configures a Ledger instance.
type LedgerOption func(*Ledger)

// WithLedgerCapacity overrides the spend queue capacity.
func WithLedgerCapacity(capacity int) LedgerOption {
	return func(ledger *Ledger) {
		ledger.capacity = capacity
	}
}

// WithLedgerLogger wires a logger that receives callbacks for every operation.
func WithLedgerLogger(logger OperationLogger) LedgerOption {
	return func(ledger *Ledger) {
		ledger.logger = logger
	}
}

// ScoreQueueOption configures a ScoreQueue instance.
type ScoreQueueOption func(*ScoreQueue)

// WithScoreCapacity overrides the score queue capacity.
func WithScoreCapacity(capacity int) ScoreQueueOption {
	return func(queue *ScoreQueue) {
		queue.capacity = capacity
	}
}

// WithScoreLogger wires a logger that receives callbacks for every operation.
func WithScoreLogger(logger OperationLogger) ScoreQueueOption {
	return func(queue *ScoreQueue) {
		queue.logger = logger
	}
}
