package economy

const (
	// DefaultSpendCapacity bounds the pending spend queue.
	DefaultSpendCapacity = 50
	// DefaultScoreCapacity bounds the pending score queue.
	DefaultScoreCapacity = 10

	namespaceEconomy = "economy"
	namespaceScores  = "scores"

	keyLocalCoins = "localCoins"
	keySpendCount = "spendCount"
	keyScoreCount = "scoreCount"

	spendKeyPrefix = "spend_"
	scoreKeyPrefix = "score_"

	operationSpend       = "spend"
	operationSetBalance  = "set_balance"
	operationCredit      = "credit"
	operationReset       = "reset"
	operationCompact     = "compact"
	operationQueueScore  = "queue_score"
	operationInitialize  = "initialize"
	operationSpendDrop   = "spend_drop"
	operationScoreEvict  = "score_evict"
	operationStatusOK    = "ok"
	operationStatusError = "error"
	operationStatusWarn  = "warn"
)
