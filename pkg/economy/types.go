package economy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// minOpIDLength is the sanity bound below which a stored identifier is
	// treated as corrupt and never transmitted.
	minOpIDLength = 10

	maxCategoryLength = 31
)

// OpID is the opaque idempotency identifier attached to a queued operation.
// The remote authority deduplicates on it; collisions are accepted as
// negligible, not cryptographically prevented.
type OpID struct {
	value string
}

// NewOpID generates a fresh identifier.
func NewOpID() OpID {
	return OpID{value: uuid.NewString()}
}

// ParseOpID validates an identifier loaded from persistence.
func ParseOpID(raw string) (OpID, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minOpIDLength {
		return OpID{}, fmt.Errorf("%w: too short", ErrInvalidOpID)
	}
	return OpID{value: trimmed}, nil
}

// String returns the identifier.
func (id OpID) String() string {
	return id.value
}

// Valid reports whether the identifier passes the transmission sanity check.
func (id OpID) Valid() bool {
	return len(id.value) >= minOpIDLength
}

// Amount is a strictly positive coin amount.
type Amount int64

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// NewCategory validates and normalizes a spend action label.
// Labels longer than the persisted field are truncated, matching the
// device's fixed-width record layout.
func NewCategory(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidCategory)
	}
	if len(trimmed) > maxCategoryLength {
		trimmed = trimmed[:maxCategoryLength]
	}
	return trimmed, nil
}

// PendingSpend is one queued spend awaiting server acknowledgment.
type PendingSpend struct {
	ID          string `json:"id"`
	TimestampMS int64  `json:"timestamp"`
	Amount      int64  `json:"amount"`
	Category    string `json:"action"`
	Synced      bool   `json:"synced"`
}

// Sane reports whether the record is worth transmitting. Records that fail
// are unrecoverable garbage and get marked synced without a request.
func (spend PendingSpend) Sane() bool {
	return spend.Amount > 0 && len(spend.ID) >= minOpIDLength
}

// PendingScore is one queued game score awaiting submission.
type PendingScore struct {
	ID          string `json:"id"`
	TimestampMS int64  `json:"timestamp"`
	Score       int64  `json:"score"`
	Synced      bool   `json:"synced"`
}

// Sane reports whether the record is worth transmitting.
func (score PendingScore) Sane() bool {
	return score.Score >= 0 && len(score.ID) >= minOpIDLength
}

// Config holds the remote-supplied decay parameters, in points per 24 hours.
type Config struct {
	HungerDecayPer24h    float64
	HappinessDecayPer24h float64
}

// DefaultConfig mirrors the server defaults (0.05 points per minute).
func DefaultConfig() Config {
	return Config{
		HungerDecayPer24h:    72.0,
		HappinessDecayPer24h: 72.0,
	}
}

// HungerPerMinute converts the daily hunger rate to a per-minute rate.
func (config Config) HungerPerMinute() float64 {
	return config.HungerDecayPer24h / (24 * 60)
}

// HappinessPerMinute converts the daily happiness rate to a per-minute rate.
func (config Config) HappinessPerMinute() float64 {
	return config.HappinessDecayPer24h / (24 * 60)
}
