package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateGeneration  OutboxAggregateType = "generation"
	AggregateWallet      OutboxAggregateType = "wallet"
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregateProfile     OutboxAggregateType = "profile"
	AggregateLedgerEvent OutboxAggregateType = "ledger_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateGeneration,
	AggregateWallet,
	AggregateTransaction,
	AggregateProfile,
	AggregateLedgerEvent,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventGenerationSubmitted OutboxEventType = "generation_submitted"
	EventGenerationSettled   OutboxEventType = "generation_settled"
	EventGenerationFailed    OutboxEventType = "generation_failed"
	EventGenerationExpired   OutboxEventType = "generation_expired"
	EventGenerationReversed  OutboxEventType = "generation_reversed"
	EventWalletDebited       OutboxEventType = "wallet_debited"
	EventWalletCredited      OutboxEventType = "wallet_credited"
	EventWalletSynced        OutboxEventType = "wallet_synced"
	EventDemoQuotaExhausted  OutboxEventType = "demo_quota_exhausted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventGenerationSubmitted,
	EventGenerationSettled,
	EventGenerationFailed,
	EventGenerationExpired,
	EventGenerationReversed,
	EventWalletDebited,
	EventWalletCredited,
	EventWalletSynced,
	EventDemoQuotaExhausted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
