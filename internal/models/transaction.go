package models

import "time"

// ActionKind names the ledger write a log entry mirrors
type ActionKind string

const (
	ActionMedicineCreated ActionKind = "MEDICINE_CREATED"
	ActionStageUpdated    ActionKind = "STAGE_UPDATED"
)

// TransactionLogEntry is the immutable mirror record of one committed
// ledger write. TransactionHash is unique.
type TransactionLogEntry struct {
	ID              string                 `json:"id" db:"id"`
	MedicineID      uint64                 `json:"medicine_id" db:"medicine_id"`
	Participant     string                 `json:"participant" db:"participant"`
	Action          ActionKind             `json:"action" db:"action"`
	TransactionHash string                 `json:"transaction_hash" db:"tx_hash"`
	Details         map[string]interface{} `json:"details" db:"details"`
	RecordedAt      time.Time              `json:"recorded_at" db:"recorded_at"`
}

// TransactionFilter for querying the mirror transaction log
type TransactionFilter struct {
	MedicineID *uint64     `json:"medicine_id,omitempty"`
	Action     *ActionKind `json:"action,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}
