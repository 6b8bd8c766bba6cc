package models

import "time"

// LedgerEvent is one entry of a medicine's audit trail as reconstructed from
// the ledger. It is never persisted.
type LedgerEvent struct {
	Action      string    `json:"action"`
	Participant string    `json:"participant"`
	OccurredAt  time.Time `json:"occurred_at"`
	Note        string    `json:"note,omitempty"`
	// Verified is true for every event read straight from the ledger.
	Verified bool `json:"verified"`
}
