package models

import "time"

// InconsistencyAlert tells an operator the ledger committed a write the
// mirror could not record
type InconsistencyAlert struct {
	TransactionHash string                 `json:"transaction_hash"`
	Method          string                 `json:"method"`
	Sender          string                 `json:"sender"`
	BlockNumber     uint64                 `json:"block_number"`
	MedicineID      uint64                 `json:"medicine_id,omitempty"`
	Reason          string                 `json:"reason"`
	Intent          map[string]interface{} `json:"intent,omitempty"`
	DetectedAt      time.Time              `json:"detected_at"`
}
