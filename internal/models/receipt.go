package models

import "time"

// Receipt is proof that a write was committed on the ledger
type Receipt struct {
	TransactionHash string    `json:"transaction_hash"`
	BlockHash       string    `json:"block_hash"`
	BlockNumber     uint64    `json:"block_number"`
	GasUsed         uint64    `json:"gas_used"`
	SequenceNumber  uint64    `json:"sequence_number"`
	Sender          string    `json:"sender"`
	Method          string    `json:"method"`
	CommittedAt     time.Time `json:"committed_at"`
}
