package models

import (
	"strings"
	"time"
)

// Stage is the lifecycle label of a medicine batch. The ledger is the only
// authority for it; the mirror keeps a cached copy.
type Stage string

const (
	StageOrdered             Stage = "Ordered"
	StageRawMaterialSupplied Stage = "RawMaterialSupplied"
	StageManufactured        Stage = "Manufactured"
	StageDistributed         Stage = "Distributed"
	StageRetailed            Stage = "Retailed"
	StageSold                Stage = "Sold"
)

// DefaultStage is used when a create request leaves the stage empty
const DefaultStage = StageOrdered

var knownStages = []Stage{
	StageOrdered,
	StageRawMaterialSupplied,
	StageManufactured,
	StageDistributed,
	StageRetailed,
	StageSold,
}

// KnownStages returns every stage label in lifecycle order
func KnownStages() []Stage {
	out := make([]Stage, len(knownStages))
	copy(out, knownStages)
	return out
}

// ParseStage resolves a label case-insensitively. Empty input yields the default.
func ParseStage(label string) (Stage, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultStage, true
	}
	for _, s := range knownStages {
		if strings.EqualFold(string(s), label) {
			return s, true
		}
	}
	return "", false
}

// Medicine represents one tracked batch in the mirror
type Medicine struct {
	LedgerID    uint64    `json:"ledger_id" db:"ledger_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Stage       Stage     `json:"stage" db:"stage"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// SameFacts reports whether two records describe the same ledger write
func (m *Medicine) SameFacts(other *Medicine) bool {
	if m == nil || other == nil {
		return false
	}
	return m.LedgerID == other.LedgerID &&
		m.Name == other.Name &&
		m.Description == other.Description
}

// MedicineFilter for querying the mirror
type MedicineFilter struct {
	Stage  *Stage `json:"stage,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}
