package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		in   string
		want Stage
		ok   bool
	}{
		{"", StageOrdered, true},
		{"  ", StageOrdered, true},
		{"Ordered", StageOrdered, true},
		{"manufactured", StageManufactured, true},
		{"SOLD", StageSold, true},
		{"Shipped", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseStage(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSameFacts(t *testing.T) {
	a := &Medicine{LedgerID: 1, Name: "Paracetamol", Description: "500mg", Stage: StageOrdered}
	b := &Medicine{LedgerID: 1, Name: "Paracetamol", Description: "500mg", Stage: StageSold}
	c := &Medicine{LedgerID: 1, Name: "Paracetamol", Description: "250mg"}

	assert.True(t, a.SameFacts(b), "stage is a cached projection and does not identify the write")
	assert.False(t, a.SameFacts(c))
	assert.False(t, a.SameFacts(nil))
}
