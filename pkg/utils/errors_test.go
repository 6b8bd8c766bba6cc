package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorChain(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(ErrCodeLedgerUnavailable, "Could not retrieve blockchain history", cause)
	wrapped := fmt.Errorf("history: %w", err)

	assert.Equal(t, ErrCodeLedgerUnavailable, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeLedgerUnavailable))
	assert.True(t, errors.Is(wrapped, cause))
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, HasCode(nil, ErrCodeLedgerUnavailable))
}

func TestIsStaleSequence(t *testing.T) {
	stale := NewAppError(ErrCodeRejected, "Transaction rejected", "nonce too low").WithReason(ReasonStaleSequence)
	underpriced := NewAppError(ErrCodeRejected, "Transaction rejected").WithReason(ReasonUnderpriced)

	assert.True(t, IsStaleSequence(stale))
	assert.True(t, IsStaleSequence(fmt.Errorf("attempt 1: %w", stale)))
	assert.False(t, IsStaleSequence(underpriced))
	assert.False(t, IsStaleSequence(errors.New("nonce too low")))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeAddress("ABCDEF"))
	assert.Equal(t, "0xabcdef", NormalizeAddress("0xAbCdEf"))
	assert.True(t, IsValidAddress("0x1234567890123456789012345678901234567890"))
	assert.False(t, IsValidAddress("0x1234"))
}
