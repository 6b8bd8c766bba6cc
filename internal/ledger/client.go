package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Client is the gateway to the ledger's four primitive operations
type Client interface {
	// SequenceNumber returns the next usable sequence number for address,
	// counting every transaction this process has already broadcast.
	SequenceNumber(ctx context.Context, address common.Address) (uint64, error)
	FeeRate(ctx context.Context) (*big.Int, error)
	CallReadOnly(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	// CallReadOnlyAt runs the call against the state as of blockNumber.
	CallReadOnlyAt(ctx context.Context, blockNumber uint64, method string, args ...interface{}) ([]interface{}, error)
	// SubmitSigned broadcasts env and blocks until it is committed.
	SubmitSigned(ctx context.Context, env *SignedEnvelope) (*models.Receipt, error)
}

var staleSequenceMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"invalid nonce",
	"already known",
}

// RejectionReason maps a node's refusal message onto a rejection reason
func RejectionReason(message string) string {
	msg := strings.ToLower(message)
	for _, marker := range staleSequenceMarkers {
		if strings.Contains(msg, marker) {
			return utils.ReasonStaleSequence
		}
	}

	switch {
	case strings.Contains(msg, "insufficient funds"):
		return utils.ReasonInsufficientFunds
	case strings.Contains(msg, "underpriced"), strings.Contains(msg, "gas price too low"), strings.Contains(msg, "fee too low"):
		return utils.ReasonUnderpriced
	case strings.Contains(msg, "revert"):
		return utils.ReasonReverted
	default:
		return utils.ReasonRejected
	}
}

// classifySubmitError separates ledger refusals from transport failures.
// A JSON-RPC error means the node answered and refused; anything else
// leaves the broadcast outcome at the transport level.
func classifySubmitError(err error, txHash string) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return utils.WrapError(utils.ErrCodeRejected, "Ledger rejected the transaction", err).
			WithReason(RejectionReason(rpcErr.Error()))
	}

	appErr := utils.WrapError(utils.ErrCodeSubmission, "Failed to broadcast transaction", err)
	appErr.Details = "tx " + txHash + ": " + err.Error()
	return appErr
}

// classifyCallError maps a read-only call failure
func classifyCallError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return utils.WrapError(utils.ErrCodeRejected, "Ledger refused read-only call "+method, err).
			WithReason(RejectionReason(rpcErr.Error()))
	}
	return utils.WrapError(utils.ErrCodeLedgerUnavailable, "Ledger call "+method+" failed", err)
}
