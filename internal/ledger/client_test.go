package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

type nodeError struct {
	msg  string
	code int
}

func (e *nodeError) Error() string  { return e.msg }
func (e *nodeError) ErrorCode() int { return e.code }

func TestRejectionReason(t *testing.T) {
	tests := map[string]string{
		"nonce too low: next nonce 4, tx nonce 3": utils.ReasonStaleSequence,
		"replacement transaction underpriced":     utils.ReasonStaleSequence,
		"Invalid nonce":                           utils.ReasonStaleSequence,
		"transaction underpriced":                 utils.ReasonUnderpriced,
		"insufficient funds for gas * price":      utils.ReasonInsufficientFunds,
		"execution reverted":                      utils.ReasonReverted,
		"account is locked":                       utils.ReasonRejected,
	}
	for msg, want := range tests {
		assert.Equal(t, want, RejectionReason(msg), msg)
	}
}

func TestClassifySubmitError(t *testing.T) {
	err := classifySubmitError(&nodeError{msg: "nonce too low", code: -32000}, "0xabc")
	assert.True(t, utils.IsStaleSequence(err))

	err = classifySubmitError(errors.New("dial tcp: connection refused"), "0xabc")
	assert.True(t, utils.HasCode(err, utils.ErrCodeSubmission))
	assert.Contains(t, err.Error(), "0xabc")
}

func TestClassifyCallError(t *testing.T) {
	err := classifyCallError(MethodGetMedicineStage, errors.New("i/o timeout"))
	assert.True(t, utils.HasCode(err, utils.ErrCodeLedgerUnavailable))

	err = classifyCallError(MethodGetMedicineStage, &nodeError{msg: "execution reverted", code: 3})
	assert.True(t, utils.HasCode(err, utils.ErrCodeRejected))
}

func TestLoadABIHasContractMethods(t *testing.T) {
	parsed, err := LoadABI("")
	require.NoError(t, err)

	history := parsed.Methods[MethodGetFullMedicineHistory]
	require.Len(t, history.Outputs, 1)
	assert.Equal(t, abi.SliceTy, history.Outputs[0].Type.T)
	assert.Equal(t, abi.TupleTy, history.Outputs[0].Type.Elem.T)
}

func TestDecodeHistoryConvertsABIStructs(t *testing.T) {
	// the shape abi.Unpack produces for a tuple array
	raw := []struct {
		Action      string         `json:"action"`
		Participant common.Address `json:"participant"`
		Timestamp   *big.Int       `json:"timestamp"`
		Note        string         `json:"note"`
	}{
		{Action: "MEDICINE_CREATED", Participant: common.HexToAddress("0x01"), Timestamp: big.NewInt(10), Note: "Stage: Ordered"},
	}

	records, err := DecodeHistory([]interface{}{raw})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "MEDICINE_CREATED", records[0].Action)
	assert.Equal(t, int64(10), records[0].Timestamp.Int64())

	_, err = DecodeHistory([]interface{}{"nope"})
	assert.Error(t, err)
}

func TestDecodeUint(t *testing.T) {
	v, err := DecodeUint([]interface{}{big.NewInt(42)})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = DecodeUint([]interface{}{"42"})
	assert.Error(t, err)
}
