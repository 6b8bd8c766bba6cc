package ledgertest

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
)

// ContractAddress is the address tests submit to
var ContractAddress = common.HexToAddress("0x00000000000000000000000000000000000c0de1")

// NewKey returns a fresh hex private key and the address it signs for
func NewKey(t testing.TB) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey)
}

// NewWriter returns a writer with a fresh key
func NewWriter(t testing.TB) *ledger.Writer {
	t.Helper()
	hexKey, address := NewKey(t)
	w, err := ledger.NewWriter(address.Hex(), hexKey)
	require.NoError(t, err)
	return w
}

// NewSubmitter wires a submitter to stub with the given stale sequence retries
func NewSubmitter(stub *Stub, retries int) *ledger.Submitter {
	signer := ledger.NewSigner(stub.ABI(), new(big.Int).Set(ChainID))
	return ledger.NewSubmitter(stub, signer, ledger.NewLocalLockTable(), ledger.SubmitterConfig{
		Contract:             ContractAddress,
		GasLimit:             2000000,
		StaleSequenceRetries: retries,
	}, nil)
}
