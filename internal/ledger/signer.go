package ledger

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Credential holds a writer's signing key. It is read-only after load and
// never leaves this package.
type Credential struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// LoadCredential parses a hex-encoded secp256k1 private key
func LoadCredential(hexKey string) (*Credential, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Signing credential is absent")
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// the parse error can echo key material
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Signing credential is malformed")
	}
	return credentialFromKey(key), nil
}

func credentialFromKey(key *ecdsa.PrivateKey) *Credential {
	return &Credential{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account the credential signs for
func (c *Credential) Address() common.Address {
	return c.address
}

// String redacts the key
func (c *Credential) String() string {
	return "credential(" + c.address.Hex() + ")"
}

// GoString redacts the key for %#v
func (c *Credential) GoString() string {
	return c.String()
}

// WriteIntent is an unsigned contract call
type WriteIntent struct {
	Method   string
	Args     []interface{}
	Contract common.Address
	From     common.Address
	GasLimit uint64
	FeeRate  *big.Int
	Sequence uint64
}

// SignedEnvelope is a transaction ready to broadcast. Hash is the
// identifier the ledger will assign it.
type SignedEnvelope struct {
	Tx       *types.Transaction
	Hash     common.Hash
	From     common.Address
	Method   string
	Sequence uint64
}

// String keeps the raw transaction out of logs
func (e *SignedEnvelope) String() string {
	return "envelope(" + e.Method + " " + e.Hash.Hex() + ")"
}

// Signer builds and signs contract write transactions
type Signer struct {
	contractABI abi.ABI
	signer      types.Signer
}

// NewSigner creates a signer for chainID
func NewSigner(contractABI abi.ABI, chainID *big.Int) *Signer {
	return &Signer{
		contractABI: contractABI,
		signer:      types.NewEIP155Signer(chainID),
	}
}

// Sign packs the call, builds a legacy transaction and signs it. Identical
// inputs always produce the same envelope.
func (s *Signer) Sign(intent *WriteIntent, cred *Credential) (*SignedEnvelope, error) {
	if cred == nil || cred.key == nil {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Signing credential is absent")
	}
	if intent == nil {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Write intent is required")
	}
	if cred.address != intent.From {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Credential does not match the sender",
			"sender "+intent.From.Hex())
	}
	if intent.FeeRate == nil || intent.FeeRate.Sign() < 0 {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Fee rate is required")
	}

	data, err := s.contractABI.Pack(intent.Method, intent.Args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeSigning, "Failed to encode "+intent.Method, err)
	}

	contract := intent.Contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    intent.Sequence,
		GasPrice: new(big.Int).Set(intent.FeeRate),
		Gas:      intent.GasLimit,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, s.signer, cred.key)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeSigning, "Failed to sign transaction", err)
	}

	return &SignedEnvelope{
		Tx:       signed,
		Hash:     signed.Hash(),
		From:     intent.From,
		Method:   intent.Method,
		Sequence: intent.Sequence,
	}, nil
}

// Sender recovers the address that signed env
func (s *Signer) Sender(env *SignedEnvelope) (common.Address, error) {
	return types.Sender(s.signer, env.Tx)
}
