// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// ChainID used by the stub's signature check
var ChainID = big.NewInt(31337)

type medicine struct {
	name        string
	description string
	stage       string
	history     []ledger.HistoryRecord
	block       uint64
}

// Stub is an in-memory ledger that executes the supply chain contract
type Stub struct {
	mu          sync.Mutex
	contractABI abi.ABI
	signer      types.Signer
	nonces      map[common.Address]uint64
	medicines   []*medicine
	block       uint64
	clock       int64

	fetched      map[common.Address][]uint64
	submits      int
	rejections   []string
	callErr      error
	submitErr    error
	latency      time.Duration
	callLatency  time.Duration
	onBroadcast  func()
	callOverride map[string][]interface{}
}

// New creates an empty ledger whose clock starts at start (ledger seconds)
func New(start int64) *Stub {
	contractABI, err := ledger.LoadABI("")
	if err != nil {
		panic(err)
	}
	return &Stub{
		contractABI:  contractABI,
		signer:       types.NewEIP155Signer(ChainID),
		nonces:       make(map[common.Address]uint64),
		fetched:      make(map[common.Address][]uint64),
		clock:        start,
		callOverride: make(map[string][]interface{}),
	}
}

// ABI returns the contract ABI the stub executes
func (s *Stub) ABI() abi.ABI {
	return s.contractABI
}

// RejectNext makes the next submissions fail with a ledger refusal carrying
// message, one per message, without consuming a sequence number
func (s *Stub) RejectNext(messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, messages...)
}

// FailCalls makes every read-only call fail with err (nil clears it)
func (s *Stub) FailCalls(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callErr = err
}

// FailSubmits makes every broadcast fail at the transport level (nil clears it)
func (s *Stub) FailSubmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// SetLatency delays sequence number fetches, widening race windows
func (s *Stub) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetCallLatency delays every read-only call, standing in for RPC round trips
func (s *Stub) SetCallLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callLatency = d
}

// OnBroadcast runs fn when a transaction reaches the broadcast step
func (s *Stub) OnBroadcast(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBroadcast = fn
}

// OverrideCall makes method return out regardless of ledger state
func (s *Stub) OverrideCall(method string, out ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callOverride[method] = out
}

// Seed appends a medicine directly, bypassing the write path. It lands in
// the current block, alongside the most recent committed write.
func (s *Stub) Seed(name, description, stage string, history ...ledger.HistoryRecord) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medicines = append(s.medicines, &medicine{
		name:        name,
		description: description,
		stage:       stage,
		history:     history,
		block:       s.block,
	})
	return uint64(len(s.medicines))
}

// SetStage overwrites the ledger stage of id
func (s *Stub) SetStage(id uint64, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medicines[id-1].stage = stage
}

// FetchedSequences returns every sequence number handed out for address
func (s *Stub) FetchedSequences(address common.Address) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.fetched[address]...)
}

// Submits returns how many envelopes reached the ledger
func (s *Stub) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Counter returns the number of medicines on the ledger
func (s *Stub) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.medicines))
}

// Medicine returns the name and description stored under id
func (s *Stub) Medicine(id uint64) (name, description string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 || id > uint64(len(s.medicines)) {
		return "", "", false
	}
	m := s.medicines[id-1]
	return m.name, m.description, true
}

// SequenceNumber implements ledger.Client
func (s *Stub) SequenceNumber(ctx context.Context, address common.Address) (uint64, error) {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return 0, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to fetch sequence number", ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.nonces[address]
	s.fetched[address] = append(s.fetched[address], next)
	return next, nil
}

// FeeRate implements ledger.Client
func (s *Stub) FeeRate(ctx context.Context) (*big.Int, error) {
	return big.NewInt(60000000), nil
}

// CallReadOnly implements ledger.Client
func (s *Stub) CallReadOnly(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	return s.call(ctx, nil, method, args)
}

// CallReadOnlyAt implements ledger.Client. Only the counter is versioned;
// stages and history are answered from the latest state.
func (s *Stub) CallReadOnlyAt(ctx context.Context, blockNumber uint64, method string, args ...interface{}) ([]interface{}, error) {
	return s.call(ctx, &blockNumber, method, args)
}

func (s *Stub) call(ctx context.Context, block *uint64, method string, args []interface{}) ([]interface{}, error) {
	s.mu.Lock()
	latency := s.callLatency
	s.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Ledger call "+method+" failed", ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callErr != nil {
		return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Ledger call "+method+" failed", s.callErr)
	}
	if out, ok := s.callOverride[method]; ok {
		return out, nil
	}

	switch method {
	case ledger.MethodMedicineCounter:
		return []interface{}{new(big.Int).SetUint64(s.counterAt(block))}, nil
	case ledger.MethodGetMedicineStage:
		m, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		return []interface{}{m.stage}, nil
	case ledger.MethodGetFullMedicineHistory:
		m, err := s.lookup(args)
		if err != nil {
			return nil, err
		}
		return []interface{}{append([]ledger.HistoryRecord(nil), m.history...)}, nil
	default:
		return nil, fmt.Errorf("stub: unsupported call %s", method)
	}
}

// counterAt counts the medicines created up to block, or all of them
func (s *Stub) counterAt(block *uint64) uint64 {
	if block == nil {
		return uint64(len(s.medicines))
	}
	var n uint64
	for _, m := range s.medicines {
		if m.block <= *block {
			n++
		}
	}
	return n
}

func (s *Stub) lookup(args []interface{}) (*medicine, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("stub: expected 1 argument, got %d", len(args))
	}
	id, ok := args[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("stub: unexpected id type %T", args[0])
	}
	if id.Sign() <= 0 || id.Cmp(big.NewInt(int64(len(s.medicines)))) > 0 {
		return nil, utils.NewAppError(utils.ErrCodeRejected, "execution reverted: invalid medicine id").
			WithReason(utils.ReasonReverted)
	}
	return s.medicines[id.Int64()-1], nil
}

// SubmitSigned implements ledger.Client. The envelope's signature and
// sequence number are checked, then the call is executed.
func (s *Stub) SubmitSigned(ctx context.Context, env *ledger.SignedEnvelope) (*models.Receipt, error) {
	s.mu.Lock()
	hook := s.onBroadcast
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSubmission, "Commitment outcome unknown", "tx "+env.Hash.Hex())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitErr != nil {
		return nil, utils.WrapError(utils.ErrCodeSubmission, "Failed to broadcast transaction", s.submitErr)
	}
	if len(s.rejections) > 0 {
		msg := s.rejections[0]
		s.rejections = s.rejections[1:]
		return nil, utils.NewAppError(utils.ErrCodeRejected, "Ledger rejected the transaction", msg).
			WithReason(ledger.RejectionReason(msg))
	}

	from, err := types.Sender(s.signer, env.Tx)
	if err != nil || from != env.From {
		return nil, utils.NewAppError(utils.ErrCodeRejected, "Ledger rejected the transaction", "invalid sender").
			WithReason(utils.ReasonRejected)
	}
	if env.Tx.Nonce() != s.nonces[from] {
		return nil, utils.NewAppError(utils.ErrCodeRejected, "Ledger rejected the transaction",
			fmt.Sprintf("nonce too low: next nonce %d, tx nonce %d", s.nonces[from], env.Tx.Nonce())).
			WithReason(utils.ReasonStaleSequence)
	}

	// mined either way, so the sequence number is consumed
	s.submits++
	s.nonces[from]++
	s.block++
	s.clock++

	if err := s.execute(from, env.Tx.Data()); err != nil {
		return nil, utils.WrapError(utils.ErrCodeRejected, "Transaction reverted on the ledger", err).
			WithReason(utils.ReasonReverted)
	}

	return &models.Receipt{
		TransactionHash: env.Hash.Hex(),
		BlockHash:       common.BigToHash(new(big.Int).SetUint64(s.block)).Hex(),
		BlockNumber:     s.block,
		GasUsed:         21000,
		SequenceNumber:  env.Tx.Nonce(),
		Sender:          from.Hex(),
		Method:          env.Method,
		CommittedAt:     time.Now().UTC(),
	}, nil
}

func (s *Stub) execute(from common.Address, data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("stub: short call data")
	}
	method, err := s.contractABI.MethodById(data[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return err
	}

	now := big.NewInt(s.clock)
	switch method.Name {
	case ledger.MethodAddMedicine:
		s.medicines = append(s.medicines, &medicine{
			name:        args[0].(string),
			description: args[1].(string),
			stage:       args[2].(string),
			history: []ledger.HistoryRecord{{
				Action:      string(models.ActionMedicineCreated),
				Participant: from,
				Timestamp:   now,
				Note:        "Stage: " + args[2].(string),
			}},
			block: s.block,
		})
	case ledger.MethodUpdateMedicineStage:
		m, err := s.lookup(args[:1])
		if err != nil {
			return err
		}
		m.stage = args[1].(string)
		m.history = append(m.history, ledger.HistoryRecord{
			Action:      string(models.ActionStageUpdated),
			Participant: from,
			Timestamp:   now,
			Note:        strings.TrimSpace(args[2].(string)),
		})
	default:
		return fmt.Errorf("stub: unsupported write %s", method.Name)
	}
	return nil
}
