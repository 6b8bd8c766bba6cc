// File: internal/ledger/rpc_client.go
package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/connection"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// RPCClient is the Client backed by a JSON-RPC node and the supply chain
// contract
type RPCClient struct {
	conn         connection.Manager
	contractABI  abi.ABI
	contract     common.Address
	pollInterval time.Duration
	metrics      *metrics.Manager
	logger       *logrus.Entry

	mu sync.Mutex
	// highest sequence number broadcast per address by this process
	broadcast map[common.Address]uint64
}

// NewRPCClient creates a ledger client
func NewRPCClient(conn connection.Manager, contractABI abi.ABI, contract common.Address, pollInterval time.Duration, metricsManager *metrics.Manager) *RPCClient {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RPCClient{
		conn:         conn,
		contractABI:  contractABI,
		contract:     contract,
		pollInterval: pollInterval,
		metrics:      metricsManager,
		logger:       utils.ComponentLogger("ledger_client"),
		broadcast:    make(map[common.Address]uint64),
	}
}

func (c *RPCClient) client(ctx context.Context) (*ethclient.Client, error) {
	client, err := c.conn.Client(ctx)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Ledger node unreachable", err)
	}
	return client, nil
}

func (c *RPCClient) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.GetPrometheusMetrics().RecordRPCRequest(c.conn.CurrentURL(), method, status, time.Since(start))
}

// SequenceNumber implements Client
func (c *RPCClient) SequenceNumber(ctx context.Context, address common.Address) (uint64, error) {
	client, err := c.client(ctx)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	pending, err := client.PendingNonceAt(ctx, address)
	c.record("eth_getTransactionCount", start, err)
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to fetch sequence number", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.broadcast[address]; ok && last+1 > pending {
		return last + 1, nil
	}
	return pending, nil
}

// FeeRate implements Client
func (c *RPCClient) FeeRate(ctx context.Context) (*big.Int, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	price, err := client.SuggestGasPrice(ctx)
	c.record("eth_gasPrice", start, err)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to fetch fee rate", err)
	}
	return price, nil
}

// CallReadOnly implements Client
func (c *RPCClient) CallReadOnly(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	return c.call(ctx, nil, method, args)
}

// CallReadOnlyAt implements Client
func (c *RPCClient) CallReadOnlyAt(ctx context.Context, blockNumber uint64, method string, args ...interface{}) ([]interface{}, error) {
	return c.call(ctx, new(big.Int).SetUint64(blockNumber), method, args)
}

// call runs an eth_call at block, or at the latest block when block is nil
func (c *RPCClient) call(ctx context.Context, block *big.Int, method string, args []interface{}) ([]interface{}, error) {
	data, err := c.contractABI.Pack(method, args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeInternal, "Failed to encode "+method, err)
	}

	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	contract := c.contract
	start := time.Now()
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, block)
	c.record("eth_call", start, err)
	if err != nil {
		return nil, classifyCallError(method, err)
	}

	out, err := c.contractABI.Unpack(method, raw)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to decode "+method, err)
	}
	return out, nil
}

// SubmitSigned implements Client
func (c *RPCClient) SubmitSigned(ctx context.Context, env *SignedEnvelope) (*models.Receipt, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeSubmission, "Ledger node unreachable", err)
	}

	hash := env.Hash.Hex()
	start := time.Now()
	err = client.SendTransaction(ctx, env.Tx)
	c.record("eth_sendRawTransaction", start, err)
	if err != nil {
		return nil, classifySubmitError(err, hash)
	}

	c.markBroadcast(env.From, env.Sequence)
	c.logger.WithFields(logrus.Fields{
		"tx_hash":  hash,
		"method":   env.Method,
		"sender":   env.From.Hex(),
		"sequence": env.Sequence,
	}).Info("Transaction broadcast, waiting for commitment")

	receipt, err := c.waitCommitted(ctx, client, env.Hash)
	if err != nil {
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, utils.NewAppError(utils.ErrCodeRejected, "Transaction reverted on the ledger", "tx "+hash).
			WithReason(utils.ReasonReverted)
	}

	return &models.Receipt{
		TransactionHash: hash,
		BlockHash:       receipt.BlockHash.Hex(),
		BlockNumber:     receipt.BlockNumber.Uint64(),
		GasUsed:         receipt.GasUsed,
		SequenceNumber:  env.Sequence,
		Sender:          env.From.Hex(),
		Method:          env.Method,
		CommittedAt:     time.Now().UTC(),
	}, nil
}

func (c *RPCClient) markBroadcast(address common.Address, sequence uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.broadcast[address]; !ok || sequence > last {
		c.broadcast[address] = sequence
	}
}

// waitCommitted polls for the receipt of a broadcast transaction
func (c *RPCClient) waitCommitted(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		receipt, err := client.TransactionReceipt(ctx, hash)
		c.record("eth_getTransactionReceipt", start, err)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			c.logger.WithError(err).WithField("tx_hash", hash.Hex()).Warn("Receipt poll failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, utils.NewAppError(utils.ErrCodeSubmission, "Commitment outcome unknown",
				"tx "+hash.Hex()+" was broadcast but not confirmed before the wait ended; verify on the ledger")
		case <-ticker.C:
		}
	}
}
