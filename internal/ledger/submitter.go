// File: internal/ledger/submitter.go
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Writer is an identity allowed to write to the ledger
type Writer struct {
	Address    common.Address
	credential *Credential
}

// NewWriter pairs an address with its signing key. The key must sign for
// the address.
func NewWriter(address, privateKey string) (*Writer, error) {
	if !utils.IsValidAddress(address) {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Writer address is malformed", address)
	}

	cred, err := LoadCredential(privateKey)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(address)
	if cred.Address() != addr {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Signing credential does not belong to the writer address", addr.Hex())
	}
	return &Writer{Address: addr, credential: cred}, nil
}

// String redacts the credential
func (w *Writer) String() string {
	return "writer(" + w.Address.Hex() + ")"
}

// SubmitterConfig controls submission
type SubmitterConfig struct {
	Contract             common.Address
	GasLimit             uint64
	StaleSequenceRetries int
	// CommitTimeout bounds the wait after broadcast
	CommitTimeout time.Duration
}

// Submitter is the only path that writes to the ledger
type Submitter struct {
	client  Client
	signer  *Signer
	locks   LockTable
	config  SubmitterConfig
	metrics *metrics.Manager
	logger  *logrus.Entry
}

// NewSubmitter creates a submitter
func NewSubmitter(client Client, signer *Signer, locks LockTable, cfg SubmitterConfig, metricsManager *metrics.Manager) *Submitter {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 2000000
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 2 * time.Minute
	}
	if cfg.StaleSequenceRetries < 0 {
		cfg.StaleSequenceRetries = 0
	}
	if locks == nil {
		locks = NewLocalLockTable()
	}

	return &Submitter{
		client:  client,
		signer:  signer,
		locks:   locks,
		config:  cfg,
		metrics: metricsManager,
		logger:  utils.ComponentLogger("submitter"),
	}
}

// Submit signs and broadcasts method(args) as w and waits for commitment.
// A returned receipt means the write is committed. An error means it is
// either not committed or its outcome is unknown.
func (s *Submitter) Submit(ctx context.Context, w *Writer, method string, args ...interface{}) (*models.Receipt, error) {
	return s.SubmitThen(ctx, w, method, args, nil)
}

// SubmitThen is Submit with onCommit run on the committed receipt before the
// writer's lock is released, so the next write from w cannot land between
// the commit and whatever onCommit records about it. A non-nil receipt with a
// non-nil error means the write committed and onCommit failed.
func (s *Submitter) SubmitThen(ctx context.Context, w *Writer, method string, args []interface{}, onCommit func(*models.Receipt) error) (*models.Receipt, error) {
	if w == nil || w.credential == nil {
		return nil, utils.NewAppError(utils.ErrCodeSigning, "Signing credential is absent")
	}

	start := time.Now()
	release, err := s.locks.Acquire(ctx, w.Address)
	if err != nil {
		s.recordSubmission(method, "cancelled", start)
		return nil, err
	}
	defer release()

	log := s.logger.WithFields(logrus.Fields{
		"method": method,
		"sender": w.Address.Hex(),
	})

	attempts := 1 + s.config.StaleSequenceRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		receipt, err := s.attempt(ctx, w, method, args)
		if err == nil {
			log.WithFields(logrus.Fields{
				"tx_hash":      receipt.TransactionHash,
				"block_number": receipt.BlockNumber,
				"sequence":     receipt.SequenceNumber,
				"attempt":      attempt,
			}).Infof("Ledger write %s committed", utils.ShortHash(receipt.TransactionHash))
			s.recordSubmission(method, "committed", start)
			if onCommit != nil {
				return receipt, onCommit(receipt)
			}
			return receipt, nil
		}

		lastErr = err
		if !utils.IsStaleSequence(err) || attempt == attempts {
			break
		}

		log.WithField("attempt", attempt).Warn("Stale sequence number, retrying with a fresh one")
		if s.metrics != nil {
			s.metrics.GetPrometheusMetrics().RecordStaleSequenceRetry(method)
		}
	}

	log.WithField("error_code", utils.CodeOf(lastErr)).WithError(lastErr).Error("Ledger write failed")
	s.recordSubmission(method, statusOf(lastErr), start)
	return nil, lastErr
}

func (s *Submitter) attempt(ctx context.Context, w *Writer, method string, args []interface{}) (*models.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeSubmission, "Cancelled before broadcast", err)
	}

	sequence, err := s.client.SequenceNumber(ctx, w.Address)
	if err != nil {
		return nil, err
	}
	feeRate, err := s.client.FeeRate(ctx)
	if err != nil {
		return nil, err
	}

	env, err := s.signer.Sign(&WriteIntent{
		Method:   method,
		Args:     args,
		Contract: s.config.Contract,
		From:     w.Address,
		GasLimit: s.config.GasLimit,
		FeeRate:  feeRate,
		Sequence: sequence,
	}, w.credential)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeSubmission, "Cancelled before broadcast", err)
	}

	// past this point the caller can no longer cancel
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CommitTimeout)
	defer cancel()

	return s.client.SubmitSigned(waitCtx, env)
}

func (s *Submitter) recordSubmission(method, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.GetPrometheusMetrics().RecordSubmission(method, status, time.Since(start))
	}
}

func statusOf(err error) string {
	switch utils.CodeOf(err) {
	case utils.ErrCodeRejected:
		return "rejected"
	case utils.ErrCodeSigning:
		return "signing_error"
	case "":
		return "error"
	default:
		return "failed"
	}
}
