package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger/ledgertest"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

func submitAdd(ctx context.Context, s *ledger.Submitter, w *ledger.Writer, name string) error {
	_, err := s.Submit(ctx, w, ledger.MethodAddMedicine, name, "batch", "Ordered")
	return err
}

func TestSubmitCommits(t *testing.T) {
	stub := ledgertest.New(1700000000)
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	receipt, err := submitter.Submit(context.Background(), writer, ledger.MethodAddMedicine, "Paracetamol", "500mg", "Ordered")
	require.NoError(t, err, "Submit should commit")

	assert.NotEmpty(t, receipt.TransactionHash)
	assert.Equal(t, uint64(0), receipt.SequenceNumber)
	assert.Equal(t, writer.Address.Hex(), receipt.Sender)
	assert.Equal(t, uint64(1), stub.Counter())
}

func TestSubmitThenHoldsWriterLockDuringCommitHook(t *testing.T) {
	stub := ledgertest.New(1700000000)
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	next := make(chan error, 1)
	receipt, err := submitter.SubmitThen(context.Background(), writer, ledger.MethodAddMedicine,
		[]interface{}{"Paracetamol", "500mg", "Ordered"},
		func(r *models.Receipt) error {
			assert.Equal(t, uint64(1), r.BlockNumber)
			go func() { next <- submitAdd(context.Background(), submitter, writer, "Ibuprofen") }()
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 1, stub.Submits(), "second write must wait for the hook")
			return assert.AnError
		})

	require.NotNil(t, receipt, "the write committed")
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, <-next)
	assert.Equal(t, 2, stub.Submits())
}

func TestConcurrentSubmitsNeverShareSequenceNumbers(t *testing.T) {
	stub := ledgertest.New(1700000000)
	stub.SetLatency(2 * time.Millisecond)
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- submitAdd(context.Background(), submitter, writer, "Ibuprofen")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	fetched := stub.FetchedSequences(writer.Address)
	require.Len(t, fetched, writers, "one fetch per submission, no stale retries")
	seen := make(map[uint64]bool)
	for _, seq := range fetched {
		assert.False(t, seen[seq], "sequence %d fetched twice", seq)
		seen[seq] = true
	}
	assert.Equal(t, uint64(writers), stub.Counter())
	t.Logf("✓ %d concurrent submissions fetched distinct sequence numbers", writers)
}

func TestStaleSequenceIsRetriedWithFreshNumber(t *testing.T) {
	stub := ledgertest.New(1700000000)
	stub.RejectNext("nonce too low")
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	receipt, err := submitter.Submit(context.Background(), writer, ledger.MethodAddMedicine, "Paracetamol", "500mg", "Ordered")
	require.NoError(t, err)
	assert.NotNil(t, receipt)

	assert.Len(t, stub.FetchedSequences(writer.Address), 2)
	assert.Equal(t, 1, stub.Submits())
}

func TestStaleSequenceRetriesAreBounded(t *testing.T) {
	stub := ledgertest.New(1700000000)
	stub.RejectNext("nonce too low", "invalid nonce", "nonce too low")
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	_, err := submitter.Submit(context.Background(), writer, ledger.MethodAddMedicine, "Paracetamol", "500mg", "Ordered")
	require.Error(t, err)
	assert.True(t, utils.IsStaleSequence(err))
	assert.Len(t, stub.FetchedSequences(writer.Address), 2)
	assert.Equal(t, 0, stub.Submits())
}

func TestOtherRejectionsAreNotRetried(t *testing.T) {
	stub := ledgertest.New(1700000000)
	stub.RejectNext("insufficient funds for gas * price + value")
	submitter := ledgertest.NewSubmitter(stub, 3)
	writer := ledgertest.NewWriter(t)

	_, err := submitter.Submit(context.Background(), writer, ledger.MethodAddMedicine, "Paracetamol", "500mg", "Ordered")
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeRejected))
	assert.False(t, utils.IsStaleSequence(err))
	assert.Len(t, stub.FetchedSequences(writer.Address), 1)
}

func TestTransportFailureIsNotRetried(t *testing.T) {
	stub := ledgertest.New(1700000000)
	stub.FailSubmits(assert.AnError)
	submitter := ledgertest.NewSubmitter(stub, 3)
	writer := ledgertest.NewWriter(t)

	_, err := submitter.Submit(context.Background(), writer, ledger.MethodAddMedicine, "Paracetamol", "500mg", "Ordered")
	assert.True(t, utils.HasCode(err, utils.ErrCodeSubmission))
	assert.Len(t, stub.FetchedSequences(writer.Address), 1)
}

func TestCancelBeforeBroadcastReleasesLock(t *testing.T) {
	stub := ledgertest.New(1700000000)
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := submitAdd(ctx, submitter, writer, "Paracetamol")
	assert.True(t, utils.HasCode(err, utils.ErrCodeSubmission))
	assert.Equal(t, 0, stub.Submits())
	assert.Empty(t, stub.FetchedSequences(writer.Address))

	// the lock must be free for the next caller
	require.NoError(t, submitAdd(context.Background(), submitter, writer, "Paracetamol"))
}

func TestCancelAfterBroadcastStillCommits(t *testing.T) {
	stub := ledgertest.New(1700000000)
	submitter := ledgertest.NewSubmitter(stub, 1)
	writer := ledgertest.NewWriter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stub.OnBroadcast(cancel)

	receipt, err := submitter.Submit(ctx, writer, ledger.MethodAddMedicine, "Paracetamol", "500mg", "Ordered")
	require.NoError(t, err, "cancellation after broadcast must not abandon the wait")
	assert.NotNil(t, receipt)
	assert.Equal(t, uint64(1), stub.Counter())
}

func TestSubmitWithoutCredential(t *testing.T) {
	stub := ledgertest.New(1700000000)
	submitter := ledgertest.NewSubmitter(stub, 1)

	_, err := submitter.Submit(context.Background(), &ledger.Writer{}, ledger.MethodAddMedicine, "a", "b", "Ordered")
	assert.True(t, utils.HasCode(err, utils.ErrCodeSigning))
}
