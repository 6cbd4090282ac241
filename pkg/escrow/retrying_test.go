package escrow

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/logger"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyEscrow struct {
	failures int32
	err      error
	calls    atomic.Int32
	block    bool
}

func (f *flakyEscrow) fail(ctx context.Context) error {
	n := f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyEscrow) GetEscrowState(ctx context.Context, contract common.Address) (*EscrowState, error) {
	if err := f.fail(ctx); err != nil {
		return nil, err
	}
	return &EscrowState{Contract: contract, TotalWordCount: 10, Balance: big.NewInt(1)}, nil
}

func (f *flakyEscrow) SimulateClose(ctx context.Context, _ common.Address, _ common.Hash, _ uint64) error {
	return f.fail(ctx)
}

func (f *flakyEscrow) CloseChannel(ctx context.Context, _ common.Address, _ common.Hash, _ uint64) (*CloseResult, error) {
	if err := f.fail(ctx); err != nil {
		return nil, err
	}
	return &CloseResult{TxHash: common.Hash{1}}, nil
}

func newTestRetrying(t *testing.T, inner IEscrow, retries int) *RetryingEscrow {
	t.Helper()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	r := NewRetryingEscrow(inner, &config.EscrowConfig{
		CallTimeout: 50 * time.Millisecond,
		MaxRetries:  retries,
	}, l)
	r.backoff.Duration = time.Millisecond
	r.backoff.Cap = 5 * time.Millisecond
	return r
}

func TestRetryingEscrow_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyEscrow{failures: 2, err: errors.New("connection reset by peer")}
	r := newTestRetrying(t, inner, 3)

	state, err := r.GetEscrowState(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), state.TotalWordCount)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestRetryingEscrow_ExhaustedRetriesAreUnavailable(t *testing.T) {
	inner := &flakyEscrow{failures: 100, err: errors.New("503 service unavailable")}
	r := newTestRetrying(t, inner, 2)

	_, err := r.GetEscrowState(context.Background(), common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, types.ErrEscrowUnavailable)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestRetryingEscrow_TimeoutIsUnavailable(t *testing.T) {
	inner := &flakyEscrow{block: true}
	r := newTestRetrying(t, inner, 1)

	err := r.SimulateClose(context.Background(), common.HexToAddress("0x01"), common.Hash{}, 1)
	assert.ErrorIs(t, err, types.ErrEscrowUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidWord)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestRetryingEscrow_RevertsAreNotRetried(t *testing.T) {
	inner := &flakyEscrow{failures: 100, err: ErrInvalidWord}
	r := newTestRetrying(t, inner, 5)

	err := r.SimulateClose(context.Background(), common.HexToAddress("0x01"), common.Hash{}, 1)
	assert.ErrorIs(t, err, ErrInvalidWord)
	assert.NotErrorIs(t, err, types.ErrEscrowUnavailable)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRetryingEscrow_CloseChannelSubmitsOnce(t *testing.T) {
	inner := &flakyEscrow{failures: 1, err: errors.New("nonce too low")}
	r := newTestRetrying(t, inner, 5)

	_, err := r.CloseChannel(context.Background(), common.HexToAddress("0x01"), common.Hash{}, 1)
	assert.ErrorIs(t, err, types.ErrEscrowUnavailable)
	assert.Equal(t, int32(1), inner.calls.Load())

	res, err := r.CloseChannel(context.Background(), common.HexToAddress("0x01"), common.Hash{}, 1)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{1}, res.TxHash)
}
