package escrow

import (
	"context"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultBackoff is the retry schedule for escrow reads. Steps is replaced by
// the configured attempt count.
var DefaultBackoff = wait.Backoff{
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
	Cap:      5 * time.Second,
}

// RetryingEscrow wraps an IEscrow with per-call timeouts, bounded retries and
// client-side rate limiting. Transient failures that outlive the retry budget
// surface as types.ErrEscrowUnavailable; reverts are returned immediately.
type RetryingEscrow struct {
	inner       IEscrow
	callTimeout time.Duration
	backoff     wait.Backoff
	limiter     *rate.Limiter
	logger      *zap.Logger
}

var _ IEscrow = (*RetryingEscrow)(nil)

func NewRetryingEscrow(inner IEscrow, cfg *config.EscrowConfig, logger *zap.Logger) *RetryingEscrow {
	if cfg == nil {
		cfg = config.DefaultEscrowConfig()
	}
	backoff := DefaultBackoff
	backoff.Steps = cfg.MaxRetries + 1

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &RetryingEscrow{
		inner:       inner,
		callTimeout: cfg.CallTimeout,
		backoff:     backoff,
		limiter:     limiter,
		logger:      logger,
	}
}

func (r *RetryingEscrow) GetEscrowState(ctx context.Context, contract common.Address) (*EscrowState, error) {
	var state *EscrowState
	err := r.retry(ctx, "GetEscrowState", contract, func(callCtx context.Context) error {
		s, err := r.inner.GetEscrowState(callCtx, contract)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	return state, err
}

func (r *RetryingEscrow) SimulateClose(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) error {
	return r.retry(ctx, "SimulateClose", contract, func(callCtx context.Context) error {
		return r.inner.SimulateClose(callCtx, contract, word, wordCount)
	})
}

// CloseChannel is submitted once. A second submission after an ambiguous
// failure could race the first one on chain, so it is never retried here.
func (r *RetryingEscrow) CloseChannel(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) (*CloseResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(types.ErrEscrowUnavailable, err.Error())
	}
	res, err := r.inner.CloseChannel(ctx, contract, word, wordCount)
	if err != nil {
		if IsPermanent(err) {
			return nil, err
		}
		return nil, errors.Wrapf(types.ErrEscrowUnavailable, "closeChannel on %s: %v", contract.Hex(), err)
	}
	return res, nil
}

func (r *RetryingEscrow) retry(ctx context.Context, operation string, contract common.Address, fn func(context.Context) error) error {
	var lastErr error
	attempt := 0

	err := wait.ExponentialBackoffWithContext(ctx, r.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		lastErr = fn(callCtx)
		if lastErr == nil {
			return true, nil
		}
		if IsPermanent(lastErr) {
			return false, lastErr
		}
		r.logger.Sugar().Warnw("Escrow call failed, retrying",
			"operation", operation,
			"contract", contract.Hex(),
			"attempt", attempt,
			"error", lastErr,
		)
		return false, nil
	})
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	if lastErr == nil {
		lastErr = err
	}
	r.logger.Sugar().Errorw("Escrow unavailable",
		"operation", operation,
		"contract", contract.Hex(),
		"attempts", attempt,
		"error", lastErr,
	)
	return errors.Wrapf(types.ErrEscrowUnavailable, "%s on %s after %d attempts: %v", operation, contract.Hex(), attempt, lastErr)
}
