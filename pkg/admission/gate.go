package admission

import (
	"context"
	"math/big"

	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	contractCacheSize  = 4096
)

type GateState string

const (
	GateState_AwaitingFirstProof GateState = "AWAITING_FIRST_PROOF"
	GateState_Steady             GateState = "STEADY"
	GateState_Exhausted          GateState = "EXHAUSTED"
	GateState_Closed             GateState = "CLOSED"
)

// StateOf derives the admission state of a channel from its record.
func StateOf(ch *types.Channel) GateState {
	switch {
	case !ch.IsOpen():
		return GateState_Closed
	case ch.IsExhausted():
		return GateState_Exhausted
	case ch.LastIndex == 0:
		return GateState_AwaitingFirstProof
	default:
		return GateState_Steady
	}
}

// Request is one offered proof for the channel backed by Contract.
type Request struct {
	Contract common.Address
	Link     hashchain.Link
}

// Admission is the committed result of a successful Admit.
type Admission struct {
	Channel *types.Channel
	Payment *types.Payment
}

type GateConfig struct {
	// MaxAttempts bounds how many times a lost compare-and-append is re-validated.
	MaxAttempts int
}

// Gate decides whether an offered proof pays for the next unit of content.
// Concurrency control is delegated to the ledger's compare-and-append, so
// gates for different channels never wait on each other.
type Gate struct {
	store       persistence.IPaywordPersistence
	ledger      *ledger.Ledger
	contracts   *lru.Cache[common.Address, string]
	maxAttempts int
	logger      *zap.Logger
}

func NewGate(store persistence.IPaywordPersistence, l *ledger.Ledger, cfg *GateConfig, logger *zap.Logger) (*Gate, error) {
	maxAttempts := DefaultMaxAttempts
	if cfg != nil && cfg.MaxAttempts > 0 {
		maxAttempts = cfg.MaxAttempts
	}
	cache, err := lru.New[common.Address, string](contractCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create contract cache")
	}
	return &Gate{
		store:       store,
		ledger:      l,
		contracts:   cache,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

func (g *Gate) resolveChannelID(ctx context.Context, contract common.Address) (string, error) {
	if id, ok := g.contracts.Get(contract); ok {
		return id, nil
	}
	ch, err := g.store.GetChannelByContract(ctx, contract)
	if err != nil {
		return "", errors.Wrap(err, "failed to look up channel by contract")
	}
	if ch == nil {
		return "", errors.Wrapf(types.ErrChannelNotFound, "no channel for contract %s", contract.Hex())
	}
	g.contracts.Add(contract, ch.ID)
	return ch.ID, nil
}

func (g *Gate) amountPerHash(ctx context.Context, vendorID string) (*big.Int, error) {
	vendor, err := g.store.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load vendor")
	}
	if vendor == nil {
		return nil, errors.Wrapf(types.ErrVendorNotFound, "vendor %s has no price on record", vendorID)
	}
	return vendor.AmountPerHashWei(), nil
}

// Admit validates req against the channel's ledger and, on success, durably
// records the payment before returning. Validation failures are returned
// as-is; only lost write races are retried.
func (g *Gate) Admit(ctx context.Context, req Request) (*Admission, error) {
	channelID, err := g.resolveChannelID(ctx, req.Contract)
	if err != nil {
		return nil, err
	}

	// A client that disconnects after the commit must not undo its payment.
	commitCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		ch, err := g.store.GetChannel(ctx, channelID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load channel")
		}
		if ch == nil {
			g.contracts.Remove(req.Contract)
			return nil, types.ErrChannelNotFound
		}
		if !ch.IsOpen() {
			return nil, types.ErrChannelClosed
		}

		ref, err := g.ledger.Reference(ctx, ch)
		if errors.Is(err, persistence.ErrWriteConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := checkAgainstReference(ch, req.Link, ref); err != nil {
			return nil, err
		}

		amount, err := g.amountPerHash(ctx, ch.VendorID)
		if err != nil {
			return nil, err
		}

		payment, updated, err := g.ledger.Append(commitCtx, ch, req.Link, amount, ref.Index)
		if errors.Is(err, persistence.ErrWriteConflict) {
			g.logger.Sugar().Debugw("Ledger moved during admission, revalidating",
				"channelId", ch.ID,
				"index", req.Link.Index,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		g.logger.Sugar().Infow("Proof admitted",
			"channelId", ch.ID,
			"index", req.Link.Index,
			"state", StateOf(updated),
		)
		return &Admission{Channel: updated, Payment: payment}, nil
	}

	return nil, errors.Wrapf(types.ErrOutOfOrder, "channel %s kept advancing after %d attempts", channelID, g.maxAttempts)
}

// checkAgainstReference applies the ordering and hash-chain rules for link
// against the current ledger head ref.
func checkAgainstReference(ch *types.Channel, link, ref hashchain.Link) error {
	if link.Index < ref.Index {
		return errors.Wrapf(types.ErrOutOfOrder, "index %d is behind last accepted %d", link.Index, ref.Index)
	}
	if link.Index == ref.Index {
		if link.Hash == ref.Hash {
			return types.ErrDuplicateHash
		}
		return errors.Wrapf(types.ErrOutOfOrder, "index %d was already paid", link.Index)
	}
	if ch.IsExhausted() {
		return types.ErrChainExhausted
	}
	if link.Index > ch.NumHashes {
		return errors.Wrapf(types.ErrInvalidProofChain, "index %d beyond chain length %d", link.Index, ch.NumHashes)
	}
	if !hashchain.Verify(link, ref) {
		return errors.Wrapf(types.ErrInvalidProofChain, "link %s does not hash to %s", link, ref)
	}
	return nil
}
