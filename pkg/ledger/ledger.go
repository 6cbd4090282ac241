package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Ledger is the append-only record of accepted links per channel.
type Ledger struct {
	store  persistence.IPaywordPersistence
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(store persistence.IPaywordPersistence, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Latest returns the highest accepted payment for a channel, or nil.
func (l *Ledger) Latest(ctx context.Context, channelID string) (*types.Payment, error) {
	p, err := l.store.LatestPayment(ctx, channelID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load latest payment for channel %s", channelID)
	}
	return p, nil
}

// Reference returns the link the next proof for ch must verify against: the
// latest payment, or (tail, 0) before the first one. It returns
// persistence.ErrWriteConflict when the ledger moved between reading ch and
// reading its latest payment.
func (l *Ledger) Reference(ctx context.Context, ch *types.Channel) (hashchain.Link, error) {
	if ch.LastIndex == 0 {
		return hashchain.Link{Hash: ch.Tail, Index: 0}, nil
	}
	latest, err := l.Latest(ctx, ch.ID)
	if err != nil {
		return hashchain.Link{}, err
	}
	if latest == nil || latest.Index != ch.LastIndex {
		return hashchain.Link{}, persistence.ErrWriteConflict
	}
	return hashchain.Link{Hash: latest.Hash, Index: latest.Index}, nil
}

// Append records link as the channel's newest payment if the channel has not
// moved past expectedLastIndex. The returned channel reflects the new LastIndex.
func (l *Ledger) Append(
	ctx context.Context,
	ch *types.Channel,
	link hashchain.Link,
	amount *big.Int,
	expectedLastIndex uint64,
) (*types.Payment, *types.Channel, error) {
	if amount == nil {
		amount = big.NewInt(0)
	}
	payment := &types.Payment{
		ID:        uuid.New().String(),
		ChannelID: ch.ID,
		VendorID:  ch.VendorID,
		Hash:      link.Hash,
		Index:     link.Index,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: l.now(),
	}

	updated, err := l.store.AppendPayment(ctx, payment, expectedLastIndex)
	if err != nil {
		return nil, nil, err
	}

	l.logger.Sugar().Debugw("Payment appended",
		"channelId", ch.ID,
		"index", link.Index,
		"hash", link.Hash.Hex(),
	)
	return payment, updated, nil
}

// Payments lists a channel's payments in index order.
func (l *Ledger) Payments(ctx context.Context, channelID string) ([]*types.Payment, error) {
	return l.store.ListPayments(ctx, channelID)
}

// HashUsed reports whether hash was ever accepted on any channel.
func (l *Ledger) HashUsed(ctx context.Context, hash common.Hash) (bool, error) {
	p, err := l.store.GetPaymentByHash(ctx, hash)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// AmountOwed is the wei the sender owes on channelID given its highest accepted index.
func (l *Ledger) AmountOwed(ctx context.Context, channelID string) (*big.Int, error) {
	ch, err := l.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, types.ErrChannelNotFound
	}
	return ch.AmountOwed(), nil
}
