package persistence

import (
	"fmt"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/pkg/errors"
)

// ErrWriteConflict signals that a compare-and-append lost a race. Callers
// re-read the ledger and try again; it never reaches clients.
var ErrWriteConflict = errors.New("concurrent ledger write, retry")

var ErrClosed = errors.New("persistence layer is closed")

// CloseChannelRequest carries the settlement data stamped onto a channel when it closes.
type CloseChannelRequest struct {
	ChannelID    string
	SettlementTx string
	ClosedAt     time.Time
}

// CheckAppend applies the ledger rules every backend enforces inside its
// atomic section. It does not check hash uniqueness, which needs a global index.
func CheckAppend(ch *types.Channel, payment *types.Payment, expectedLastIndex uint64) error {
	if ch == nil {
		return types.ErrChannelNotFound
	}
	if !ch.IsOpen() {
		return types.ErrChannelClosed
	}
	if ch.LastIndex != expectedLastIndex {
		return ErrWriteConflict
	}
	if payment.Index <= ch.LastIndex {
		return errors.Wrapf(types.ErrOutOfOrder, "index %d, last accepted %d", payment.Index, ch.LastIndex)
	}
	if payment.Index > ch.NumHashes {
		return errors.Wrapf(types.ErrInvalidProofChain, "index %d beyond chain length %d", payment.Index, ch.NumHashes)
	}
	return nil
}

// ApplyAppend returns the channel as it looks after payment is committed.
func ApplyAppend(ch *types.Channel, payment *types.Payment) *types.Channel {
	updated := ch.Clone()
	updated.LastIndex = payment.Index
	updated.UpdatedAt = payment.CreatedAt
	return updated
}

// ApplyClose validates and applies the OPEN -> CLOSED transition.
func ApplyClose(ch *types.Channel, req *CloseChannelRequest) (*types.Channel, error) {
	if ch == nil {
		return nil, types.ErrChannelNotFound
	}
	if !ch.IsOpen() {
		return nil, types.ErrAlreadyClosed
	}
	if req.SettlementTx == "" {
		return nil, fmt.Errorf("settlement transaction reference is required")
	}
	updated := ch.Clone()
	closedAt := req.ClosedAt
	updated.Status = types.ChannelStatus_Closed
	updated.SettlementTx = req.SettlementTx
	updated.ClosedAt = &closedAt
	updated.UpdatedAt = closedAt
	return updated, nil
}
