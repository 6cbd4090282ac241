// Package escrow is the boundary to the on-chain EthWord contract that holds a
// channel's funds and pays out against a revealed hash-chain word.
package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	// ErrReverted marks a call the contract rejected. Retrying it cannot succeed.
	ErrReverted = errors.New("escrow call reverted")

	ErrNotRecipient        = errors.Wrap(ErrReverted, "caller is not the channel recipient")
	ErrInvalidWord         = errors.Wrap(ErrReverted, "word does not hash to the channel tip")
	ErrWordCountExceeded   = errors.Wrap(ErrReverted, "word count exceeds the remaining words")
	ErrZeroWordCount       = errors.Wrap(ErrReverted, "word count must be positive")
	ErrContractNotDeployed = errors.New("no escrow contract at address")
)

// EscrowState is the on-chain view of one EthWord contract.
type EscrowState struct {
	Contract  common.Address
	Recipient common.Address
	Sender    common.Address
	// Tip is the current anchor: the chain tail at deployment, the last
	// redeemed word after a partial close.
	Tip            common.Hash
	TotalWordCount uint64
	Balance        *big.Int
}

// CloseResult describes a mined closeChannel transaction.
type CloseResult struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

type IEscrow interface {
	GetEscrowState(ctx context.Context, contract common.Address) (*EscrowState, error)

	// SimulateClose checks that closeChannel(word, wordCount) would succeed
	// without submitting it.
	SimulateClose(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) error

	CloseChannel(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) (*CloseResult, error)
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrReverted) ||
		errors.Is(err, ErrContractNotDeployed) ||
		errors.Is(err, context.Canceled)
}
