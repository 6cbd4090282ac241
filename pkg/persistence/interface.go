package persistence

import (
	"context"

	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// IPaywordPersistence defines the storage contract for vendors, channels and
// the payment ledger. All implementations must be thread-safe.
//
// The interface supports:
// - Vendor registry (create, update, lookup by id or address, delete)
// - Channel records with a one-way OPEN -> CLOSED transition
// - An append-only payment ledger with per-channel compare-and-append
// - Lifecycle management (close, health check)
//
// Lookups return (nil, nil) when the record does not exist.
type IPaywordPersistence interface {
	// Vendors

	// CreateVendor stores a new vendor.
	// Returns types.ErrVendorExists if another vendor already uses the address.
	CreateVendor(ctx context.Context, vendor *types.Vendor) error

	// UpdateVendor overwrites the price and chain of an existing vendor.
	// The address is immutable. Returns types.ErrVendorNotFound if missing.
	UpdateVendor(ctx context.Context, vendor *types.Vendor) error

	GetVendor(ctx context.Context, id string) (*types.Vendor, error)
	GetVendorByAddress(ctx context.Context, address common.Address) (*types.Vendor, error)

	// ListVendors returns every vendor, newest first.
	ListVendors(ctx context.Context) ([]*types.Vendor, error)

	// DeleteVendor removes a vendor. Idempotent.
	DeleteVendor(ctx context.Context, id string) error

	// Channels

	// CreateChannel stores a new OPEN channel.
	// Returns types.ErrChannelExists if the contract address is already registered.
	CreateChannel(ctx context.Context, channel *types.Channel) error

	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	GetChannelByContract(ctx context.Context, contract common.Address) (*types.Channel, error)

	// ListChannels returns channels matching filter, newest first.
	ListChannels(ctx context.Context, filter *types.ChannelFilter) ([]*types.Channel, error)

	// CloseChannel atomically moves an OPEN channel to CLOSED, recording the
	// settlement reference. Returns types.ErrAlreadyClosed without modifying
	// anything when the channel is not OPEN.
	CloseChannel(ctx context.Context, req *CloseChannelRequest) (*types.Channel, error)

	// DeleteChannel removes a CLOSED channel record. Payments are kept.
	// Returns types.ErrChannelNotClosed for OPEN channels.
	DeleteChannel(ctx context.Context, id string) error

	// Payment ledger

	// AppendPayment commits payment and advances the channel's LastIndex to
	// payment.Index in one atomic step, provided the stored LastIndex still
	// equals expectedLastIndex. Returns ErrWriteConflict when it does not,
	// types.ErrDuplicateHash when the hash was ever accepted on any channel,
	// types.ErrOutOfOrder when payment.Index is not ahead of LastIndex, and
	// types.ErrChannelClosed when the channel is no longer OPEN.
	AppendPayment(ctx context.Context, payment *types.Payment, expectedLastIndex uint64) (*types.Channel, error)

	// LatestPayment returns the payment at the channel's LastIndex, or nil
	// before the first payment.
	LatestPayment(ctx context.Context, channelID string) (*types.Payment, error)

	// ListPayments returns a channel's payments in ascending index order.
	ListPayments(ctx context.Context, channelID string) ([]*types.Payment, error)

	// GetPaymentByHash returns the payment that consumed hash, if any.
	GetPaymentByHash(ctx context.Context, hash common.Hash) (*types.Payment, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// After Close, all other methods return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
