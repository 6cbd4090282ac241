// Package channel manages vendors and the lifecycle of payment channels:
// opening them against a funded escrow, listing them, and closing them once.
package channel

import (
	"context"
	"math/big"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/persistence"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Service struct {
	store  persistence.IPaywordPersistence
	escrow escrow.IEscrow
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store persistence.IPaywordPersistence, esc escrow.IEscrow, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		escrow: esc,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenRequest registers a deployed escrow as a channel. Zero-valued terms
// are taken from the escrow; non-zero ones must agree with it.
type OpenRequest struct {
	VendorID        string         `json:"vendorId"`
	ContractAddress common.Address `json:"contractAddress"`
	NumHashes       uint64         `json:"numHashes,omitempty"`
	Tail            common.Hash    `json:"tail,omitempty"`
	TotalAmount     *big.Int       `json:"totalAmount,omitempty"`
}

// Open verifies the escrow behind req and stores an OPEN channel for it.
func (s *Service) Open(ctx context.Context, req *OpenRequest) (*types.Channel, error) {
	if req.ContractAddress == (common.Address{}) {
		return nil, errors.Wrap(types.ErrInvalidRequest, "contractAddress is required")
	}
	vendor, err := s.GetVendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetChannelByContract(ctx, req.ContractAddress)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, types.ErrChannelExists
	}

	state, err := s.escrow.GetEscrowState(ctx, req.ContractAddress)
	if err != nil {
		if errors.Is(err, escrow.ErrContractNotDeployed) || errors.Is(err, escrow.ErrReverted) {
			return nil, errors.Wrapf(types.ErrEscrowMismatch, "%v", err)
		}
		return nil, err
	}

	if state.Recipient != vendor.Address {
		return nil, errors.Wrapf(types.ErrRecipientMismatch, "contract pays %s, vendor is %s", state.Recipient.Hex(), vendor.Address.Hex())
	}
	if err := checkTerms(req, state); err != nil {
		return nil, err
	}

	now := s.now()
	ch := &types.Channel{
		ID:              uuid.New().String(),
		VendorID:        vendor.ID,
		Sender:          state.Sender,
		Recipient:       state.Recipient,
		ContractAddress: req.ContractAddress,
		NumHashes:       state.TotalWordCount,
		Tail:            state.Tip,
		TotalAmount:     new(big.Int).Set(state.Balance),
		Status:          types.ChannelStatus_Open,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}

	s.logger.Sugar().Infow("Channel opened",
		"channelId", ch.ID,
		"vendorId", ch.VendorID,
		"contract", ch.ContractAddress.Hex(),
		"sender", ch.Sender.Hex(),
		"numHashes", ch.NumHashes,
		"totalAmount", ch.TotalAmount.String(),
	)
	return ch, nil
}

func checkTerms(req *OpenRequest, state *escrow.EscrowState) error {
	if state.TotalWordCount == 0 {
		return errors.Wrap(types.ErrEscrowMismatch, "escrow has no words")
	}
	if state.Balance == nil || state.Balance.Sign() <= 0 {
		return errors.Wrap(types.ErrEscrowMismatch, "escrow is not funded")
	}
	if req.NumHashes != 0 && req.NumHashes != state.TotalWordCount {
		return errors.Wrapf(types.ErrEscrowMismatch, "numHashes %d, escrow has %d words", req.NumHashes, state.TotalWordCount)
	}
	if req.Tail != (common.Hash{}) && req.Tail != state.Tip {
		return errors.Wrapf(types.ErrEscrowMismatch, "tail %s, escrow tip %s", req.Tail.Hex(), state.Tip.Hex())
	}
	if req.TotalAmount != nil && req.TotalAmount.Cmp(state.Balance) != 0 {
		return errors.Wrapf(types.ErrEscrowMismatch, "totalAmount %s, escrow holds %s", req.TotalAmount, state.Balance)
	}
	return nil
}

type CloseRequest struct {
	ChannelID string `json:"-"`
	VendorID  string `json:"vendorId"`
	// FinalProof, when set, must be the last accepted payment.
	FinalProof   *hashchain.Link `json:"finalProof,omitempty"`
	SettlementTx string          `json:"settlementTx"`
}

// Close moves an OPEN channel to CLOSED. Closing twice fails with
// types.ErrAlreadyClosed and leaves the record untouched.
func (s *Service) Close(ctx context.Context, req *CloseRequest) (*types.Channel, error) {
	if req.SettlementTx == "" {
		return nil, errors.Wrap(types.ErrInvalidRequest, "settlementTx is required")
	}
	ch, err := s.Get(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if ch.VendorID != req.VendorID {
		return nil, types.ErrUnauthorized
	}
	if !ch.IsOpen() {
		return nil, types.ErrAlreadyClosed
	}

	if req.FinalProof != nil {
		latest, err := s.store.LatestPayment(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil || latest.Index != req.FinalProof.Index || latest.Hash != req.FinalProof.Hash {
			return nil, errors.Wrapf(types.ErrInvalidProofChain, "final proof %s is not the last accepted payment", req.FinalProof)
		}
	}

	closed, err := s.store.CloseChannel(ctx, &persistence.CloseChannelRequest{
		ChannelID:    ch.ID,
		SettlementTx: req.SettlementTx,
		ClosedAt:     s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Sugar().Infow("Channel closed",
		"channelId", closed.ID,
		"lastIndex", closed.LastIndex,
		"amountOwed", closed.AmountOwed().String(),
		"settlementTx", closed.SettlementTx,
	)
	return closed, nil
}

func (s *Service) Get(ctx context.Context, id string) (*types.Channel, error) {
	ch, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, types.ErrChannelNotFound
	}
	return ch, nil
}

func (s *Service) GetByContract(ctx context.Context, contract common.Address) (*types.Channel, error) {
	ch, err := s.store.GetChannelByContract(ctx, contract)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, types.ErrChannelNotFound
	}
	return ch, nil
}

func (s *Service) List(ctx context.Context, filter *types.ChannelFilter, page types.Page) ([]*types.Channel, types.Pagination, error) {
	channels, err := s.store.ListChannels(ctx, filter)
	if err != nil {
		return nil, types.Pagination{}, err
	}
	start, end := page.Bounds(len(channels))
	return channels[start:end], types.NewPagination(page, len(channels)), nil
}

// Delete removes a CLOSED channel. Its payments stay in the ledger.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteChannel(ctx, id)
}

func (s *Service) Payments(ctx context.Context, channelID string, page types.Page) ([]*types.Payment, types.Pagination, error) {
	if _, err := s.Get(ctx, channelID); err != nil {
		return nil, types.Pagination{}, err
	}
	payments, err := s.store.ListPayments(ctx, channelID)
	if err != nil {
		return nil, types.Pagination{}, err
	}
	start, end := page.Bounds(len(payments))
	return payments[start:end], types.NewPagination(page, len(payments)), nil
}

// PaymentByHash returns the payment that consumed hash, or nil when it is unused.
func (s *Service) PaymentByHash(ctx context.Context, hash common.Hash) (*types.Payment, error) {
	return s.store.GetPaymentByHash(ctx, hash)
}
