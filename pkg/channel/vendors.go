package channel

import (
	"context"

	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type CreateVendorRequest struct {
	ChainID       uint64          `json:"chainId"`
	Address       string          `json:"address"`
	AmountPerHash decimal.Decimal `json:"amountPerHash"`
}

type UpdateVendorRequest struct {
	ChainID       *uint64          `json:"chainId,omitempty"`
	AmountPerHash *decimal.Decimal `json:"amountPerHash,omitempty"`
}

func validatePrice(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrap(types.ErrInvalidRequest, "amountPerHash must be positive")
	}
	return nil
}

func validateChain(chainID uint64) error {
	if _, ok := config.ChainIdToName[config.ChainId(chainID)]; !ok {
		return errors.Wrapf(types.ErrInvalidRequest, "unsupported chain ID %d. Supported: %s", chainID, config.GetSupportedChainIDsString())
	}
	return nil
}

func (s *Service) CreateVendor(ctx context.Context, req *CreateVendorRequest) (*types.Vendor, error) {
	if !config.IsValidAddress(req.Address) {
		return nil, errors.Wrapf(types.ErrInvalidRequest, "invalid vendor address %q", req.Address)
	}
	if err := validateChain(req.ChainID); err != nil {
		return nil, err
	}
	if err := validatePrice(req.AmountPerHash); err != nil {
		return nil, err
	}

	now := s.now()
	vendor := &types.Vendor{
		ID:            uuid.New().String(),
		ChainID:       req.ChainID,
		Address:       common.HexToAddress(req.Address),
		AmountPerHash: req.AmountPerHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateVendor(ctx, vendor); err != nil {
		return nil, err
	}
	s.logger.Sugar().Infow("Vendor created",
		"vendorId", vendor.ID,
		"address", vendor.Address.Hex(),
		"amountPerHash", vendor.AmountPerHash.String(),
	)
	return vendor, nil
}

func (s *Service) UpdateVendor(ctx context.Context, id string, req *UpdateVendorRequest) (*types.Vendor, error) {
	vendor, err := s.GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ChainID != nil {
		if err := validateChain(*req.ChainID); err != nil {
			return nil, err
		}
		vendor.ChainID = *req.ChainID
	}
	if req.AmountPerHash != nil {
		if err := validatePrice(*req.AmountPerHash); err != nil {
			return nil, err
		}
		vendor.AmountPerHash = *req.AmountPerHash
	}
	vendor.UpdatedAt = s.now()
	if err := s.store.UpdateVendor(ctx, vendor); err != nil {
		return nil, err
	}
	return vendor, nil
}

func (s *Service) GetVendor(ctx context.Context, id string) (*types.Vendor, error) {
	vendor, err := s.store.GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, types.ErrVendorNotFound
	}
	return vendor, nil
}

func (s *Service) GetVendorByAddress(ctx context.Context, addr common.Address) (*types.Vendor, error) {
	vendor, err := s.store.GetVendorByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, types.ErrVendorNotFound
	}
	return vendor, nil
}

func (s *Service) ListVendors(ctx context.Context, page types.Page) ([]*types.Vendor, types.Pagination, error) {
	vendors, err := s.store.ListVendors(ctx)
	if err != nil {
		return nil, types.Pagination{}, err
	}
	start, end := page.Bounds(len(vendors))
	return vendors[start:end], types.NewPagination(page, len(vendors)), nil
}

// DeleteVendor removes a vendor that has no open channels.
func (s *Service) DeleteVendor(ctx context.Context, id string) error {
	if _, err := s.GetVendor(ctx, id); err != nil {
		return err
	}
	open, err := s.store.ListChannels(ctx, &types.ChannelFilter{VendorID: id, Status: types.ChannelStatus_Open})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return errors.Wrapf(types.ErrInvalidRequest, "vendor has %d open channels", len(open))
	}
	return s.store.DeleteVendor(ctx, id)
}
