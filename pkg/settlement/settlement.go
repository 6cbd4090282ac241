// Package settlement turns a channel's ledger into the single closeChannel
// call that pays the vendor on chain.
package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/Layr-Labs/payword-channels-go/pkg/channel"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/hashchain"
	"github.com/Layr-Labs/payword-channels-go/pkg/ledger"
	"github.com/Layr-Labs/payword-channels-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Plan is the closeChannel call that redeems a channel's highest accepted link.
type Plan struct {
	ChannelID string         `json:"channelId"`
	Contract  common.Address `json:"contractAddress"`
	Word      common.Hash    `json:"word"`
	// OriginIndex is the word's position counted from H(secret).
	OriginIndex uint64   `json:"originIndex"`
	WordCount   uint64   `json:"wordCount"`
	// Payout is the nominal amount owed, totalAmount*wordCount/numHashes.
	// A deployed EthWord pays balance/totalWordCount*wordCount instead,
	// which truncates the quotient first and can come out up to
	// wordCount-1 wei lower. When wordCount equals the remaining word
	// count the contract pays the whole balance.
	Payout *big.Int `json:"payout"`
}

type Result struct {
	Plan    *Plan               `json:"plan"`
	Close   *escrow.CloseResult `json:"close"`
	Channel *types.Channel      `json:"channel"`
}

type Settler struct {
	ledger   *ledger.Ledger
	channels *channel.Service
	escrow   escrow.IEscrow
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSettler builds a settler. timeout bounds the wait for the close
// transaction to be mined.
func NewSettler(l *ledger.Ledger, channels *channel.Service, esc escrow.IEscrow, timeout time.Duration, logger *zap.Logger) *Settler {
	return &Settler{
		ledger:   l,
		channels: channels,
		escrow:   esc,
		timeout:  timeout,
		logger:   logger,
	}
}

// Plan derives (word, wordCount) for a channel from its ledger. The word is
// the last accepted hash and wordCount equals its tail distance, because the
// contract hashes the word wordCount times to reach the tip it was deployed with.
func (s *Settler) Plan(ctx context.Context, channelID string) (*Plan, error) {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.LastIndex == 0 {
		return nil, types.ErrNothingToSettle
	}

	ref, err := s.ledger.Reference(ctx, ch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ledger head")
	}
	if !hashchain.Verify(ref, hashchain.Link{Hash: ch.Tail, Index: 0}) {
		return nil, errors.Wrapf(types.ErrInvalidProofChain, "ledger head %s does not reach the channel tail", ref)
	}

	origin, err := hashchain.OriginIndex(ch.NumHashes, ref.Index)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidProofChain, "ledger head beyond chain: %v", err)
	}
	wordCount, err := hashchain.WordCountForOrigin(ch.NumHashes, origin)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidProofChain, "ledger head beyond chain: %v", err)
	}
	return &Plan{
		ChannelID:   ch.ID,
		Contract:    ch.ContractAddress,
		Word:        ref.Hash,
		OriginIndex: origin,
		WordCount:   wordCount,
		Payout:      ch.AmountOwed(),
	}, nil
}

// Settle redeems the channel on chain and then closes it off chain with the
// transaction hash as its settlement reference.
func (s *Settler) Settle(ctx context.Context, channelID, vendorID string) (*Result, error) {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.VendorID != vendorID {
		return nil, types.ErrUnauthorized
	}
	if !ch.IsOpen() {
		return nil, types.ErrAlreadyClosed
	}

	plan, err := s.Plan(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if err := s.escrow.SimulateClose(ctx, plan.Contract, plan.Word, plan.WordCount); err != nil {
		return nil, errors.Wrap(err, "closeChannel simulation failed")
	}

	closeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	closeResult, err := s.escrow.CloseChannel(closeCtx, plan.Contract, plan.Word, plan.WordCount)
	if err != nil {
		return nil, errors.Wrap(err, "closeChannel failed")
	}

	s.logger.Sugar().Infow("Channel settled on chain",
		"channelId", plan.ChannelID,
		"contract", plan.Contract.Hex(),
		"wordCount", plan.WordCount,
		"payout", plan.Payout.String(),
		"txHash", closeResult.TxHash.Hex(),
	)

	finalProof := hashchain.Link{Hash: plan.Word, Index: plan.WordCount}
	closed, err := s.channels.Close(context.WithoutCancel(ctx), &channel.CloseRequest{
		ChannelID:    channelID,
		VendorID:     vendorID,
		FinalProof:   &finalProof,
		SettlementTx: closeResult.TxHash.Hex(),
	})
	if err != nil {
		s.logger.Sugar().Errorw("Channel settled on chain but not closed off chain",
			"channelId", plan.ChannelID,
			"txHash", closeResult.TxHash.Hex(),
			"error", err,
		)
		return nil, errors.Wrapf(err, "settled in %s but failed to close channel", closeResult.TxHash.Hex())
	}

	return &Result{Plan: plan, Close: closeResult, Channel: closed}, nil
}
