package caller

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/middleware-bindings/EthWord"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// GetEscrowState reads the channel parties, tip, word count and balance of an EthWord escrow.
func (cc *ContractCaller) GetEscrowState(ctx context.Context, contract common.Address) (*escrow.EscrowState, error) {
	if err := cc.ensureDeployed(ctx, contract); err != nil {
		return nil, err
	}

	ethWord, err := EthWord.NewEthWordCaller(contract, cc.ethclient)
	if err != nil {
		return nil, fmt.Errorf("failed to create EthWord caller: %w", err)
	}
	opts := &bind.CallOpts{Context: ctx}

	recipient, err := ethWord.ChannelRecipient(opts)
	if err != nil {
		return nil, cc.classifyCallError(err, "channelRecipient")
	}
	sender, err := ethWord.ChannelSender(opts)
	if err != nil {
		return nil, cc.classifyCallError(err, "channelSender")
	}
	tip, err := ethWord.ChannelTip(opts)
	if err != nil {
		return nil, cc.classifyCallError(err, "channelTip")
	}
	totalWordCount, err := ethWord.TotalWordCount(opts)
	if err != nil {
		return nil, cc.classifyCallError(err, "totalWordCount")
	}
	if !totalWordCount.IsUint64() {
		return nil, fmt.Errorf("totalWordCount %s overflows uint64", totalWordCount)
	}

	balance, err := cc.ethclient.BalanceAt(ctx, contract, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow balance: %w", err)
	}

	return &escrow.EscrowState{
		Contract:       contract,
		Recipient:      recipient,
		Sender:         sender,
		Tip:            common.Hash(tip),
		TotalWordCount: totalWordCount.Uint64(),
		Balance:        balance,
	}, nil
}

// SimulateClose runs closeChannel as an eth_call from the settlement account.
func (cc *ContractCaller) SimulateClose(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) error {
	if err := cc.ensureDeployed(ctx, contract); err != nil {
		return err
	}

	data, err := cc.ethWordAbi.Pack("closeChannel", word, new(big.Int).SetUint64(wordCount))
	if err != nil {
		return fmt.Errorf("failed to pack closeChannel: %w", err)
	}

	_, err = cc.ethclient.CallContract(ctx, ethereum.CallMsg{
		From: cc.SettlementAddress(),
		To:   &contract,
		Data: data,
	}, nil)
	return cc.classifyCallError(err, "closeChannel simulation")
}

// CloseChannel submits closeChannel(word, wordCount) and waits for it to be mined.
func (cc *ContractCaller) CloseChannel(ctx context.Context, contract common.Address, word common.Hash, wordCount uint64) (*escrow.CloseResult, error) {
	if cc.signer == nil {
		return nil, ErrNoSigner
	}

	ethWord, err := EthWord.NewEthWordTransactor(contract, cc.ethclient)
	if err != nil {
		return nil, fmt.Errorf("failed to create EthWord transactor: %w", err)
	}

	txOpts, err := cc.buildTransactionOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction options: %w", err)
	}

	tx, err := ethWord.CloseChannel(txOpts, word, new(big.Int).SetUint64(wordCount))
	if err != nil {
		return nil, cc.classifyCallError(err, "closeChannel")
	}

	cc.logger.Sugar().Infow("Closing EthWord channel",
		"contract", contract.Hex(),
		"word", word.Hex(),
		"wordCount", wordCount,
	)

	receipt, err := cc.signAndSendTransaction(ctx, tx, "CloseChannel")
	if err != nil {
		return nil, cc.classifyCallError(err, "closeChannel")
	}

	return &escrow.CloseResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}
