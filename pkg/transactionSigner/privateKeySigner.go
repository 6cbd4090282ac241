package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	cryptoLibsEcdsa "github.com/Layr-Labs/crypto-libs/pkg/ecdsa"
	"github.com/Layr-Labs/payword-channels-go/pkg/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// PrivateKeySigner implements ITransactionSigner with a local secp256k1 key.
type PrivateKeySigner struct {
	ethClient   EthClient
	logger      *zap.Logger
	chainID     *big.Int
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
}

// NewPrivateKeySigner parses a hex private key (with or without 0x) and binds it to the client's chain.
func NewPrivateKeySigner(privateKeyHex string, ethClient EthClient, logger *zap.Logger) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimSpace(privateKeyHex)
	settlementKey, err := cryptoLibsEcdsa.NewPrivateKeyFromHexString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	fromAddress, err := settlementKey.DeriveAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive settlement address: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if crypto.PubkeyToAddress(privateKey.PublicKey) != fromAddress {
		return nil, fmt.Errorf("settlement key decodes to two different addresses")
	}

	chainID, err := ethClient.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &PrivateKeySigner{
		ethClient:   ethClient,
		logger:      logger,
		chainID:     chainID,
		privateKey:  privateKey,
		fromAddress: fromAddress,
	}, nil
}

// GetTransactOpts returns options that build but do not send a transaction.
// Fees, nonce and signature are set in SignAndSendTransaction.
func (s *PrivateKeySigner) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{
		From:    s.fromAddress,
		Context: ctx,
		NoSend:  true,
		Signer: func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return tx, nil
		},
	}, nil
}

func (s *PrivateKeySigner) feeParams(ctx context.Context) (*big.Int, *big.Int, *big.Int, error) {
	var fallbackGasTipCap *big.Int
	var baseFeeMultiplier int64

	if config.IsEthereum(config.ChainId(s.chainID.Uint64())) {
		fallbackGasTipCap = big.NewInt(1500000000) // 1.5 gwei
		baseFeeMultiplier = 3
	} else {
		fallbackGasTipCap = big.NewInt(1000000) // 0.001 gwei
		baseFeeMultiplier = 2
	}

	gasTipCap, err := s.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		s.logger.Sugar().Warnw("Cannot get gasTipCap, using fallback", zap.Error(err))
		gasTipCap = fallbackGasTipCap
	}

	header, err := s.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get latest block header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	maxFeePerGas := new(big.Int).Add(
		new(big.Int).Mul(baseFee, big.NewInt(baseFeeMultiplier)),
		gasTipCap,
	)
	return gasTipCap, maxFeePerGas, baseFee, nil
}

// EstimateGasPriceAndLimit returns the max fee per gas and a buffered gas limit for tx.
func (s *PrivateKeySigner) EstimateGasPriceAndLimit(ctx context.Context, tx *types.Transaction) (*big.Int, uint64, error) {
	gasTipCap, maxFeePerGas, _, err := s.feeParams(ctx)
	if err != nil {
		return nil, 0, err
	}
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.fromAddress,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return maxFeePerGas, addGasBuffer(gasLimit), nil
}

// SignAndSendTransaction reprices tx as EIP-1559, signs it, sends it and waits for it to be mined.
func (s *PrivateKeySigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	gasTipCap, maxFeePerGas, baseFee, err := s.feeParams(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.fromAddress,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimitWithBuffer := addGasBuffer(gasLimit)

	// Always fetch the nonce: 0 on the incoming tx is indistinguishable from "unset".
	nonce, err := s.ethClient.PendingNonceAt(ctx, s.fromAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Gas:       gasLimitWithBuffer,
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	})

	s.logger.Info("SignAndSendTransaction: sending transaction",
		zap.String("to", tx.To().Hex()),
		zap.String("maxPriorityFeePerGas", gasTipCap.String()),
		zap.String("maxFeePerGas", maxFeePerGas.String()),
		zap.String("baseFee", baseFee.String()),
		zap.Uint64("gasLimit", gasLimitWithBuffer),
		zap.Uint64("nonce", nonce),
	)

	signedTx, err := types.SignTx(unsigned, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Info("SignAndSendTransaction: transaction sent",
		zap.String("txHash", signedTx.Hash().Hex()),
	)

	if _, isPending, err := s.ethClient.TransactionByHash(ctx, signedTx.Hash()); err != nil {
		s.logger.Warn("Could not verify transaction in mempool",
			zap.Error(err),
			zap.String("txHash", signedTx.Hash().Hex()),
		)
	} else {
		s.logger.Debug("Transaction verified in mempool",
			zap.Bool("isPending", isPending),
			zap.String("txHash", signedTx.Hash().Hex()),
		)
	}

	receipt, err := bind.WaitMined(ctx, s.ethClient, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		s.logger.Error("SignAndSendTransaction: transaction failed",
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.Uint64("status", receipt.Status),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return nil, fmt.Errorf("transaction failed with status %d", receipt.Status)
	}

	s.logger.Info("SignAndSendTransaction: transaction succeeded",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed),
		zap.Uint64("blockNumber", receipt.BlockNumber.Uint64()),
	)

	return receipt, nil
}

// GetFromAddress returns the address that will be used for signing
func (s *PrivateKeySigner) GetFromAddress() common.Address {
	return s.fromAddress
}

// addGasBuffer adds 20% headroom to an estimate.
func addGasBuffer(gasLimit uint64) uint64 {
	return gasLimit * 12 / 10
}
