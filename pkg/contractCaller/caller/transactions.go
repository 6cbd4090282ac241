package caller

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
)

// buildTransactionOpts returns NoSend options; the signer submits the
// transaction itself. Callers must have checked that a signer is configured.
func (cc *ContractCaller) buildTransactionOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return cc.signer.GetTransactOpts(ctx)
}

// signAndSendTransaction submits a settlement transaction and waits for a
// successful receipt. A mined but reverted transaction is an error.
func (cc *ContractCaller) signAndSendTransaction(ctx context.Context, tx *ethereumTypes.Transaction, operation string) (*ethereumTypes.Receipt, error) {
	cc.logger.Sugar().Infow("Signing and sending settlement transaction",
		"operation", operation,
		"from", cc.signer.GetFromAddress().Hex(),
		"escrow", tx.To().Hex(),
		"nonce", tx.Nonce(),
	)

	receipt, err := cc.signer.SignAndSendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	cc.logger.Sugar().Infow("Settlement transaction mined",
		"operation", operation,
		"txHash", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber.Uint64(),
		"gasUsed", receipt.GasUsed,
	)
	return receipt, nil
}
