package caller

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	"github.com/Layr-Labs/payword-channels-go/pkg/contractCaller"
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/Layr-Labs/payword-channels-go/pkg/middleware-bindings/EthWord"
	"github.com/Layr-Labs/payword-channels-go/pkg/transactionSigner"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrNoSigner = errors.New("no settlement key configured")

type ContractCaller struct {
	ethclient transactionSigner.EthClient
	signer    transactionSigner.ITransactionSigner
	logger    *zap.Logger

	ethWordAbi *abi.ABI
}

var _ contractCaller.IContractCaller = (*ContractCaller)(nil)

// NewContractCallerFromEthereumClient resolves the RPC client behind ethClient
// and binds a caller to it. With an empty settlementKey the caller is read-only.
func NewContractCallerFromEthereumClient(
	ethClient *ethereum.EthereumClient,
	settlementKey string,
	logger *zap.Logger,
) (*ContractCaller, error) {
	client, err := ethClient.GetEthereumContractCaller()
	if err != nil {
		return nil, fmt.Errorf("failed to get Ethereum contract caller: %w", err)
	}

	var signer transactionSigner.ITransactionSigner
	if settlementKey != "" {
		signer, err = transactionSigner.NewTransactionSigner(&transactionSigner.SignerConfig{
			PrivateKey: settlementKey,
		}, client, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create settlement signer: %w", err)
		}
	}

	return NewContractCaller(client, signer, logger)
}

// NewContractCaller binds to EthWord escrows over ethclient. signer may be
// nil for a read-only caller that can inspect but not settle channels.
func NewContractCaller(
	ethclient transactionSigner.EthClient,
	signer transactionSigner.ITransactionSigner,
	logger *zap.Logger,
) (*ContractCaller, error) {
	parsed, err := EthWord.EthWordMetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to parse EthWord ABI: %w", err)
	}

	chainId, err := ethclient.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	cc := &ContractCaller{
		ethclient:  ethclient,
		signer:     signer,
		logger:     logger,
		ethWordAbi: parsed,
	}
	logger.Sugar().Infow("Using EthWord escrow caller",
		"chainId", chainId.Uint64(),
		"settlementAddress", cc.SettlementAddress().Hex(),
	)
	return cc, nil
}

// CanSettle reports whether a settlement key is configured.
func (cc *ContractCaller) CanSettle() bool {
	return cc.signer != nil
}

func (cc *ContractCaller) SettlementAddress() common.Address {
	if cc.signer == nil {
		return common.Address{}
	}
	return cc.signer.GetFromAddress()
}

func (cc *ContractCaller) ensureDeployed(ctx context.Context, contract common.Address) error {
	code, err := cc.ethclient.CodeAt(ctx, contract, nil)
	if err != nil {
		return fmt.Errorf("failed to get code at %s: %w", contract.Hex(), err)
	}
	if len(code) == 0 {
		return errors.Wrapf(escrow.ErrContractNotDeployed, "%s", contract.Hex())
	}
	return nil
}

// classifyCallError turns an EVM revert into escrow.ErrReverted so retry
// layers can tell it apart from transport failures.
func (cc *ContractCaller) classifyCallError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "execution reverted") {
		return fmt.Errorf("%s: %w", operation, err)
	}

	reason := err.Error()
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if custom := cc.decodeCustomError(dataErr.ErrorData()); custom != "" {
			reason = custom
		}
	}
	return errors.Wrapf(escrow.ErrReverted, "%s: %s", operation, reason)
}

func (cc *ContractCaller) decodeCustomError(data interface{}) string {
	s, ok := data.(string)
	if !ok {
		return ""
	}
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) < 4 {
		return ""
	}
	for name, e := range cc.ethWordAbi.Errors {
		if string(e.ID[:4]) == string(raw[:4]) {
			return name
		}
	}
	return ""
}
