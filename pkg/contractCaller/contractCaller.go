package contractCaller

import (
	"github.com/Layr-Labs/payword-channels-go/pkg/escrow"
	"github.com/ethereum/go-ethereum/common"
)

// IContractCaller is the on-chain side of the vendor server: reads and
// settles EthWord escrows as the configured settlement account.
type IContractCaller interface {
	escrow.IEscrow

	// SettlementAddress is the account closeChannel is sent from.
	SettlementAddress() common.Address
}
