package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for PayWord server configuration
const (
	EnvPaywordPort               = "PAYWORD_PORT"
	EnvPaywordChainID            = "PAYWORD_CHAIN_ID"
	EnvPaywordRPCURL             = "PAYWORD_RPC_URL"
	EnvPaywordAdminAPIKey        = "PAYWORD_ADMIN_API_KEY"
	EnvPaywordSettlementKey      = "PAYWORD_SETTLEMENT_PRIVATE_KEY"
	EnvPaywordContentDir         = "PAYWORD_CONTENT_DIR"
	EnvPaywordPersistence        = "PAYWORD_PERSISTENCE"
	EnvPaywordBadgerDir          = "PAYWORD_BADGER_DIR"
	EnvPaywordRedisAddress       = "PAYWORD_REDIS_ADDRESS"
	EnvPaywordRedisPassword      = "PAYWORD_REDIS_PASSWORD"
	EnvPaywordRedisDB            = "PAYWORD_REDIS_DB"
	EnvPaywordRedisKeyPrefix     = "PAYWORD_REDIS_KEY_PREFIX"
	EnvPaywordEscrowTimeout      = "PAYWORD_ESCROW_TIMEOUT"
	EnvPaywordEscrowRetries      = "PAYWORD_ESCROW_RETRIES"
	EnvPaywordEscrowRPS          = "PAYWORD_ESCROW_RPS"
	EnvPaywordAdmissionAttempts  = "PAYWORD_ADMISSION_ATTEMPTS"
	EnvPaywordVerbose            = "PAYWORD_VERBOSE"
	EnvPaywordIssuerStoreDir     = "PAYWORD_ISSUER_STORE_DIR"
	EnvPaywordIssuerProofTimeout = "PAYWORD_ISSUER_PROOF_TIMEOUT"
	EnvPaywordAllowedOrigins     = "PAYWORD_ALLOWED_ORIGINS"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
	ChainId_XRPLEVMDevnet   ChainId = 1440002
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
	ChainName_XRPLEVMDevnet   ChainName = "xrpl-evm-devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
	ChainId_XRPLEVMDevnet:   ChainName_XRPLEVMDevnet,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
	ChainName_XRPLEVMDevnet:   ChainId_XRPLEVMDevnet,
}

// IsEthereum reports whether the chain is an Ethereum L1 (or a local fork of one).
func IsEthereum(chainId ChainId) bool {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil:
		return true
	default:
		return false
	}
}

// GetSettlementTimeoutForChain returns how long to wait for a closeChannel
// transaction to be mined on the given chain.
func GetSettlementTimeoutForChain(chainId ChainId) time.Duration {
	switch chainId {
	case ChainId_EthereumMainnet:
		return 5 * time.Minute
	case ChainId_EthereumSepolia:
		return 3 * time.Minute
	case ChainId_EthereumAnvil:
		return 30 * time.Second
	case ChainId_XRPLEVMDevnet:
		return 1 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
		ChainId_XRPLEVMDevnet,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil), %d (xrpl evm devnet)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil, ChainId_XRPLEVMDevnet)
}

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

type PersistenceConfig struct {
	Type      PersistenceType `json:"type" yaml:"type"`
	BadgerDir string          `json:"badgerDir" yaml:"badgerDir"`
	Redis     *RedisConfig    `json:"redis,omitempty" yaml:"redis,omitempty"`
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if pc.BadgerDir == "" {
			allErrors = append(allErrors, field.Required(path.Child("badgerDir"), "badgerDir is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if pc.Redis == nil || pc.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(path.Child("redis", "address"), "redis address is required for redis persistence"))
		} else if pc.Redis.DB < 0 || pc.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redis", "db"), pc.Redis.DB, "must be between 0 and 15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type,
			[]string{string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Redis)}))
	}
	return allErrors
}

type EscrowConfig struct {
	// CallTimeout bounds every individual RPC call against the escrow contract.
	CallTimeout time.Duration `json:"callTimeout" yaml:"callTimeout"`
	// MaxRetries is the number of additional attempts after a transient failure.
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`
	// RequestsPerSecond limits RPC traffic to the node. Zero disables limiting.
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
}

func DefaultEscrowConfig() *EscrowConfig {
	return &EscrowConfig{
		CallTimeout:       5 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 20,
	}
}

// PaywordServerConfig represents the complete configuration for a vendor server
type PaywordServerConfig struct {
	Port int `json:"port"`

	ChainID   ChainId   `json:"chain_id"`
	ChainName ChainName `json:"chain_name"`
	RpcUrl    string    `json:"rpc_url"`

	// AdminAPIKey guards every mutating route with a bearer token.
	AdminAPIKey string `json:"admin_api_key"`

	// SettlementPrivateKey is the vendor key used to submit closeChannel.
	// Optional; without it channels can only be closed with an external tx reference.
	SettlementPrivateKey string `json:"settlement_private_key"`

	ContentDir string `json:"content_dir"`

	// AllowedOrigins are the browser origins permitted by CORS.
	AllowedOrigins []string `json:"allowed_origins"`

	Persistence *PersistenceConfig `json:"persistence"`
	Escrow      *EscrowConfig      `json:"escrow"`

	AdmissionAttempts int `json:"admission_attempts"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the server configuration and fills in the chain name.
func (c *PaywordServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}

	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), c.ChainID,
			fmt.Sprintf("unsupported chain ID. Supported: %s", GetSupportedChainIDsString())))
	} else {
		c.ChainName = chainName
	}

	if c.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required"))
	}
	if c.AdminAPIKey == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("adminApiKey"), "adminApiKey is required"))
	}
	if c.ContentDir == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("contentDir"), "contentDir is required"))
	}

	if c.SettlementPrivateKey != "" {
		key := strings.TrimPrefix(c.SettlementPrivateKey, "0x")
		if len(key) != 64 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("settlementPrivateKey"), "<redacted>",
				fmt.Sprintf("must be 32 bytes (64 hex chars), got %d chars", len(key))))
		}
	}

	if c.Persistence == nil {
		allErrors = append(allErrors, field.Required(field.NewPath("persistence"), "persistence is required"))
	} else {
		allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	}

	if c.Escrow == nil {
		c.Escrow = DefaultEscrowConfig()
	}
	if c.Escrow.CallTimeout <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("escrow", "callTimeout"), c.Escrow.CallTimeout.String(), "must be positive"))
	}
	if c.Escrow.MaxRetries < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("escrow", "maxRetries"), c.Escrow.MaxRetries, "must not be negative"))
	}
	if c.Escrow.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("escrow", "requestsPerSecond"), c.Escrow.RequestsPerSecond, "must not be negative"))
	}

	if c.AdmissionAttempts < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("admissionAttempts"), c.AdmissionAttempts, "must be at least 1"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// IssuerConfig configures the client-side chain issuer.
type IssuerConfig struct {
	StoreDir     string        `json:"storeDir" yaml:"storeDir"`
	ProofTimeout time.Duration `json:"proofTimeout" yaml:"proofTimeout"`
}

func (ic *IssuerConfig) Validate() error {
	var allErrors field.ErrorList
	if ic.ProofTimeout <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("proofTimeout"), ic.ProofTimeout.String(), "must be positive"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// IsValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
