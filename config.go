package receiptgate

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config validation errors
var (
	ErrMissingPrice    = errors.New("receiptgate: price is required")
	ErrMissingAsset    = errors.New("receiptgate: asset is required")
	ErrMissingChainID  = errors.New("receiptgate: chainId is required")
	ErrMissingRPCURL   = errors.New("receiptgate: rpc url is required when posting is enabled")
	ErrMissingContract = errors.New("receiptgate: ledger contract address is required when posting is enabled")
	ErrMissingKey      = errors.New("receiptgate: signing key is required when posting is enabled")
)

// PriceConfig is the process-wide price for the protected endpoint.
// Loaded once at startup and immutable thereafter; both the gate and the
// receipt builder read it, so a receipt always commits to the exact price
// that was charged.
type PriceConfig struct {
	// Price is the amount in the asset's smallest unit (e.g. wei), decimal string.
	Price string `json:"price"`
	// Asset identifies the payment asset (e.g. "ETH" or a token address).
	Asset string `json:"asset"`
	// ChainID is the chain payments must be made on.
	ChainID int64 `json:"chainId"`
}

// Validate checks that all required price fields are set.
func (c PriceConfig) Validate() error {
	if c.Price == "" {
		return ErrMissingPrice
	}
	if c.Asset == "" {
		return ErrMissingAsset
	}
	if c.ChainID == 0 {
		return ErrMissingChainID
	}
	return nil
}

// Pricing returns the unauthenticated pricing advertisement for this config.
func (c PriceConfig) Pricing() PricingInfo {
	return PricingInfo{
		Amount:  c.Price,
		Asset:   c.Asset,
		ChainID: c.ChainID,
		Accepts: []AcceptedProof{
			{Scheme: "exact", Asset: c.Asset, Amount: c.Price, ChainID: c.ChainID},
		},
	}
}

// Default timeouts for the two points that may suspend.
const (
	DefaultVerifyTimeout = 10 * time.Second
	DefaultPostTimeout   = 30 * time.Second
)

// Config is the full service configuration. Constructed at startup, validated
// once, and passed by value into the components that need it. There is no
// mutable process-global state.
type Config struct {
	Price PriceConfig `json:"price"`

	// PostingEnabled turns on server-side posting of receipts to the ledger
	// contract. When false the client bears responsibility for posting and
	// responses carry client-posting instructions instead.
	PostingEnabled bool `json:"postingEnabled"`

	// RPCURL is the JSON-RPC endpoint of the ledger's chain. Required when
	// posting is enabled.
	RPCURL string `json:"rpcUrl,omitempty"`
	// ContractAddress is the IRSB receipt ledger contract, hex-encoded.
	ContractAddress string `json:"contractAddress"`
	// SigningKey is the hex-encoded private key used to submit posting
	// transactions and to produce the provider-side attestation.
	SigningKey string `json:"-"`
	// ExplorerBaseURL is used to derive informational explorer links for
	// posted receipts (e.g. "https://etherscan.io").
	ExplorerBaseURL string `json:"explorerBaseUrl,omitempty"`

	// VerifyTimeout bounds the external proof verification call.
	VerifyTimeout time.Duration `json:"-"`
	// PostTimeout bounds the on-chain submission.
	PostTimeout time.Duration `json:"-"`
}

// Validate checks the config for completeness. Posting-related fields are
// only required when posting is enabled.
func (c Config) Validate() error {
	if err := c.Price.Validate(); err != nil {
		return err
	}
	if c.PostingEnabled {
		if c.RPCURL == "" {
			return ErrMissingRPCURL
		}
		if c.ContractAddress == "" {
			return ErrMissingContract
		}
		if c.SigningKey == "" {
			return ErrMissingKey
		}
	}
	return nil
}

// GetVerifyTimeout returns the verify timeout, defaulting if unset.
func (c Config) GetVerifyTimeout() time.Duration {
	if c.VerifyTimeout <= 0 {
		return DefaultVerifyTimeout
	}
	return c.VerifyTimeout
}

// GetPostTimeout returns the posting timeout, defaulting if unset.
func (c Config) GetPostTimeout() time.Duration {
	if c.PostTimeout <= 0 {
		return DefaultPostTimeout
	}
	return c.PostTimeout
}

// ConfigFromEnv loads the service configuration from the environment:
//
//	RECEIPTGATE_PRICE, RECEIPTGATE_ASSET, RECEIPTGATE_CHAIN_ID
//	RECEIPTGATE_POSTING_ENABLED, RECEIPTGATE_RPC_URL,
//	RECEIPTGATE_CONTRACT, RECEIPTGATE_SIGNING_KEY, RECEIPTGATE_EXPLORER_URL
func ConfigFromEnv() (Config, error) {
	chainID, _ := strconv.ParseInt(os.Getenv("RECEIPTGATE_CHAIN_ID"), 10, 64)
	posting, _ := strconv.ParseBool(os.Getenv("RECEIPTGATE_POSTING_ENABLED"))

	cfg := Config{
		Price: PriceConfig{
			Price:   os.Getenv("RECEIPTGATE_PRICE"),
			Asset:   os.Getenv("RECEIPTGATE_ASSET"),
			ChainID: chainID,
		},
		PostingEnabled:  posting,
		RPCURL:          os.Getenv("RECEIPTGATE_RPC_URL"),
		ContractAddress: os.Getenv("RECEIPTGATE_CONTRACT"),
		SigningKey:      os.Getenv("RECEIPTGATE_SIGNING_KEY"),
		ExplorerBaseURL: os.Getenv("RECEIPTGATE_EXPLORER_URL"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
