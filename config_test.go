package receiptgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RECEIPTGATE_PRICE", "1000000000000000")
	t.Setenv("RECEIPTGATE_ASSET", "ETH")
	t.Setenv("RECEIPTGATE_CHAIN_ID", "1")
	t.Setenv("RECEIPTGATE_POSTING_ENABLED", "true")
	t.Setenv("RECEIPTGATE_RPC_URL", "http://localhost:8545")
	t.Setenv("RECEIPTGATE_CONTRACT", testContract)
	t.Setenv("RECEIPTGATE_SIGNING_KEY", testSigningKey)
	t.Setenv("RECEIPTGATE_EXPLORER_URL", "https://etherscan.io")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "1000000000000000", cfg.Price.Price)
	assert.Equal(t, "ETH", cfg.Price.Asset)
	assert.Equal(t, int64(1), cfg.Price.ChainID)
	assert.True(t, cfg.PostingEnabled)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, testContract, cfg.ContractAddress)
	assert.Equal(t, testSigningKey, cfg.SigningKey)
	assert.Equal(t, "https://etherscan.io", cfg.ExplorerBaseURL)
}

func TestConfigFromEnv_Incomplete(t *testing.T) {
	t.Setenv("RECEIPTGATE_PRICE", "1000000000000000")
	t.Setenv("RECEIPTGATE_ASSET", "")
	t.Setenv("RECEIPTGATE_CHAIN_ID", "1")

	_, err := ConfigFromEnv()
	assert.ErrorIs(t, err, ErrMissingAsset)
}
