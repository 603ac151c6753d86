package receiptgate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProof() *PaymentProof {
	return &PaymentProof{
		Payer:       "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Amount:      "1000000000000000",
		Asset:       "ETH",
		ChainID:     1,
		Nonce:       "0x" + strings.Repeat("ab", 32),
		ValidAfter:  1700000000,
		ValidBefore: 1700000600,
		Signature:   "0x" + strings.Repeat("01", 65),
	}
}

func testPrice() PriceConfig {
	return PriceConfig{Price: "1000000000000000", Asset: "ETH", ChainID: 1}
}

func TestBuildReceipt_Idempotent(t *testing.T) {
	proof := testProof()
	result := []byte(`{"prompt":"hello"}`)

	first, err := BuildReceipt(proof, "/generate", result, testPrice())
	require.NoError(t, err)
	second, err := BuildReceipt(proof, "/generate", result, testPrice())
	require.NoError(t, err)

	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, *first, *second)
}

func TestBuildReceipt_CommitsToInputs(t *testing.T) {
	base, err := BuildReceipt(testProof(), "/generate", []byte(`{"prompt":"hello"}`), testPrice())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func() (*Receipt, error)
	}{
		{
			name: "different result",
			mutate: func() (*Receipt, error) {
				return BuildReceipt(testProof(), "/generate", []byte(`{"prompt":"other"}`), testPrice())
			},
		},
		{
			name: "different endpoint",
			mutate: func() (*Receipt, error) {
				return BuildReceipt(testProof(), "/other", []byte(`{"prompt":"hello"}`), testPrice())
			},
		},
		{
			name: "different nonce",
			mutate: func() (*Receipt, error) {
				proof := testProof()
				proof.Nonce = "0x" + strings.Repeat("cd", 32)
				return BuildReceipt(proof, "/generate", []byte(`{"prompt":"hello"}`), testPrice())
			},
		},
		{
			name: "different price",
			mutate: func() (*Receipt, error) {
				price := testPrice()
				price.Price = "2000000000000000"
				return BuildReceipt(testProof(), "/generate", []byte(`{"prompt":"hello"}`), price)
			},
		},
		{
			name: "different asset",
			mutate: func() (*Receipt, error) {
				price := testPrice()
				price.Asset = "USDC"
				return BuildReceipt(testProof(), "/generate", []byte(`{"prompt":"hello"}`), price)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other, err := tt.mutate()
			require.NoError(t, err)
			assert.NotEqual(t, base.RequestID, other.RequestID)
		})
	}
}

func TestBuildReceipt_Fields(t *testing.T) {
	proof := testProof()
	receipt, err := BuildReceipt(proof, "/generate", []byte(`{"prompt":"hello"}`), testPrice())
	require.NoError(t, err)

	assert.Equal(t, "/generate", receipt.Endpoint)
	assert.Equal(t, "1000000000000000", receipt.Price)
	assert.Equal(t, "ETH", receipt.Asset)
	assert.Equal(t, proof.ValidAfter, receipt.Timestamp)
	assert.Equal(t, ProofDigest(proof), receipt.PaymentProof)
	assert.Equal(t, ResultDigest([]byte(`{"prompt":"hello"}`)), receipt.ResultHash)
	assert.True(t, strings.HasPrefix(receipt.RequestID, "0x"))
	assert.Len(t, receipt.RequestID, 66)
}

func TestBuildReceipt_MissingInputs(t *testing.T) {
	_, err := BuildReceipt(nil, "/generate", nil, testPrice())
	assert.Error(t, err)

	_, err = BuildReceipt(testProof(), "", nil, testPrice())
	assert.Error(t, err)
}

func TestProofDigest_IgnoresSignature(t *testing.T) {
	a := testProof()
	b := testProof()
	b.Signature = "0x" + strings.Repeat("02", 65)

	// Signature malleability must not change the payment's identity.
	assert.Equal(t, ProofDigest(a), ProofDigest(b))
}

func TestProofDigest_CaseInsensitivePayer(t *testing.T) {
	a := testProof()
	b := testProof()
	b.Payer = strings.ToLower(a.Payer)

	assert.Equal(t, ProofDigest(a), ProofDigest(b))
}
