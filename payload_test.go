package receiptgate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func buildTestPayload(t *testing.T) SigningPayload {
	t.Helper()
	receipt, err := BuildReceipt(testProof(), "/generate", []byte(`{"prompt":"hello"}`), testPrice())
	require.NoError(t, err)
	return BuildSigningPayload(receipt, 1, testContract)
}

func TestBuildSigningPayload_ByteIdentical(t *testing.T) {
	// Simulate independent client and server derivation from the same receipt.
	first := buildTestPayload(t)
	second := buildTestPayload(t)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, firstJSON, secondJSON)
}

func TestBuildSigningPayload_Domain(t *testing.T) {
	payload := buildTestPayload(t)

	assert.Equal(t, "IRSB", payload.Domain.Name)
	assert.Equal(t, "1", payload.Domain.Version)
	assert.Equal(t, int64(1), payload.Domain.ChainID)
	assert.Equal(t, strings.ToLower(testContract), payload.Domain.VerifyingContract)
	assert.Equal(t, "Receipt", payload.PrimaryType)
}

func TestSigningPayload_DigestStable(t *testing.T) {
	payload := buildTestPayload(t)

	first, err := payload.Digest()
	require.NoError(t, err)
	second, err := payload.Digest()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32)
}

func TestSigningPayload_DigestCommitsToReceipt(t *testing.T) {
	payload := buildTestPayload(t)
	base, err := payload.Digest()
	require.NoError(t, err)

	other := buildTestPayload(t)
	other.Message.Endpoint = "/other"
	changed, err := other.Digest()
	require.NoError(t, err)

	assert.NotEqual(t, base, changed)
}

func TestDualAttestation_SignAndRecover(t *testing.T) {
	payload := buildTestPayload(t)

	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	providerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	// Both parties sign the same payload independently.
	payerSig, err := SignPayload(payload, payerKey)
	require.NoError(t, err)
	providerSig, err := SignPayload(payload, providerKey)
	require.NoError(t, err)

	payerAddr, err := RecoverSigner(payload, payerSig)
	require.NoError(t, err)
	providerAddr, err := RecoverSigner(payload, providerSig)
	require.NoError(t, err)

	assert.Equal(t, crypto.PubkeyToAddress(payerKey.PublicKey).Hex(), payerAddr)
	assert.Equal(t, crypto.PubkeyToAddress(providerKey.PublicKey).Hex(), providerAddr)
	assert.NotEqual(t, payerAddr, providerAddr)
}

func TestRecoverSigner_BadSignatureLength(t *testing.T) {
	payload := buildTestPayload(t)
	_, err := RecoverSigner(payload, []byte{0x01, 0x02})
	assert.Error(t, err)
}
