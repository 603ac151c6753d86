package receiptgate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// transferPrimaryType is the pinned typed-data schema for signature-based
// payment proofs (x402-style transfer authorizations).
const transferPrimaryType = "TransferAuthorization"

// AuthorizationVerifier verifies signature-based proofs locally: the proof's
// signature must be a valid EIP-712 attestation by the declared payer over
// the transfer's committed fields.
type AuthorizationVerifier struct {
	// PayTo is the provider address the transfer must be authorized to.
	PayTo string
}

// Verify checks the proof's transfer-authorization signature.
func (v *AuthorizationVerifier) Verify(_ context.Context, proof *PaymentProof) error {
	if proof.Signature == "" {
		return fmt.Errorf("proof carries no signature")
	}
	sig, err := hexDecode(proof.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	digest, err := transferAuthorizationDigest(proof, v.PayTo)
	if err != nil {
		return err
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(recovered, proof.Payer) {
		return fmt.Errorf("signature signer %s does not match payer %s", recovered, proof.Payer)
	}
	return nil
}

// transferAuthorizationDigest computes the EIP-712 digest a payer signs when
// authorizing the transfer behind a payment proof.
func transferAuthorizationDigest(proof *PaymentProof, payTo string) ([]byte, error) {
	amount, ok := new(big.Int).SetString(proof.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid proof amount: %s", proof.Amount)
	}
	nonce, err := hexToBytes32(proof.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid proof nonce: %w", err)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			transferPrimaryType: {
				{Name: "payer", Type: "address"},
				{Name: "payTo", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "asset", Type: "string"},
				{Name: "nonce", Type: "bytes32"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
			},
		},
		PrimaryType: transferPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    LedgerDomainName,
			Version: LedgerDomainVersion,
			ChainId: math.NewHexOrDecimal256(proof.ChainID),
		},
		Message: map[string]interface{}{
			"payer":       checksumAddress(proof.Payer),
			"payTo":       checksumAddress(payTo),
			"amount":      amount,
			"asset":       proof.Asset,
			"nonce":       nonce,
			"validAfter":  big.NewInt(proof.ValidAfter),
			"validBefore": big.NewInt(proof.ValidBefore),
		},
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash authorization: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)
	return crypto.Keccak256(rawData), nil
}

// FacilitatorVerifier delegates proof verification to an external x402-style
// facilitator over HTTP. The gate bounds the call with a deadline.
type FacilitatorVerifier struct {
	url        string
	httpClient *http.Client
}

// NewFacilitatorVerifier creates a verifier against the facilitator base URL.
// Pass a custom client to control transport settings; the per-call timeout
// comes from the gate's context.
func NewFacilitatorVerifier(url string, client *http.Client) *FacilitatorVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &FacilitatorVerifier{url: strings.TrimSuffix(url, "/"), httpClient: client}
}

type facilitatorVerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// Verify posts the proof to the facilitator's verify endpoint.
func (v *FacilitatorVerifier) Verify(ctx context.Context, proof *PaymentProof) error {
	body, err := json.Marshal(map[string]interface{}{"paymentProof": proof})
	if err != nil {
		return fmt.Errorf("failed to marshal proof: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url+"/verify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator verify call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator verify returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result facilitatorVerifyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("invalid verify response: %w", err)
	}
	if !result.IsValid {
		if result.InvalidReason != "" {
			return fmt.Errorf("facilitator rejected proof: %s", result.InvalidReason)
		}
		return fmt.Errorf("facilitator rejected proof")
	}
	return nil
}

// hexDecode decodes a 0x-prefixed hex string.
func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
