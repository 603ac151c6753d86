package receiptgate

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Pinned EIP-712 domain of the IRSB receipt ledger contract. The field set
// and ordering below are part of the contract interface and must not change
// without a version bump on both sides.
const (
	LedgerDomainName    = "IRSB"
	LedgerDomainVersion = "1"
	receiptPrimaryType  = "Receipt"
)

// receiptTypedFields is the pinned Receipt type of the ledger contract.
var receiptTypedFields = []TypedField{
	{Name: "requestId", Type: "bytes32"},
	{Name: "paymentProof", Type: "bytes32"},
	{Name: "endpoint", Type: "string"},
	{Name: "resultHash", Type: "bytes32"},
	{Name: "price", Type: "uint256"},
	{Name: "asset", Type: "string"},
	{Name: "timestamp", Type: "uint256"},
}

// BuildSigningPayload derives the typed-data signing payload for a Receipt.
// Given the same Receipt and domain parameters, the derived payload is
// byte-identical on every invocation, regardless of which party derives it:
// all fields come from the receipt, the type set is pinned, and the JSON
// encoding uses fixed struct ordering.
func BuildSigningPayload(receipt *Receipt, chainID int64, verifyingContract string) SigningPayload {
	return SigningPayload{
		Domain: TypedDomain{
			Name:              LedgerDomainName,
			Version:           LedgerDomainVersion,
			ChainID:           chainID,
			VerifyingContract: strings.ToLower(verifyingContract),
		},
		Types: map[string][]TypedField{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			receiptPrimaryType: receiptTypedFields,
		},
		PrimaryType: receiptPrimaryType,
		Message: ReceiptMessage{
			RequestID:    receipt.RequestID,
			PaymentProof: receipt.PaymentProof,
			Endpoint:     receipt.Endpoint,
			ResultHash:   receipt.ResultHash,
			Price:        receipt.Price,
			Asset:        receipt.Asset,
			Timestamp:    receipt.Timestamp,
		},
	}
}

// Digest computes the EIP-712 digest of the payload:
// keccak256("\x19\x01" || domainSeparator || structHash).
// This is the message both parties sign under dual attestation.
func (p SigningPayload) Digest() ([]byte, error) {
	requestID, err := hexToBytes32(p.Message.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid requestId: %w", err)
	}
	proofDigest, err := hexToBytes32(p.Message.PaymentProof)
	if err != nil {
		return nil, fmt.Errorf("invalid paymentProof: %w", err)
	}
	resultHash, err := hexToBytes32(p.Message.ResultHash)
	if err != nil {
		return nil, fmt.Errorf("invalid resultHash: %w", err)
	}
	price, ok := new(big.Int).SetString(p.Message.Price, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price: %s", p.Message.Price)
	}

	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: p.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              p.Domain.Name,
			Version:           p.Domain.Version,
			ChainId:           math.NewHexOrDecimal256(p.Domain.ChainID),
			VerifyingContract: p.Domain.VerifyingContract,
		},
		Message: map[string]interface{}{
			"requestId":    requestID,
			"paymentProof": proofDigest,
			"endpoint":     p.Message.Endpoint,
			"resultHash":   resultHash,
			"price":        price,
			"asset":        p.Message.Asset,
			"timestamp":    big.NewInt(p.Message.Timestamp),
		},
	}
	for name, fields := range p.Types {
		converted := make([]apitypes.Type, len(fields))
		for i, f := range fields {
			converted[i] = apitypes.Type{Name: f.Name, Type: f.Type}
		}
		typedData.Types[name] = converted
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
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

// SignPayload signs the payload digest with an ECDSA key, producing a 65-byte
// (r, s, v) signature with v in the Ethereum 27/28 convention. Both the payer
// and the provider can sign the same payload independently.
func SignPayload(payload SigningPayload, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := payload.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the address that produced sig over the payload.
// A verifier can check either party's attestation against the same payload.
func RecoverSigner(payload SigningPayload, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	digest, err := payload.Digest()
	if err != nil {
		return "", err
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// hexToBytes32 decodes a 0x-prefixed hex string into exactly 32 bytes.
func hexToBytes32(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// checksumAddress normalizes a hex address to its EIP-55 checksummed form.
func checksumAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
