package receiptgate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical encoding version tags. Bumping one of these changes every derived
// identifier, so they are part of the pinned wire contract.
const (
	proofEncodingV1   = "irsb-proof-v1"
	receiptEncodingV1 = "irsb-receipt-v1"
)

// ProofDigest computes the canonical keccak256 digest of a payment proof.
// The encoding is a fixed, order-stable pipe-delimited string so the digest
// is identical across process restarts and across client/server re-derivation.
// The signature is deliberately excluded: the digest identifies the payment,
// and signature malleability must not change the derived receipt.
func ProofDigest(proof *PaymentProof) string {
	canonical := strings.Join([]string{
		proofEncodingV1,
		strings.ToLower(proof.Payer),
		proof.Amount,
		proof.Asset,
		strconv.FormatInt(proof.ChainID, 10),
		strings.ToLower(proof.Nonce),
		strconv.FormatInt(proof.ValidAfter, 10),
		strconv.FormatInt(proof.ValidBefore, 10),
	}, "|")
	return hexDigest([]byte(canonical))
}

// ResultDigest computes the keccak256 digest of the raw result payload.
// The receipt commits to this digest rather than the full result, keeping the
// receipt small regardless of result size.
func ResultDigest(result []byte) string {
	return hexDigest(result)
}

// BuildReceipt deterministically derives the canonical Receipt for a
// fulfilled paid request. It is a pure function of its inputs plus the
// immutable price config: the same {proof, endpoint, result, price, asset}
// always yields the same RequestID and the same receipt bytes, which is what
// lets callers collapse duplicate submissions after a client retry.
//
// The receipt timestamp is the proof's validAfter bound rather than wall
// clock time, so retries reproduce the receipt exactly.
func BuildReceipt(proof *PaymentProof, endpoint string, result []byte, price PriceConfig) (*Receipt, error) {
	if proof == nil {
		return nil, fmt.Errorf("payment proof is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	proofDigest := ProofDigest(proof)
	resultHash := ResultDigest(result)

	canonical := strings.Join([]string{
		receiptEncodingV1,
		proofDigest,
		endpoint,
		resultHash,
		price.Price,
		price.Asset,
	}, "|")

	return &Receipt{
		RequestID:    hexDigest([]byte(canonical)),
		Endpoint:     endpoint,
		PaymentProof: proofDigest,
		ResultHash:   resultHash,
		Price:        price.Price,
		Asset:        price.Asset,
		Timestamp:    proof.ValidAfter,
	}, nil
}

// hexDigest returns the 0x-prefixed keccak256 of data.
func hexDigest(data []byte) string {
	return fmt.Sprintf("0x%x", crypto.Keccak256(data))
}
