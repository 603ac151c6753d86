package receiptgate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentProof is the evidence that a payer submitted the required transfer
// for a protected request. Its cryptographic validity is established by a
// ProofVerifier; the gate additionally enforces that the declared amount,
// asset and chain match the configured price exactly.
type PaymentProof struct {
	// Payer is the address that made (or authorized) the payment, hex-encoded.
	Payer string `json:"payer"`
	// Amount is the transferred amount in the asset's smallest unit, as a
	// decimal string (e.g. "1000000000000000" for 0.001 ETH).
	Amount string `json:"amount"`
	// Asset identifies what was paid (e.g. "ETH" or a token contract address).
	Asset string `json:"asset"`
	// ChainID is the chain the payment was made on.
	ChainID int64 `json:"chainId"`
	// Nonce is a 32-byte hex value bounding the proof to a single request.
	Nonce string `json:"nonce"`
	// ValidAfter and ValidBefore bound the proof's validity window (unix seconds).
	ValidAfter  int64 `json:"validAfter"`
	ValidBefore int64 `json:"validBefore"`
	// Signature is the payer's transfer authorization signature (hex), if the
	// proof is signature-based.
	Signature string `json:"signature,omitempty"`
	// TransferRef is a reference to an already-settled transfer (e.g. a tx
	// hash), if the proof is reference-based.
	TransferRef string `json:"transferRef,omitempty"`
}

// ExpiredAt reports whether the proof's validity window excludes t.
func (p *PaymentProof) ExpiredAt(t time.Time) bool {
	unix := t.Unix()
	if p.ValidBefore != 0 && unix >= p.ValidBefore {
		return true
	}
	if p.ValidAfter != 0 && unix < p.ValidAfter {
		return true
	}
	return false
}

// NewProofNonce generates a fresh 32-byte nonce for a payment proof.
// Two UUIDs are concatenated to fill the full 32 bytes.
func NewProofNonce() string {
	a := strings.ReplaceAll(uuid.New().String(), "-", "")
	b := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "0x" + a + b
}

// DecodeProofFromBase64 decodes a base64-encoded JSON payment proof, as
// carried in the X-PAYMENT request header.
func DecodeProofFromBase64(encoded string) (*PaymentProof, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty payment proof")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payment proof: %w", err)
	}
	var proof PaymentProof
	if err := json.Unmarshal(data, &proof); err != nil {
		return nil, fmt.Errorf("invalid payment proof JSON: %w", err)
	}
	return &proof, nil
}

// EncodeProofToBase64 encodes a payment proof for the X-PAYMENT header.
func EncodeProofToBase64(proof *PaymentProof) (string, error) {
	data, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Receipt is the canonical record of a fulfilled paid request. It commits to
// the payment, the endpoint and the produced result. Receipts are immutable
// once built and their RequestID is a pure function of the committed fields,
// so re-deriving a receipt for the same inputs yields the same identifier.
type Receipt struct {
	RequestID    string `json:"requestId"`
	Endpoint     string `json:"endpoint"`
	PaymentProof string `json:"paymentProof"` // digest of the proof, 0x-hex
	ResultHash   string `json:"resultHash"`   // digest of the result payload, 0x-hex
	Price        string `json:"price"`        // smallest unit, decimal string
	Asset        string `json:"asset"`
	Timestamp    int64  `json:"timestamp"` // unix seconds
}

// SigningPayload is the EIP-712 typed-data message derived from a Receipt.
// Either party (payer or provider) can derive it independently from the same
// Receipt and obtain byte-identical bytes, sign it, and have the counterparty
// verify the signature against the same canonical digest.
type SigningPayload struct {
	Domain      TypedDomain             `json:"domain"`
	Types       map[string][]TypedField `json:"types"`
	PrimaryType string                  `json:"primaryType"`
	Message     ReceiptMessage          `json:"message"`
}

// TypedDomain is the EIP-712 domain separator for the receipt ledger.
type TypedDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TypedField is a single field of an EIP-712 type definition.
type TypedField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ReceiptMessage mirrors the Receipt's committed fields in the pinned order
// of the ledger contract's Receipt type.
type ReceiptMessage struct {
	RequestID    string `json:"requestId"`
	PaymentProof string `json:"paymentProof"`
	Endpoint     string `json:"endpoint"`
	ResultHash   string `json:"resultHash"`
	Price        string `json:"price"`
	Asset        string `json:"asset"`
	Timestamp    int64  `json:"timestamp"`
}

// PostResult is the outcome of recording a Receipt on the external ledger.
// Absent when posting is disabled or failed; callers must treat it as optional.
type PostResult struct {
	ReceiptID   string `json:"receiptId"` // ledger-assigned identifier
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// Instructions tells the caller what remains to be done with the receipt.
// Exactly one of the two shapes is populated: a server-posted notice, or
// client attestation and posting guidance.
type Instructions struct {
	// Status is set when the server already posted the receipt on-chain.
	Status string `json:"status,omitempty"`
	// ClientAttestation explains how the client should sign the payload.
	ClientAttestation string `json:"clientAttestation,omitempty"`
	// PostingContract is the ledger contract the client should submit to.
	PostingContract string `json:"postingContract,omitempty"`
	// ChainID is the chain the posting contract lives on.
	ChainID int64 `json:"chainId,omitempty"`
}

// SuccessResponse is the externally visible shape of a fulfilled paid request.
type SuccessResponse struct {
	Success        bool            `json:"success"`
	Result         json.RawMessage `json:"result"`
	RequestID      string          `json:"requestId"`
	Receipt        Receipt         `json:"receipt"`
	SigningPayload SigningPayload  `json:"signingPayload"`
	Posted         *PostResult     `json:"posted,omitempty"`
	Instructions   Instructions    `json:"instructions"`
}

// PricingInfo is the unauthenticated pricing advertisement for the protected
// endpoint. Purely informational, no side effects.
type PricingInfo struct {
	Amount  string          `json:"amount"`
	Asset   string          `json:"asset"`
	ChainID int64           `json:"chainId"`
	Accepts []AcceptedProof `json:"accepts"`
}

// AcceptedProof describes one accepted payment method.
type AcceptedProof struct {
	Scheme  string `json:"scheme"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	ChainID int64  `json:"chainId"`
}
