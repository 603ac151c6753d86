package receiptgate

import (
	"context"
	"crypto/ecdsa"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Operation is the protected computation that produces the paid-for result.
// It runs only after the payment gate has admitted the request, and its raw
// output bytes are what the receipt commits to.
type Operation func(ctx context.Context) ([]byte, error)

// Service orchestrates the full issuance flow: gate, protected operation,
// receipt derivation, signing payload, optional on-chain posting, and
// response shaping. The ordering is strict: the receipt is never built before
// the operation completes, and the response is never shaped before both the
// receipt and (if attempted) the posting have resolved.
type Service struct {
	cfg      Config
	gate     *Gate
	ledger   ReceiptLedger
	poster   *Poster
	signKey  *ecdsa.PrivateKey
	logger   *log.Logger
	verifier ProofVerifier
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithVerifier sets the proof verifier used by the payment gate.
func WithVerifier(v ProofVerifier) ServiceOption {
	return func(s *Service) { s.verifier = v }
}

// WithLedger injects a receipt ledger, replacing the default EVM ledger.
// Mostly used to point the poster at a test double.
func WithLedger(ledger ReceiptLedger) ServiceOption {
	return func(s *Service) { s.ledger = ledger }
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService validates the config and wires the issuance pipeline. When
// posting is enabled and no ledger is injected, an EVM ledger is dialed from
// the config.
func NewService(cfg Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.gate = NewGate(cfg.Price, s.verifier, WithVerifyTimeout(cfg.GetVerifyTimeout()))

	if cfg.SigningKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SigningKey, "0x"))
		if err != nil {
			return nil, err
		}
		s.signKey = key
	}

	// The poster is built only after all options are applied, so the injected
	// ledger and logger combine regardless of option order. In client-posts
	// mode no poster exists at all.
	if cfg.PostingEnabled {
		if s.ledger == nil {
			ledger, err := NewEvmLedger(cfg.RPCURL, cfg.ContractAddress, cfg.SigningKey, cfg.ExplorerBaseURL, cfg.Price.ChainID)
			if err != nil {
				return nil, err
			}
			s.ledger = ledger
		}
		s.poster = NewPoster(s.ledger, WithPostTimeout(cfg.GetPostTimeout()), WithPosterLogger(s.logger))
	}

	return s, nil
}

// Config returns the immutable service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Pricing returns the unauthenticated pricing advertisement.
func (s *Service) Pricing() PricingInfo {
	return s.cfg.Price.Pricing()
}

// Process runs one paid request end to end. Terminal failures (payment
// rejection, bad operation) return a ProtocolError and no receipt. A posting
// failure after a valid receipt exists is swallowed here: the response stays
// successful, omits the posted field, and falls back to client-posting
// instructions.
func (s *Service) Process(ctx context.Context, endpoint string, proof *PaymentProof, op Operation) (*SuccessResponse, *ProtocolError) {
	if perr := s.gate.Check(ctx, proof); perr != nil {
		return nil, perr
	}

	result, err := op(ctx)
	if err != nil {
		return nil, NewProtocolError(KindOperationFailed, "operation failed: "+err.Error(), nil)
	}

	receipt, err := BuildReceipt(proof, endpoint, result, s.cfg.Price)
	if err != nil {
		return nil, NewProtocolError(KindOperationFailed, "failed to build receipt: "+err.Error(), nil)
	}

	payload := BuildSigningPayload(receipt, s.cfg.Price.ChainID, s.cfg.ContractAddress)

	var posted *PostResult
	if s.poster != nil {
		posted = s.post(ctx, receipt, payload)
	}

	return FormatResponse(result, receipt, payload, posted, s.cfg), nil
}

// post attempts server-side posting. The receipt is authoritative once built,
// so posting runs detached from the request's cancellation: a client
// disconnect must not abort an in-flight ledger transaction.
func (s *Service) post(ctx context.Context, receipt *Receipt, payload SigningPayload) *PostResult {
	var attestation []byte
	if s.signKey != nil {
		sig, err := SignPayload(payload, s.signKey)
		if err != nil {
			s.logger.Printf("receiptgate: provider attestation failed for %s: %v", receipt.RequestID, err)
		} else {
			attestation = sig
		}
	}

	result, err := s.poster.Post(context.WithoutCancel(ctx), receipt, attestation)
	if err != nil {
		// Best-effort by policy: payment was validated and the result
		// produced, so the response proceeds without a post result.
		s.logger.Printf("receiptgate: on-chain posting failed for %s, falling back to client posting: %v", receipt.RequestID, err)
		return nil
	}
	return result
}
