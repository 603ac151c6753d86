package receiptgate

import (
	"context"
	"time"
)

// ProofVerifier establishes the cryptographic validity of a payment proof.
// Implementations may check a signature locally or look the transfer up
// against an external payment source; either way the call must respect the
// context deadline the gate imposes.
type ProofVerifier interface {
	Verify(ctx context.Context, proof *PaymentProof) error
}

// Gate validates an inbound payment proof against the configured price before
// the protected operation runs. It attaches no state and consumes nothing;
// settlement of the payment itself is an external concern.
type Gate struct {
	price    PriceConfig
	verifier ProofVerifier
	timeout  time.Duration
	now      func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithVerifyTimeout bounds the external verification call.
func WithVerifyTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithClock overrides the gate's clock. Used in tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a payment gate for the given price config and verifier.
func NewGate(price PriceConfig, verifier ProofVerifier, opts ...GateOption) *Gate {
	g := &Gate{
		price:    price,
		verifier: verifier,
		timeout:  DefaultVerifyTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates the proof and returns nil if the request may proceed.
// Every rejection is a payment_required protocol error with a reason code;
// the declared amount, asset and chain must equal the configured values
// exactly, since the receipt will commit to the configured price.
func (g *Gate) Check(ctx context.Context, proof *PaymentProof) *ProtocolError {
	if proof == nil {
		return paymentRequired(ReasonProofMissing, "payment proof is required")
	}
	if proof.Amount != g.price.Price {
		return paymentRequired(ReasonAmountMismatch, "payment amount does not match the configured price")
	}
	if proof.Asset != g.price.Asset {
		return paymentRequired(ReasonAssetMismatch, "payment asset does not match the configured asset")
	}
	if proof.ChainID != g.price.ChainID {
		return paymentRequired(ReasonChainMismatch, "payment chain does not match the configured chain")
	}
	if proof.ExpiredAt(g.now()) {
		return paymentRequired(ReasonProofExpired, "payment proof is outside its validity window")
	}

	if g.verifier != nil {
		verifyCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		if err := g.verifier.Verify(verifyCtx, proof); err != nil {
			return paymentRequired(ReasonProofInvalid, "payment proof verification failed: "+err.Error())
		}
	}
	return nil
}
