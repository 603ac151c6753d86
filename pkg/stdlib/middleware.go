package stdlib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	receiptgate "github.com/irsb-protocol/receiptgate"
)

// PaymentHeader carries the base64-encoded JSON payment proof.
const PaymentHeader = "X-PAYMENT"

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	// Endpoint overrides the endpoint identifier the receipt commits to.
	// Defaults to the request path.
	Endpoint string
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithEndpoint is an option for the PaymentMiddleware to pin the endpoint identifier.
func WithEndpoint(endpoint string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Endpoint = endpoint
	}
}

// PaymentMiddleware wraps a net/http handler behind the payment gate and
// rewrites its output into the receipt envelope. See the gin adapter for the
// framework-flavored variant; the flow is identical.
func PaymentMiddleware(svc *receiptgate.Service, next http.Handler, opts ...Options) http.Handler {
	options := &PaymentMiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := options.Endpoint
		if endpoint == "" {
			endpoint = r.URL.Path
		}

		header := r.Header.Get(PaymentHeader)
		if header == "" {
			writeRejection(w, svc, receiptgate.NewProtocolError(
				receiptgate.KindPaymentRequired,
				PaymentHeader+" header is required",
				map[string]interface{}{"reason": receiptgate.ReasonProofMissing},
			))
			return
		}
		proof, err := receiptgate.DecodeProofFromBase64(header)
		if err != nil {
			writeRejection(w, svc, receiptgate.NewProtocolError(
				receiptgate.KindPaymentRequired,
				"invalid payment proof: "+err.Error(),
				map[string]interface{}{"reason": receiptgate.ReasonProofInvalid},
			))
			return
		}

		resp, perr := svc.Process(r.Context(), endpoint, proof, func(ctx context.Context) ([]byte, error) {
			capture := &captureWriter{header: make(http.Header), statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.statusCode >= http.StatusBadRequest {
				return nil, fmt.Errorf("handler returned status %d", capture.statusCode)
			}
			return capture.body.Bytes(), nil
		})
		if perr != nil {
			writeRejection(w, svc, perr)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})
}

// PricingHandler serves the unauthenticated pricing query.
func PricingHandler(svc *receiptgate.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(svc.Pricing())
	})
}

func writeRejection(w http.ResponseWriter, svc *receiptgate.Service, perr *receiptgate.ProtocolError) {
	status := http.StatusInternalServerError
	switch perr.Kind {
	case receiptgate.KindPaymentRequired:
		status = http.StatusPaymentRequired
	case receiptgate.KindBadInput:
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if perr.Kind == receiptgate.KindPaymentRequired {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"kind":    perr.Kind,
			"message": perr.Message,
			"accepts": svc.Pricing().Accepts,
		})
		return
	}
	json.NewEncoder(w).Encode(receiptgate.FormatError(perr))
}

// captureWriter buffers the wrapped handler's response.
type captureWriter struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (c *captureWriter) Header() http.Header {
	return c.header
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.written {
		c.statusCode = code
		c.written = true
	}
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.written {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}
