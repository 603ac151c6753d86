package gin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"

	receiptgate "github.com/irsb-protocol/receiptgate"
)

// PaymentHeader carries the base64-encoded JSON payment proof.
const PaymentHeader = "X-PAYMENT"

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	// Endpoint overrides the endpoint identifier the receipt commits to.
	// Defaults to the request path.
	Endpoint string
	// RequestSchema is an optional JSON Schema the request body must satisfy.
	RequestSchema string
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithEndpoint is an option for the PaymentMiddleware to pin the endpoint identifier.
func WithEndpoint(endpoint string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Endpoint = endpoint
	}
}

// WithRequestSchema is an option for the PaymentMiddleware to validate the
// request body against a JSON Schema before the payment gate runs.
func WithRequestSchema(schema string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.RequestSchema = schema
	}
}

// PaymentMiddleware is the Gin middleware that gates a handler behind a
// per-request micropayment and rewrites its output into the receipt envelope.
// The downstream handler produces the raw result; the middleware verifies the
// proof first, then derives the receipt and signing payload from the captured
// result and, when enabled server-side, posts the receipt on-chain.
func PaymentMiddleware(svc *receiptgate.Service, opts ...Options) gin.HandlerFunc {
	options := &PaymentMiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var schema *gojsonschema.Schema
	if options.RequestSchema != "" {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(options.RequestSchema))
		if err != nil {
			panic(fmt.Sprintf("receiptgate: invalid request schema: %v", err))
		}
		schema = compiled
	}

	return func(c *gin.Context) {
		endpoint := options.Endpoint
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		proof, perr := decodeProofHeader(c)
		if perr != nil {
			abortWithProtocolError(c, svc, perr)
			return
		}

		if schema != nil {
			if perr := validateBody(c, schema); perr != nil {
				abortWithProtocolError(c, svc, perr)
				return
			}
		}

		// Capture the handler's output; it becomes the receipt's result.
		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &strings.Builder{},
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		resp, perr := svc.Process(c.Request.Context(), endpoint, proof, func(ctx context.Context) ([]byte, error) {
			c.Next()
			if writer.statusCode >= http.StatusBadRequest {
				return nil, fmt.Errorf("handler returned status %d", writer.statusCode)
			}
			return []byte(writer.body.String()), nil
		})

		c.Writer = writer.ResponseWriter
		if perr != nil {
			abortWithProtocolError(c, svc, perr)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// PricingHandler serves the unauthenticated pricing query.
func PricingHandler(svc *receiptgate.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Pricing())
	}
}

// decodeProofHeader extracts and decodes the payment proof, distinguishing a
// missing header from a malformed one only in the message; both reject with
// payment required.
func decodeProofHeader(c *gin.Context) (*receiptgate.PaymentProof, *receiptgate.ProtocolError) {
	header := c.GetHeader(PaymentHeader)
	if header == "" {
		return nil, receiptgate.NewProtocolError(
			receiptgate.KindPaymentRequired,
			PaymentHeader+" header is required",
			map[string]interface{}{"reason": receiptgate.ReasonProofMissing},
		)
	}
	proof, err := receiptgate.DecodeProofFromBase64(header)
	if err != nil {
		return nil, receiptgate.NewProtocolError(
			receiptgate.KindPaymentRequired,
			"invalid payment proof: "+err.Error(),
			map[string]interface{}{"reason": receiptgate.ReasonProofInvalid},
		)
	}
	return proof, nil
}

// validateBody checks the request body against the configured schema and
// restores it for the downstream handler.
func validateBody(c *gin.Context, schema *gojsonschema.Schema) *receiptgate.ProtocolError {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return receiptgate.NewProtocolError(receiptgate.KindBadInput, "failed to read request body", nil)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return receiptgate.NewProtocolError(receiptgate.KindBadInput, "request body is not valid JSON", nil)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return receiptgate.NewProtocolError(receiptgate.KindBadInput, strings.Join(msgs, "; "), nil)
	}
	return nil
}

func abortWithProtocolError(c *gin.Context, svc *receiptgate.Service, perr *receiptgate.ProtocolError) {
	status := http.StatusInternalServerError
	switch perr.Kind {
	case receiptgate.KindPaymentRequired:
		status = http.StatusPaymentRequired
	case receiptgate.KindBadInput:
		status = http.StatusBadRequest
	}

	if perr.Kind == receiptgate.KindPaymentRequired {
		// Payment rejections advertise the accepted payment methods.
		c.AbortWithStatusJSON(status, gin.H{
			"success": false,
			"kind":    perr.Kind,
			"message": perr.Message,
			"accepts": svc.Pricing().Accepts,
		})
		return
	}
	c.AbortWithStatusJSON(status, receiptgate.FormatError(perr))
}

// responseWriter captures the downstream handler's response so the middleware
// can commit to it in the receipt before anything reaches the client.
type responseWriter struct {
	gin.ResponseWriter
	body       *strings.Builder
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return len(b), nil
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}
