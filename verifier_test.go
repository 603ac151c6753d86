package receiptgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacilitatorVerifier_Accepts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/verify", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			PaymentProof *PaymentProof `json:"paymentProof"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.PaymentProof)
		assert.Equal(t, testProof().Payer, req.PaymentProof.Payer)

		json.NewEncoder(w).Encode(facilitatorVerifyResponse{IsValid: true})
	}))
	defer srv.Close()

	// Trailing slash on the base URL must not break the verify path.
	verifier := NewFacilitatorVerifier(srv.URL+"/", nil)
	assert.NoError(t, verifier.Verify(context.Background(), testProof()))
}

func TestFacilitatorVerifier_RejectsWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(facilitatorVerifyResponse{
			IsValid:       false,
			InvalidReason: "unknown transfer",
		})
	}))
	defer srv.Close()

	err := NewFacilitatorVerifier(srv.URL, nil).Verify(context.Background(), testProof())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transfer")
}

func TestFacilitatorVerifier_RejectsWithoutReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(facilitatorVerifyResponse{IsValid: false})
	}))
	defer srv.Close()

	err := NewFacilitatorVerifier(srv.URL, nil).Verify(context.Background(), testProof())
	assert.Error(t, err)
}

func TestFacilitatorVerifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "facilitator down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewFacilitatorVerifier(srv.URL, nil).Verify(context.Background(), testProof())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFacilitatorVerifier_DeadlineExpiry(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewFacilitatorVerifier(srv.URL, nil).Verify(ctx, testProof())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
