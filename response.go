package receiptgate

import "encoding/json"

// Instruction texts for the two posting modes.
const (
	serverPostedStatus = "receipt posted on-chain by the server; no client action required"

	clientAttestationGuidance = "sign signingPayload with your wallet (EIP-712) and submit the receipt " +
		"with your attestation to the posting contract's postReceipt entry point"
)

// FormatResponse assembles the externally visible response for a fulfilled
// paid request. When the receipt was posted server-side the response says so
// and carries no client posting guidance, avoiding duplicate submissions.
// Otherwise the client receives exactly what it needs to self-post: the
// signing payload and the posting target.
func FormatResponse(result []byte, receipt *Receipt, payload SigningPayload, posted *PostResult, cfg Config) *SuccessResponse {
	resp := &SuccessResponse{
		Success:        true,
		Result:         json.RawMessage(result),
		RequestID:      receipt.RequestID,
		Receipt:        *receipt,
		SigningPayload: payload,
	}

	if posted != nil {
		resp.Posted = posted
		resp.Instructions = Instructions{Status: serverPostedStatus}
		return resp
	}

	resp.Instructions = Instructions{
		ClientAttestation: clientAttestationGuidance,
		PostingContract:   cfg.ContractAddress,
		ChainID:           cfg.Price.ChainID,
	}
	return resp
}
