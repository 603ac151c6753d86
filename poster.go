package receiptgate

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReceiptLedger is the on-chain call contract for receipt recording. The core
// treats it as an opaque external dependency: a single submission entry point
// plus a confirmation lookup, which is also the authoritative dedup boundary.
type ReceiptLedger interface {
	// SubmitReceipt records the receipt on the ledger, optionally with an
	// attestation signature, and returns the confirmed result.
	SubmitReceipt(ctx context.Context, receipt *Receipt, attestation []byte) (*PostResult, error)
	// GetConfirmation returns the existing post result for a requestId, or
	// (nil, nil) when the receipt has not been recorded.
	GetConfirmation(ctx context.Context, requestID string) (*PostResult, error)
}

// Poster submits receipts to the ledger idempotently. A receipt whose
// requestId is already confirmed on-chain is a no-op success, and concurrent
// duplicate submissions collapse onto a single in-flight transaction.
// Posting is best-effort: the caller downgrades a posting error to an absent
// PostResult rather than failing the paid response.
type Poster struct {
	ledger      ReceiptLedger
	submissions *postLog
	timeout     time.Duration
	logger      *log.Logger
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithPostTimeout bounds each posting attempt.
func WithPostTimeout(d time.Duration) PosterOption {
	return func(p *Poster) { p.timeout = d }
}

// WithPostTTL sets how long confirmed results are remembered locally.
func WithPostTTL(ttl time.Duration) PosterOption {
	return func(p *Poster) { p.submissions = newPostLog(ttl) }
}

// WithPosterLogger sets the logger for posting failures.
func WithPosterLogger(logger *log.Logger) PosterOption {
	return func(p *Poster) { p.logger = logger }
}

// NewPoster creates an idempotent poster over the given ledger.
func NewPoster(ledger ReceiptLedger, opts ...PosterOption) *Poster {
	p := &Poster{
		ledger:      ledger,
		submissions: newPostLog(10 * time.Minute),
		timeout:     DefaultPostTimeout,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post records the receipt on the ledger and returns the result. The
// submission log collapses concurrent duplicates onto one attempt; inside the
// attempt, the ledger is consulted first since its confirmation lookup is the
// authoritative dedup boundary across processes and restarts. An
// already-confirmed receipt must not be resubmitted.
func (p *Poster) Post(ctx context.Context, receipt *Receipt, attestation []byte) (*PostResult, error) {
	return p.submissions.Do(ctx, receipt.RequestID, func(ctx context.Context) (*PostResult, error) {
		postCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		if existing, err := p.ledger.GetConfirmation(postCtx, receipt.RequestID); err == nil && existing != nil {
			return existing, nil
		}

		result, err := p.ledger.SubmitReceipt(postCtx, receipt, attestation)
		if err != nil {
			p.logger.Printf("receiptgate: posting receipt %s failed: %v", receipt.RequestID, err)
			return nil, err
		}
		return result, nil
	})
}

// irsbLedgerABI is the call contract of the IRSB receipt ledger.
const irsbLedgerABI = `[
	{
		"name": "postReceipt",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "requestId", "type": "bytes32"},
			{"name": "paymentProof", "type": "bytes32"},
			{"name": "endpoint", "type": "string"},
			{"name": "resultHash", "type": "bytes32"},
			{"name": "price", "type": "uint256"},
			{"name": "asset", "type": "string"},
			{"name": "timestamp", "type": "uint256"},
			{"name": "attestation", "type": "bytes"}
		],
		"outputs": [{"name": "receiptId", "type": "uint256"}]
	},
	{
		"name": "getReceipt",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "requestId", "type": "bytes32"}],
		"outputs": [
			{"name": "receiptId", "type": "uint256"},
			{"name": "blockNumber", "type": "uint256"},
			{"name": "exists", "type": "bool"}
		]
	}
]`

// EvmLedger posts receipts to the IRSB contract over JSON-RPC.
type EvmLedger struct {
	client       *ethclient.Client
	contract     *bind.BoundContract
	contractAddr common.Address
	opts         *bind.TransactOpts
	explorerBase string
}

// NewEvmLedger dials the RPC endpoint and binds the ledger contract.
// signingKey is the hex-encoded private key used for posting transactions.
func NewEvmLedger(rpcURL, contractAddr, signingKey, explorerBase string, chainID int64) (*EvmLedger, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(signingKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(irsbLedgerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger abi: %w", err)
	}

	addr := common.HexToAddress(contractAddr)
	return &EvmLedger{
		client:       client,
		contract:     bind.NewBoundContract(addr, parsed, client, client, client),
		contractAddr: addr,
		opts:         txOpts,
		explorerBase: strings.TrimSuffix(explorerBase, "/"),
	}, nil
}

// SubmitReceipt sends the postReceipt transaction and waits for it to mine.
func (l *EvmLedger) SubmitReceipt(ctx context.Context, receipt *Receipt, attestation []byte) (*PostResult, error) {
	requestID, err := hexToBytes32(receipt.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid requestId: %w", err)
	}
	proofDigest, err := hexToBytes32(receipt.PaymentProof)
	if err != nil {
		return nil, fmt.Errorf("invalid proof digest: %w", err)
	}
	resultHash, err := hexToBytes32(receipt.ResultHash)
	if err != nil {
		return nil, fmt.Errorf("invalid result hash: %w", err)
	}
	price, ok := new(big.Int).SetString(receipt.Price, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price: %s", receipt.Price)
	}
	if attestation == nil {
		attestation = []byte{}
	}

	opts := *l.opts
	opts.Context = ctx

	tx, err := l.contract.Transact(&opts, "postReceipt",
		toBytes32(requestID), toBytes32(proofDigest), receipt.Endpoint,
		toBytes32(resultHash), price, receipt.Asset,
		big.NewInt(receipt.Timestamp), attestation)
	if err != nil {
		return nil, fmt.Errorf("postReceipt transaction failed: %w", err)
	}

	mined, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return nil, fmt.Errorf("postReceipt confirmation failed: %w", err)
	}

	// The ledger-assigned receiptId is read back from contract state.
	result, err := l.GetConfirmation(ctx, receipt.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back posted receipt: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("receipt %s not found after posting", receipt.RequestID)
	}
	result.TxHash = tx.Hash().Hex()
	result.BlockNumber = mined.BlockNumber.Uint64()
	result.ExplorerURL = l.explorerURL(result.TxHash)
	return result, nil
}

// GetConfirmation looks the requestId up in contract state.
func (l *EvmLedger) GetConfirmation(ctx context.Context, requestID string) (*PostResult, error) {
	id, err := hexToBytes32(requestID)
	if err != nil {
		return nil, fmt.Errorf("invalid requestId: %w", err)
	}

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := l.contract.Call(callOpts, &out, "getReceipt", toBytes32(id)); err != nil {
		return nil, fmt.Errorf("getReceipt call failed: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("unexpected getReceipt output arity: %d", len(out))
	}

	exists, _ := out[2].(bool)
	if !exists {
		return nil, nil
	}
	receiptID, _ := out[0].(*big.Int)
	blockNumber, _ := out[1].(*big.Int)
	if receiptID == nil || blockNumber == nil {
		return nil, fmt.Errorf("malformed getReceipt output")
	}

	return &PostResult{
		ReceiptID:   receiptID.String(),
		BlockNumber: blockNumber.Uint64(),
	}, nil
}

func (l *EvmLedger) explorerURL(txHash string) string {
	if l.explorerBase == "" {
		return ""
	}
	return l.explorerBase + "/tx/" + txHash
}

func toBytes32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
