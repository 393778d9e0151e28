// Package payout implements the Payout Batcher: eligibility checks,
// pending-request processing against the external value network, and
// contiguous batch grouping (spec.md §4.12).
package payout

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/store"
	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

const requestsCollection = "payout_requests"

// Status is a Payout Request's lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Request is the Payout Request entity.
type Request struct {
	RequestID        string
	NodeID           string
	Kind             string
	Amount           float64
	RecipientAddress string
	Status           Status
	CreatedAt        time.Time
	ProcessedAt      time.Time
	ExternalTxHash   string
	Error            string
}

// Eligibility is the result of CheckPayoutEligibility.
type Eligibility struct {
	Eligible bool
	Fee      float64
	Net      float64
	Reason   string
}

// Batch is an ordered, size/amount-capped group of contiguous pending
// requests submitted as a single external call.
type Batch struct {
	Requests    []Request
	TotalAmount float64
}

// Engine is the Payout Batcher.
type Engine struct {
	st          store.Adapter
	adapter     valuenet.Adapter
	minPayout   float64
	maxPayout   float64
	threshold   float64
	feePct      float64
	batchSize   int
	maxBatchAmt float64
}

// New constructs a Payout Batcher.
func New(st store.Adapter, adapter valuenet.Adapter, minPayout, maxPayout, threshold, feePct float64, batchSize int, maxBatchAmt float64) *Engine {
	return &Engine{
		st:          st,
		adapter:     adapter,
		minPayout:   minPayout,
		maxPayout:   maxPayout,
		threshold:   threshold,
		feePct:      feePct,
		batchSize:   batchSize,
		maxBatchAmt: maxBatchAmt,
	}
}

// CheckPayoutEligibility reports whether amount satisfies
// min ≤ amount ≤ max ∧ amount ≥ threshold, and computes fee/net.
func (e *Engine) CheckPayoutEligibility(amount float64) Eligibility {
	switch {
	case amount < e.minPayout:
		return Eligibility{Reason: "amount below minimum payout"}
	case amount > e.maxPayout:
		return Eligibility{Reason: "amount above maximum payout"}
	case amount < e.threshold:
		return Eligibility{Reason: "amount below payout threshold"}
	}
	fee := amount * e.feePct / 100
	return Eligibility{Eligible: true, Fee: fee, Net: amount - fee}
}

// CreatePayout validates eligibility and persists a pending request.
func (e *Engine) CreatePayout(ctx context.Context, nodeID, kind string, amount float64, recipientAddress string) (Request, error) {
	elig := e.CheckPayoutEligibility(amount)
	if !elig.Eligible {
		return Request{}, coreerr.Validation("payout ineligible: %s", elig.Reason)
	}
	r := Request{
		RequestID:        uuid.NewString(),
		NodeID:           nodeID,
		Kind:             kind,
		Amount:           amount,
		RecipientAddress: recipientAddress,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.saveRequest(ctx, r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// CancelPayout cancels a request; only allowed while pending.
func (e *Engine) CancelPayout(ctx context.Context, requestID string) error {
	r, err := e.getRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		return coreerr.Precondition("payout %s is not pending, cannot cancel", requestID)
	}
	r.Status = StatusCancelled
	return e.saveRequest(ctx, r)
}

// --- Single-request processing (spec.md §4.12) ---

// RunProcessPendingLoop processes pending requests one at a time on
// every tick.
func (e *Engine) RunProcessPendingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ProcessPending(ctx)
		}
	}
}

// ProcessPending moves every pending request to processing, submits
// it to the external value network, and records the outcome.
func (e *Engine) ProcessPending(ctx context.Context) {
	pending, err := e.pendingRequests(ctx)
	if err != nil {
		log.Printf("payout: scan pending requests: %v", err)
		return
	}
	for _, r := range pending {
		if err := e.processOne(ctx, r); err != nil {
			log.Printf("payout: process request %s: %v", r.RequestID, err)
		}
	}
}

func (e *Engine) processOne(ctx context.Context, r Request) error {
	r.Status = StatusProcessing
	if err := e.saveRequest(ctx, r); err != nil {
		return err
	}

	txHash, err := e.adapter.SendUSDT(ctx, r.RecipientAddress, r.Amount)
	r.ProcessedAt = time.Now().UTC()
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return e.saveRequest(ctx, r)
	}
	r.Status = StatusCompleted
	r.ExternalTxHash = txHash
	return e.saveRequest(ctx, r)
}

// --- Batch processing (spec.md §4.12) ---

// BuildBatches groups contiguous pending requests (ordered by
// CreatedAt) so each batch's size ≤ batchSize and total amount ≤
// maxBatchAmt.
func (e *Engine) BuildBatches(ctx context.Context) ([]Batch, error) {
	pending, err := e.pendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	var batches []Batch
	var cur Batch
	for _, r := range pending {
		wouldExceedSize := len(cur.Requests)+1 > e.batchSize
		wouldExceedAmount := cur.TotalAmount+r.Amount > e.maxBatchAmt
		if len(cur.Requests) > 0 && (wouldExceedSize || wouldExceedAmount) {
			batches = append(batches, cur)
			cur = Batch{}
		}
		cur.Requests = append(cur.Requests, r)
		cur.TotalAmount += r.Amount
	}
	if len(cur.Requests) > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}

// ProcessBatches builds and submits every eligible batch. Each request
// in a batch is sent with its own SendUSDT call (the adapter has no
// batch call); a request whose call fails is marked failed and is not
// auto-retried, while the batch's other requests still go out.
func (e *Engine) ProcessBatches(ctx context.Context) error {
	batches, err := e.BuildBatches(ctx)
	if err != nil {
		return err
	}
	for _, b := range batches {
		e.processBatch(ctx, b)
	}
	return nil
}

func (e *Engine) processBatch(ctx context.Context, b Batch) {
	for _, r := range b.Requests {
		r.Status = StatusProcessing
		if err := e.saveRequest(ctx, r); err != nil {
			log.Printf("payout: mark batch request %s processing: %v", r.RequestID, err)
		}
	}

	var failed bool
	for _, r := range b.Requests {
		txHash, err := e.adapter.SendUSDT(ctx, r.RecipientAddress, r.Amount)
		r.ProcessedAt = time.Now().UTC()
		if err != nil {
			failed = true
			r.Status = StatusFailed
			r.Error = err.Error()
		} else {
			r.Status = StatusCompleted
			r.ExternalTxHash = txHash
		}
		if saveErr := e.saveRequest(ctx, r); saveErr != nil {
			log.Printf("payout: save batch request %s outcome: %v", r.RequestID, saveErr)
		}
	}
	if failed {
		log.Printf("payout: batch of %d requests completed with at least one failure", len(b.Requests))
	}
}

// --- store helpers ---

func (e *Engine) getRequest(ctx context.Context, requestID string) (Request, error) {
	doc, ok, err := e.st.FindOne(ctx, requestsCollection, store.Eq("request_id", requestID))
	if err != nil {
		return Request{}, coreerr.Transient(err, "load payout request %s", requestID)
	}
	if !ok {
		return Request{}, coreerr.Validation("unknown payout request %s", requestID)
	}
	return requestFromDoc(doc), nil
}

func (e *Engine) saveRequest(ctx context.Context, r Request) error {
	return e.st.Upsert(ctx, requestsCollection, r.RequestID, docFromRequest(r))
}

func (e *Engine) pendingRequests(ctx context.Context) ([]Request, error) {
	it, err := e.st.Find(ctx, requestsCollection, store.Eq("status", string(StatusPending)), nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan pending payout requests")
	}
	defer it.Close()

	var out []Request
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate pending payout requests")
		}
		if !ok {
			break
		}
		out = append(out, requestFromDoc(doc))
	}
	return out, nil
}

func docFromRequest(r Request) store.Doc {
	return store.Doc{
		"request_id":        r.RequestID,
		"node_id":           r.NodeID,
		"kind":              r.Kind,
		"amount":            r.Amount,
		"recipient_address": r.RecipientAddress,
		"status":            string(r.Status),
		"created_at":        r.CreatedAt.Format(time.RFC3339Nano),
		"processed_at":      formatOptTime(r.ProcessedAt),
		"external_tx_hash":  r.ExternalTxHash,
		"error":             r.Error,
	}
}

func requestFromDoc(d store.Doc) Request {
	return Request{
		RequestID:        strOf(d["request_id"]),
		NodeID:           strOf(d["node_id"]),
		Kind:             strOf(d["kind"]),
		Amount:           floatOf(d["amount"]),
		RecipientAddress: strOf(d["recipient_address"]),
		Status:           Status(strOf(d["status"])),
		CreatedAt:        parseOptTime(d["created_at"]),
		ProcessedAt:      parseOptTime(d["processed_at"]),
		ExternalTxHash:   strOf(d["external_tx_hash"]),
		Error:            strOf(d["error"]),
	}
}

func strOf(v interface{}) string { s, _ := v.(string); return s }
func floatOf(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
func formatOptTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
func parseOptTime(v interface{}) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
