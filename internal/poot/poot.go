// Package poot implements the PoOT Validator: ownership-challenge
// issuance, proof verification, stake checks, rate limiting, and fraud
// scoring (spec.md §4.4).
package poot

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/sigverify"
	"github.com/HamiGames/Lucid-sub000/internal/store"
	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

const (
	challengesCollection = "poot_challenges"
	proofsCollection     = "poot_proofs"
	fraudCollection      = "fraud_events"
	statsCollection      = "node_validation_stats"
	stakeValCollection   = "stake_validations"

	maxChallengesPerHour = 3
	rateLimitWindow      = time.Hour
	fraudThreshold        = 0.8
)

// ProofKind is the kind of ownership a challenge attests to.
type ProofKind string

const (
	ProofStake      ProofKind = "stake"
	ProofBalance    ProofKind = "balance"
	ProofDelegation ProofKind = "delegation"
	ProofCustody    ProofKind = "custody"
	ProofLiquidity  ProofKind = "liquidity"
)

// ValidationStatus is the outcome of a submitted ownership proof.
type ValidationStatus string

const (
	StatusPending           ValidationStatus = "pending"
	StatusValid             ValidationStatus = "valid"
	StatusInvalid            ValidationStatus = "invalid"
	StatusExpired            ValidationStatus = "expired"
	StatusFraudDetected      ValidationStatus = "fraud-detected"
	StatusInsufficientStake  ValidationStatus = "insufficient-stake"
	StatusChallengeFailed    ValidationStatus = "challenge-failed"
)

// Challenge is the PoOT Challenge entity.
type Challenge struct {
	ChallengeID   string
	NodeID        string
	ProofKind     ProofKind
	RandomPayload []byte
	Nonce         string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Difficulty    int
}

// Proof is a submitted PoOT Proof.
type Proof struct {
	ChallengeID      string
	NodeID           string
	StakeAmount      float64
	Signature        []byte
	ProofData        []byte
	ValidationStatus ValidationStatus
	FraudScore       float64
}

// nodeStats is the aggregate validation bookkeeping for one node.
type nodeStats struct {
	Attempts     int
	Successes    int
	FraudEvents  int
}

// Engine is the PoOT Validator component.
type Engine struct {
	st       store.Adapter
	verifier sigverify.Verifier
	network  valuenet.Adapter

	challengeValidity time.Duration
	proofCacheTTL     time.Duration
	minTokenStake     float64
	challengeComplexityBytes int
}

// New constructs a PoOT Validator.
func New(st store.Adapter, verifier sigverify.Verifier, network valuenet.Adapter, challengeValidity, proofCacheTTL time.Duration, minTokenStake float64, challengeComplexityBytes int) *Engine {
	return &Engine{
		st:                       st,
		verifier:                 verifier,
		network:                  network,
		challengeValidity:        challengeValidity,
		proofCacheTTL:            proofCacheTTL,
		minTokenStake:            minTokenStake,
		challengeComplexityBytes: challengeComplexityBytes,
	}
}

// GenerateOwnershipChallenge issues a new challenge for a node, rate
// limited to 3 per rolling hour (invariant 9).
func (e *Engine) GenerateOwnershipChallenge(ctx context.Context, nodeID string, kind ProofKind, difficulty int) (Challenge, error) {
	cutoff := float64(time.Now().Add(-rateLimitWindow).Unix())
	n, err := e.st.Count(ctx, challengesCollection, store.Filter{
		{Field: "node_id", Op: store.OpEq, Value: nodeID},
		{Field: "issued_at_unix", Op: store.OpGe, Value: cutoff},
	})
	if err != nil {
		return Challenge{}, coreerr.Transient(err, "count recent challenges for %s", nodeID)
	}
	if n >= maxChallengesPerHour {
		return Challenge{}, coreerr.Precondition("node %s exceeded %d challenges/hour", nodeID, maxChallengesPerHour)
	}

	payload := make([]byte, e.challengeComplexityBytes)
	if _, err := rand.Read(payload); err != nil {
		return Challenge{}, coreerr.Fatal(err, "generate challenge payload")
	}
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return Challenge{}, coreerr.Fatal(err, "generate challenge nonce")
	}

	now := time.Now().UTC()
	c := Challenge{
		ChallengeID:   uuid.NewString(),
		NodeID:        nodeID,
		ProofKind:     kind,
		RandomPayload: payload,
		Nonce:         hex.EncodeToString(nonceBytes),
		IssuedAt:      now,
		ExpiresAt:     now.Add(e.challengeValidity),
		Difficulty:    difficulty,
	}

	doc := store.Doc{
		"challenge_id":   c.ChallengeID,
		"node_id":        c.NodeID,
		"proof_kind":     string(c.ProofKind),
		"random_payload": base64.StdEncoding.EncodeToString(c.RandomPayload),
		"nonce":          c.Nonce,
		"issued_at":      c.IssuedAt.Format(time.RFC3339Nano),
		"issued_at_unix": float64(c.IssuedAt.Unix()),
		"expires_at":     c.ExpiresAt.Format(time.RFC3339Nano),
		"difficulty":     c.Difficulty,
	}
	if err := e.st.Upsert(ctx, challengesCollection, c.ChallengeID, doc); err != nil {
		return Challenge{}, err
	}
	return c, nil
}

func (e *Engine) getChallenge(ctx context.Context, challengeID string) (Challenge, bool, error) {
	doc, ok, err := e.st.FindOne(ctx, challengesCollection, store.Eq("challenge_id", challengeID))
	if err != nil || !ok {
		return Challenge{}, ok, err
	}
	c := Challenge{
		ChallengeID: stringOf(doc["challenge_id"]),
		NodeID:      stringOf(doc["node_id"]),
		ProofKind:   ProofKind(stringOf(doc["proof_kind"])),
		Nonce:       stringOf(doc["nonce"]),
		Difficulty:  intOf(doc["difficulty"]),
	}
	if raw, ok := doc["random_payload"].(string); ok {
		c.RandomPayload, _ = base64.StdEncoding.DecodeString(raw)
	}
	c.IssuedAt = parseTime(doc["issued_at"])
	c.ExpiresAt = parseTime(doc["expires_at"])
	return c, true, nil
}

func stringOf(v interface{}) string { s, _ := v.(string); return s }
func intOf(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
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
func parseTime(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (e *Engine) loadStats(ctx context.Context, nodeID string) (nodeStats, error) {
	doc, ok, err := e.st.FindOne(ctx, statsCollection, store.Eq("node_id", nodeID))
	if err != nil {
		return nodeStats{}, coreerr.Transient(err, "load validation stats for %s", nodeID)
	}
	if !ok {
		return nodeStats{}, nil
	}
	return nodeStats{
		Attempts:    intOf(doc["attempts"]),
		Successes:   intOf(doc["successes"]),
		FraudEvents: intOf(doc["fraud_events"]),
	}, nil
}

func (e *Engine) saveStats(ctx context.Context, nodeID string, s nodeStats) error {
	successRate := 0.0
	if s.Attempts > 0 {
		successRate = float64(s.Successes) / float64(s.Attempts)
	}
	reputation := successRate * (1.0 - floatOf(s.FraudEvents)*0.1)
	if reputation < 0 {
		reputation = 0
	}
	doc := store.Doc{
		"node_id":      nodeID,
		"attempts":     s.Attempts,
		"successes":    s.Successes,
		"fraud_events": s.FraudEvents,
		"success_rate": successRate,
		"reputation":   reputation,
	}
	return e.st.Upsert(ctx, statsCollection, nodeID, doc)
}

// fraudScore computes a composite [0,1] fraud signal from submission
// frequency, exact-minimum-stake, low success rate, and prior fraud
// history (spec.md §4.4).
func (e *Engine) fraudScore(recentAttempts int, stake float64, stats nodeStats) float64 {
	var score float64

	if recentAttempts >= maxChallengesPerHour {
		score += 0.3
	}
	if stake == e.minTokenStake {
		score += 0.2
	}
	if stats.Attempts >= 3 {
		successRate := float64(stats.Successes) / float64(stats.Attempts)
		if successRate < 0.5 {
			score += 0.3
		}
	}
	if stats.FraudEvents > 0 {
		score += 0.2 * float64(stats.FraudEvents)
	}

	if score > 1 {
		score = 1
	}
	return score
}

// SubmitOwnershipProof validates a proof against its challenge,
// verifies signature and stake, computes a fraud score, decides the
// outcome, and caches a valid proof for reuse.
func (e *Engine) SubmitOwnershipProof(ctx context.Context, p Proof) (Proof, error) {
	challenge, found, err := e.getChallenge(ctx, p.ChallengeID)
	if err != nil {
		return p, coreerr.Transient(err, "load challenge %s", p.ChallengeID)
	}
	if !found {
		p.ValidationStatus = StatusChallengeFailed
		return p, coreerr.Validation("unknown challenge %s", p.ChallengeID)
	}
	if challenge.NodeID != p.NodeID {
		p.ValidationStatus = StatusChallengeFailed
		return p, coreerr.Validation("challenge %s does not belong to node %s", p.ChallengeID, p.NodeID)
	}
	if time.Now().After(challenge.ExpiresAt) {
		p.ValidationStatus = StatusExpired
		e.persistProof(ctx, p)
		return p, coreerr.Precondition("challenge %s expired", p.ChallengeID)
	}

	if e.verifier != nil {
		ok, err := e.verifier.Verify(p.NodeID, challenge.RandomPayload, p.Signature)
		if err != nil {
			return p, coreerr.Transient(err, "verify ownership signature")
		}
		if !ok {
			p.ValidationStatus = StatusInvalid
			e.persistProof(ctx, p)
			return p, coreerr.Integrity("ownership signature invalid for node %s", p.NodeID)
		}
	}

	cutoff := float64(time.Now().Add(-rateLimitWindow).Unix())
	recentAttempts, err := e.st.Count(ctx, challengesCollection, store.Filter{
		{Field: "node_id", Op: store.OpEq, Value: p.NodeID},
		{Field: "issued_at_unix", Op: store.OpGe, Value: cutoff},
	})
	if err != nil {
		return p, coreerr.Transient(err, "count recent attempts")
	}

	stats, err := e.loadStats(ctx, p.NodeID)
	if err != nil {
		return p, err
	}

	score := e.fraudScore(recentAttempts, p.StakeAmount, stats)
	p.FraudScore = score
	stats.Attempts++

	switch {
	case score >= fraudThreshold:
		p.ValidationStatus = StatusFraudDetected
		stats.FraudEvents++
		e.recordFraudEvent(ctx, p.NodeID, "fraud-score-threshold", score)
	case p.StakeAmount < e.minTokenStake:
		p.ValidationStatus = StatusInsufficientStake
	default:
		p.ValidationStatus = StatusValid
		stats.Successes++
	}

	if err := e.saveStats(ctx, p.NodeID, stats); err != nil {
		return p, err
	}
	if err := e.persistProof(ctx, p); err != nil {
		return p, err
	}

	if p.ValidationStatus == StatusValid {
		cacheKey := fmt.Sprintf("poot_proof:%s", p.NodeID)
		cacheVal := []byte(p.ChallengeID)
		if err := e.st.CacheSet(ctx, cacheKey, cacheVal, e.proofCacheTTL); err != nil {
			return p, coreerr.Transient(err, "cache valid proof")
		}
		return p, nil
	}

	return p, coreerr.Integrity("ownership proof rejected for node %s: %s", p.NodeID, p.ValidationStatus)
}

func (e *Engine) persistProof(ctx context.Context, p Proof) error {
	key := p.ChallengeID
	doc := store.Doc{
		"challenge_id":      p.ChallengeID,
		"node_id":           p.NodeID,
		"stake_amount":      p.StakeAmount,
		"validation_status": string(p.ValidationStatus),
		"fraud_score":       p.FraudScore,
	}
	return e.st.Upsert(ctx, proofsCollection, key, doc)
}

func (e *Engine) recordFraudEvent(ctx context.Context, nodeID, reason string, score float64) {
	id := uuid.NewString()
	_ = e.st.Upsert(ctx, fraudCollection, id, store.Doc{
		"event_id":   id,
		"node_id":    nodeID,
		"reason":     reason,
		"score":      score,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ValidateStake queries the external value-network adapter and
// compares the reported balance to the claimed stake; underreporting
// (actual < claimed) emits a fraud event.
func (e *Engine) ValidateStake(ctx context.Context, nodeID, address string, claimed float64) (bool, error) {
	balance, err := e.network.GetAccountBalance(ctx, address)
	if err != nil {
		return false, coreerr.Transient(err, "query account balance for %s", address)
	}

	verified := balance.USDT >= claimed
	id := uuid.NewString()
	if err := e.st.Upsert(ctx, stakeValCollection, id, store.Doc{
		"validation_id": id,
		"node_id":       nodeID,
		"address":       address,
		"claimed":       claimed,
		"actual":        balance.USDT,
		"verified":      verified,
		"checked_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return verified, err
	}

	if !verified {
		e.recordFraudEvent(ctx, nodeID, "stake-underreported", 1.0)
	}
	return verified, nil
}

// LatestValidatedStake returns the most recently checked on-chain
// balance recorded for nodeID by ValidateStake, for use as a stake
// weight by other components (e.g. governance's stake-weighted vote).
func (e *Engine) LatestValidatedStake(ctx context.Context, nodeID string) (float64, error) {
	it, err := e.st.Find(ctx, stakeValCollection, store.Eq("node_id", nodeID),
		[]store.SortField{{Field: "checked_at", Desc: true}}, 1)
	if err != nil {
		return 0, coreerr.Transient(err, "scan stake validations for %s", nodeID)
	}
	defer it.Close()

	doc, found, err := it.Next(ctx)
	if err != nil {
		return 0, coreerr.Transient(err, "iterate stake validations for %s", nodeID)
	}
	if !found {
		return 0, nil
	}
	actual, _ := doc["actual"].(float64)
	return actual, nil
}
