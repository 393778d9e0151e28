// Package registration implements the Registration Protocol:
// multi-stage candidate onboarding, ownership/capability/reachability/
// storage challenges, stake verification, and timeout sweeping
// (spec.md §4.8).
package registration

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/peer"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	registrationsCollection = "node_registrations"
	challengesCollection    = "registration_challenges"
)

// ChallengeKind is one of the four onboarding challenge types.
type ChallengeKind string

const (
	ChallengeOwnership    ChallengeKind = "ownership-signature"
	ChallengeCapability   ChallengeKind = "capability-proof"
	ChallengeReachability ChallengeKind = "network-reachability"
	ChallengeStorage      ChallengeKind = "storage-proof"
)

// scoreIncrements are the fixed per-challenge verification-score
// contributions from spec.md §4.8 step 3.
var scoreIncrements = map[ChallengeKind]float64{
	ChallengeOwnership:    0.3,
	ChallengeCapability:   0.3,
	ChallengeReachability: 0.2,
	ChallengeStorage:      0.2,
}

// Status is a Registration's lifecycle status.
type Status string

const (
	StatusPendingChallenges Status = "pending-challenges"
	StatusStakeVerified     Status = "stake-verified"
	StatusApproved          Status = "approved"
	StatusExpired           Status = "expired"
)

// Registration is the onboarding-candidate entity.
type Registration struct {
	RegistrationID   string
	NodeID           string
	OverlayAddress   string
	Port             int
	Role             peer.Role
	Capabilities     []string
	ClaimedStake     float64
	VerificationScore float64
	Status           Status
	CreatedAt        time.Time
	ExpiresAt        time.Time
	CompletedKinds   map[ChallengeKind]bool
}

// Challenge is one outstanding registration challenge.
type Challenge struct {
	ChallengeID      string
	RegistrationID   string
	Kind             ChallengeKind
	Payload          []byte
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Verified         bool
}

// StakeVerifier verifies a candidate's claimed stake against an
// external source (the same seam PoOT's ValidateStake uses).
type StakeVerifier interface {
	ValidateStake(ctx context.Context, nodeID, address string, claimed float64) (bool, error)
}

// SignatureVerifier verifies an ownership-signature challenge response.
type SignatureVerifier interface {
	Verify(nodeID string, message, signature []byte) (bool, error)
}

// Engine is the Registration Protocol component.
type Engine struct {
	st    store.Adapter
	dir   *peer.Directory
	stake StakeVerifier
	sig   SignatureVerifier

	minStake          float64
	allowedRoles      map[peer.Role]bool
	totalTimeout      time.Duration
	challengeTimeout  time.Duration
	jwtSecret         []byte
}

// New constructs a Registration Protocol engine.
func New(st store.Adapter, dir *peer.Directory, stake StakeVerifier, sig SignatureVerifier,
	minStake float64, allowedRoles []peer.Role, totalTimeout, challengeTimeout time.Duration, jwtSecret []byte) *Engine {
	roles := make(map[peer.Role]bool, len(allowedRoles))
	for _, r := range allowedRoles {
		roles[r] = true
	}
	return &Engine{
		st: st, dir: dir, stake: stake, sig: sig,
		minStake: minStake, allowedRoles: roles,
		totalTimeout: totalTimeout, challengeTimeout: challengeTimeout, jwtSecret: jwtSecret,
	}
}

// Submit validates a candidate's submission shape and opens a
// registration, issuing all four challenges.
func (e *Engine) Submit(ctx context.Context, nodeID, overlayAddress string, port int, role peer.Role, stake float64) (Registration, error) {
	if nodeID == "" {
		return Registration{}, coreerr.Validation("node-id is required")
	}
	if !strings.HasSuffix(overlayAddress, ".onion") {
		return Registration{}, coreerr.Validation("overlay address %q must be a .onion address", overlayAddress)
	}
	if port < 1024 || port > 65535 {
		return Registration{}, coreerr.Validation("port %d out of range [1024,65535]", port)
	}
	if !e.allowedRoles[role] {
		return Registration{}, coreerr.Validation("role %q not permitted for registration", role)
	}
	if stake < e.minStake {
		return Registration{}, coreerr.Validation("stake %.4f below minimum %.4f", stake, e.minStake)
	}

	now := time.Now().UTC()
	r := Registration{
		RegistrationID: uuid.NewString(),
		NodeID:         nodeID,
		OverlayAddress: overlayAddress,
		Port:           port,
		Role:           role,
		ClaimedStake:   stake,
		Status:         StatusPendingChallenges,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.totalTimeout),
		CompletedKinds: map[ChallengeKind]bool{},
	}
	if err := e.saveRegistration(ctx, r); err != nil {
		return Registration{}, err
	}

	for _, kind := range []ChallengeKind{ChallengeOwnership, ChallengeCapability, ChallengeReachability, ChallengeStorage} {
		if _, err := e.issueChallenge(ctx, r.RegistrationID, kind); err != nil {
			return Registration{}, err
		}
	}
	return r, nil
}

func (e *Engine) issueChallenge(ctx context.Context, registrationID string, kind ChallengeKind) (Challenge, error) {
	payload := make([]byte, 32)
	if _, err := rand.Read(payload); err != nil {
		return Challenge{}, coreerr.Transient(err, "generate challenge payload")
	}
	now := time.Now().UTC()
	c := Challenge{
		ChallengeID:    uuid.NewString(),
		RegistrationID: registrationID,
		Kind:           kind,
		Payload:        payload,
		IssuedAt:       now,
		ExpiresAt:      now.Add(e.challengeTimeout),
	}
	if err := e.st.Upsert(ctx, challengesCollection, c.ChallengeID, store.Doc{
		"challenge_id":    c.ChallengeID,
		"registration_id": c.RegistrationID,
		"kind":            string(c.Kind),
		"payload":         c.Payload,
		"issued_at":       c.IssuedAt.Format(time.RFC3339Nano),
		"expires_at":      c.ExpiresAt.Format(time.RFC3339Nano),
		"verified":        false,
	}); err != nil {
		return Challenge{}, coreerr.Transient(err, "save challenge")
	}
	return c, nil
}

// VerifyChallenge marks a challenge verified (given caller-supplied
// proof of the correct kind) and increments the registration's
// verification-score. Once all four challenges are complete, stake is
// verified against the external network automatically, whatever the
// candidate's claimed role.
func (e *Engine) VerifyChallenge(ctx context.Context, challengeID string, response []byte) error {
	doc, ok, err := e.st.FindOne(ctx, challengesCollection, store.Eq("challenge_id", challengeID))
	if err != nil {
		return coreerr.Transient(err, "load challenge %s", challengeID)
	}
	if !ok {
		return coreerr.Validation("unknown challenge %s", challengeID)
	}
	issuedAt, _ := time.Parse(time.RFC3339Nano, strOf(doc["issued_at"]))
	expiresAt, _ := time.Parse(time.RFC3339Nano, strOf(doc["expires_at"]))
	if time.Now().After(expiresAt) {
		return coreerr.Precondition("challenge %s expired", challengeID)
	}
	if boolOf(doc["verified"]) {
		return coreerr.Precondition("challenge %s already verified", challengeID)
	}
	_ = issuedAt

	registrationID := strOf(doc["registration_id"])
	kind := ChallengeKind(strOf(doc["kind"]))
	r, err := e.getRegistration(ctx, registrationID)
	if err != nil {
		return err
	}

	if kind == ChallengeOwnership && e.sig != nil {
		ok, err := e.sig.Verify(r.NodeID, bytesOf(doc["payload"]), response)
		if err != nil {
			return coreerr.Transient(err, "verify ownership signature")
		}
		if !ok {
			return coreerr.Integrity("ownership signature invalid for node %s", r.NodeID)
		}
	}

	doc["verified"] = true
	if err := e.st.Upsert(ctx, challengesCollection, challengeID, doc); err != nil {
		return coreerr.Transient(err, "mark challenge verified")
	}

	if !r.CompletedKinds[kind] {
		r.CompletedKinds[kind] = true
		r.VerificationScore += scoreIncrements[kind]
	}
	if err := e.saveRegistration(ctx, r); err != nil {
		return err
	}

	if len(r.CompletedKinds) == 4 && r.Status == StatusPendingChallenges {
		return e.verifyStakeAndAdvance(ctx, r)
	}
	return nil
}

func (e *Engine) verifyStakeAndAdvance(ctx context.Context, r Registration) error {
	if e.stake == nil {
		return nil
	}
	verified, err := e.stake.ValidateStake(ctx, r.NodeID, r.NodeID, r.ClaimedStake)
	if err != nil {
		return coreerr.Transient(err, "validate stake for %s", r.NodeID)
	}
	if verified {
		r.Status = StatusStakeVerified
		return e.saveRegistration(ctx, r)
	}
	return nil
}

// Approve admits an onboarded candidate into the Peer Directory. It
// requires verification-score ≥ 0.8 and stake-verified status.
func (e *Engine) Approve(ctx context.Context, registrationID string) error {
	r, err := e.getRegistration(ctx, registrationID)
	if err != nil {
		return err
	}
	if r.VerificationScore < 0.8 {
		return coreerr.Precondition("registration %s verification-score %.2f below 0.8", registrationID, r.VerificationScore)
	}
	if r.Status != StatusStakeVerified {
		return coreerr.Precondition("registration %s is not stake-verified (status=%s)", registrationID, r.Status)
	}

	if e.dir != nil {
		if err := e.dir.AddPeer(ctx, peer.Peer{
			NodeID:         r.NodeID,
			OverlayAddress: r.OverlayAddress,
			Port:           r.Port,
			Role:           r.Role,
			Capabilities:   r.Capabilities,
			LastSeen:       time.Now().UTC(),
		}); err != nil {
			return coreerr.Transient(err, "add approved peer to directory")
		}
	}

	r.Status = StatusApproved
	return e.saveRegistration(ctx, r)
}

// IssueReachabilityToken returns a short-lived JWT proving network
// reachability, for the token-ping reachability challenge.
func (e *Engine) IssueReachabilityToken(registrationID string) (string, error) {
	claims := jwt.MapClaims{
		"registration_id": registrationID,
		"exp":             time.Now().Add(e.challengeTimeout).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(e.jwtSecret)
}

// ApprovalReceiptQR renders a QR code PNG for the approval receipt, so
// an operator can scan the registration-id off a paired device.
func (e *Engine) ApprovalReceiptQR(registrationID string) ([]byte, error) {
	png, err := qrcode.Encode(fmt.Sprintf("lucid-registration:%s", registrationID), qrcode.Medium, 256)
	if err != nil {
		return nil, coreerr.Transient(err, "render approval receipt qr code")
	}
	return png, nil
}

// RunTimeoutSweepLoop expires registrations past their total timeout
// and purges expired/completed challenges on every tick.
func (e *Engine) RunTimeoutSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

func (e *Engine) sweepOnce(ctx context.Context) {
	now := time.Now()

	it, err := e.st.Find(ctx, registrationsCollection, store.Eq("status", string(StatusPendingChallenges)), nil, 0)
	if err != nil {
		log.Printf("registration: scan pending: %v", err)
		return
	}
	var expired []Registration
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			log.Printf("registration: iterate pending: %v", err)
			break
		}
		if !ok {
			break
		}
		r := registrationFromDoc(doc)
		if now.After(r.ExpiresAt) {
			expired = append(expired, r)
		}
	}
	it.Close()

	for _, r := range expired {
		r.Status = StatusExpired
		if err := e.saveRegistration(ctx, r); err != nil {
			log.Printf("registration: expire %s: %v", r.RegistrationID, err)
		}
	}

	if _, err := e.st.DeleteMany(ctx, challengesCollection, store.Filter{
		{Field: "expires_at", Op: store.OpLt, Value: now.Format(time.RFC3339Nano)},
	}); err != nil {
		log.Printf("registration: purge expired challenges: %v", err)
	}
	if _, err := e.st.DeleteMany(ctx, challengesCollection, store.Eq("verified", true)); err != nil {
		log.Printf("registration: purge completed challenges: %v", err)
	}
}

func (e *Engine) getRegistration(ctx context.Context, registrationID string) (Registration, error) {
	doc, ok, err := e.st.FindOne(ctx, registrationsCollection, store.Eq("registration_id", registrationID))
	if err != nil {
		return Registration{}, coreerr.Transient(err, "load registration %s", registrationID)
	}
	if !ok {
		return Registration{}, coreerr.Validation("unknown registration %s", registrationID)
	}
	return registrationFromDoc(doc), nil
}

func (e *Engine) saveRegistration(ctx context.Context, r Registration) error {
	completed := make(map[string]interface{}, len(r.CompletedKinds))
	for k, v := range r.CompletedKinds {
		completed[string(k)] = v
	}
	caps := make([]interface{}, len(r.Capabilities))
	for i, c := range r.Capabilities {
		caps[i] = c
	}
	return e.st.Upsert(ctx, registrationsCollection, r.RegistrationID, store.Doc{
		"registration_id":    r.RegistrationID,
		"node_id":            r.NodeID,
		"overlay_address":    r.OverlayAddress,
		"port":               r.Port,
		"role":               string(r.Role),
		"capabilities":       caps,
		"claimed_stake":      r.ClaimedStake,
		"verification_score": r.VerificationScore,
		"status":             string(r.Status),
		"created_at":         r.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":         r.ExpiresAt.Format(time.RFC3339Nano),
		"completed_kinds":    completed,
	})
}

func registrationFromDoc(d store.Doc) Registration {
	r := Registration{
		RegistrationID:    strOf(d["registration_id"]),
		NodeID:            strOf(d["node_id"]),
		OverlayAddress:    strOf(d["overlay_address"]),
		Port:              int(floatOf(d["port"])),
		Role:              peer.Role(strOf(d["role"])),
		ClaimedStake:      floatOf(d["claimed_stake"]),
		VerificationScore: floatOf(d["verification_score"]),
		Status:            Status(strOf(d["status"])),
		CreatedAt:         parseTime(d["created_at"]),
		ExpiresAt:         parseTime(d["expires_at"]),
		CompletedKinds:    map[ChallengeKind]bool{},
	}
	if caps, ok := d["capabilities"].([]interface{}); ok {
		for _, c := range caps {
			r.Capabilities = append(r.Capabilities, strOf(c))
		}
	}
	if completed, ok := d["completed_kinds"].(map[string]interface{}); ok {
		for k, v := range completed {
			r.CompletedKinds[ChallengeKind(k)] = boolOf(v)
		}
	}
	return r
}

func strOf(v interface{}) string { s, _ := v.(string); return s }
func boolOf(v interface{}) bool  { b, _ := v.(bool); return b }
func bytesOf(v interface{}) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
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
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
