// Package governance implements the Governance Engine: proposal
// lifecycle, voting with delegation, weighted tallying, and the
// lifecycle scheduler (spec.md §4.6).
package governance

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	proposalsCollection   = "governance_proposals"
	votesCollection       = "governance_votes"
	delegationsCollection = "vote_delegations"
	talliesCollection     = "vote_tallies"
)

// Kind is a proposal's category.
type Kind string

const (
	KindParameterChange     Kind = "parameter-change"
	KindProtocolUpgrade     Kind = "protocol-upgrade"
	KindFundAllocation      Kind = "fund-allocation"
	KindNodePenalty         Kind = "node-penalty"
	KindNetworkPolicy       Kind = "network-policy"
	KindEmergency           Kind = "emergency"
	KindCommunityInitiative Kind = "community-initiative"
)

// WeightMethod determines how a voter's weight is computed.
type WeightMethod string

const (
	WeightEqual         WeightMethod = "equal"
	WeightStakeWeighted WeightMethod = "stake-weighted"
	WeightWorkWeighted  WeightMethod = "work-weighted"
	WeightHybrid        WeightMethod = "hybrid"
)

// Status is a proposal's lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusDiscussion Status = "discussion"
	StatusVoting     Status = "voting"
	StatusPassed     Status = "passed"
	StatusRejected   Status = "rejected"
	StatusExecuted   Status = "executed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Choice is a cast vote's value.
type Choice string

const (
	ChoiceYes     Choice = "yes"
	ChoiceNo      Choice = "no"
	ChoiceAbstain Choice = "abstain"
)

// Proposal is the Governance Proposal entity.
type Proposal struct {
	ProposalID      string
	ProposerNodeID  string
	Title           string
	Description     string
	Kind            Kind
	WeightMethod    WeightMethod
	Parameters      map[string]interface{}
	Status          Status
	CreatedAt       time.Time
	DiscussionStart time.Time
	VotingStart     time.Time
	VotingEnd       time.Time
	ExecutedAt      time.Time
	ExecutionHash   string
}

// Vote is the Vote entity.
type Vote struct {
	VoteID       string
	ProposalID   string
	VoterNodeID  string
	Choice       Choice
	Weight       float64
	DelegateFrom string
	CastAt       time.Time
}

// Delegation is the Delegation entity.
type Delegation struct {
	DelegationID string
	Delegator    string
	Delegate     string
	Scope        string // proposal kind or "all"
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Active       bool
}

// Tally is the cached Vote Tally reducer over a proposal's votes.
type Tally struct {
	YesWeight        float64
	NoWeight         float64
	AbstainWeight    float64
	TotalWeightCast  float64
	TotalEligible    float64
	QuorumMet        bool
	Result           Status
}

// PeerSource supplies the active-peer set used to compute
// total-eligible-weight.
type PeerSource interface {
	ActivePeerIDs(ctx context.Context) ([]string, error)
}

// StakeSource supplies a node's stake for stake-weighted voting.
type StakeSource interface {
	Stake(ctx context.Context, nodeID string) (float64, error)
}

// CreditsSource supplies a node's recent work credits for
// work-weighted voting.
type CreditsSource interface {
	RecentCredits(ctx context.Context, nodeID string) (float64, error)
}

// Engine is the Governance Engine component.
type Engine struct {
	st      store.Adapter
	peers   PeerSource
	stake   StakeSource
	credits CreditsSource

	discussionDuration time.Duration
	votingDuration     time.Duration
	minQuorum          float64
	delegateExpiry     time.Duration
	maxActiveProposals int
}

// New constructs a Governance Engine.
func New(st store.Adapter, peers PeerSource, stake StakeSource, credits CreditsSource,
	discussionDuration, votingDuration, delegateExpiry time.Duration, minQuorum float64, maxActiveProposals int) *Engine {
	return &Engine{
		st: st, peers: peers, stake: stake, credits: credits,
		discussionDuration: discussionDuration, votingDuration: votingDuration,
		minQuorum: minQuorum, delegateExpiry: delegateExpiry, maxActiveProposals: maxActiveProposals,
	}
}

func activeStatuses() []interface{} {
	return []interface{}{string(StatusDraft), string(StatusDiscussion), string(StatusVoting)}
}

// CreateProposal enters a new proposal in draft, enforcing the
// per-proposer active-proposal cap.
func (e *Engine) CreateProposal(ctx context.Context, proposerNodeID, title, description string, kind Kind, weightMethod WeightMethod, params map[string]interface{}) (Proposal, error) {
	n, err := e.st.Count(ctx, proposalsCollection, store.Filter{
		{Field: "proposer_node_id", Op: store.OpEq, Value: proposerNodeID},
		{Field: "status", Op: store.OpIn, Value: activeStatuses()},
	})
	if err != nil {
		return Proposal{}, coreerr.Transient(err, "count active proposals for %s", proposerNodeID)
	}
	if n >= e.maxActiveProposals {
		return Proposal{}, coreerr.Precondition("proposer %s at active-proposal cap (%d)", proposerNodeID, e.maxActiveProposals)
	}

	p := Proposal{
		ProposalID:     uuid.NewString(),
		ProposerNodeID: proposerNodeID,
		Title:          title,
		Description:    description,
		Kind:           kind,
		WeightMethod:   weightMethod,
		Parameters:     params,
		Status:         StatusDraft,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.saveProposal(ctx, p); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// StartDiscussion transitions a draft proposal into discussion and
// schedules its voting window.
func (e *Engine) StartDiscussion(ctx context.Context, proposalID string) error {
	p, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != StatusDraft {
		return coreerr.Precondition("proposal %s is not in draft (status=%s)", proposalID, p.Status)
	}
	now := time.Now().UTC()
	p.Status = StatusDiscussion
	p.DiscussionStart = now
	p.VotingStart = now.Add(e.discussionDuration)
	p.VotingEnd = p.VotingStart.Add(e.votingDuration)
	return e.saveProposal(ctx, p)
}

// Cancel transitions a draft or discussion proposal to cancelled
// (terminal).
func (e *Engine) Cancel(ctx context.Context, proposalID string) error {
	p, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != StatusDraft && p.Status != StatusDiscussion {
		return coreerr.Precondition("proposal %s cannot be cancelled from status=%s", proposalID, p.Status)
	}
	p.Status = StatusCancelled
	return e.saveProposal(ctx, p)
}

// weightFor computes a voter's weight under the proposal's method.
func (e *Engine) weightFor(ctx context.Context, method WeightMethod, nodeID string) (float64, error) {
	switch method {
	case WeightEqual:
		return 1, nil
	case WeightStakeWeighted:
		if e.stake == nil {
			return 0, nil
		}
		return e.stake.Stake(ctx, nodeID)
	case WeightWorkWeighted:
		if e.credits == nil {
			return 1, nil
		}
		c, err := e.credits.RecentCredits(ctx, nodeID)
		if err != nil {
			return 0, err
		}
		return math.Max(c, 1), nil
	case WeightHybrid:
		stakeW := 0.0
		if e.stake != nil {
			s, err := e.stake.Stake(ctx, nodeID)
			if err != nil {
				return 0, err
			}
			stakeW = s
		}
		creditW := 1.0
		if e.credits != nil {
			c, err := e.credits.RecentCredits(ctx, nodeID)
			if err != nil {
				return 0, err
			}
			creditW = math.Max(c, 1)
		}
		return (stakeW + creditW) / 2, nil
	default:
		return 1, nil
	}
}

// CastVote records a vote, rejecting votes outside the voting window
// and double-votes per (proposal, voter) with delegate-from=null
// (invariant 3). A delegateFrom vote must reference an active
// delegation covering the proposal's kind.
func (e *Engine) CastVote(ctx context.Context, proposalID, voterNodeID string, choice Choice, delegateFrom string) error {
	p, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	now := time.Now()
	if p.Status != StatusVoting || now.Before(p.VotingStart) || now.After(p.VotingEnd) {
		return coreerr.Precondition("proposal %s is not in its voting window", proposalID)
	}

	if delegateFrom == "" {
		n, err := e.st.Count(ctx, votesCollection, store.Filter{
			{Field: "proposal_id", Op: store.OpEq, Value: proposalID},
			{Field: "voter_node_id", Op: store.OpEq, Value: voterNodeID},
			{Field: "delegate_from", Op: store.OpEq, Value: ""},
		})
		if err != nil {
			return coreerr.Transient(err, "check duplicate vote")
		}
		if n > 0 {
			return coreerr.Precondition("voter %s already voted on %s", voterNodeID, proposalID)
		}
	} else {
		active, err := e.activeDelegationCovers(ctx, delegateFrom, voterNodeID, p.Kind, now)
		if err != nil {
			return err
		}
		if !active {
			return coreerr.Precondition("no active delegation from %s to %s covering kind %s", delegateFrom, voterNodeID, p.Kind)
		}
	}

	weight, err := e.weightFor(ctx, p.WeightMethod, voterNodeID)
	if err != nil {
		return coreerr.Transient(err, "compute vote weight")
	}

	v := Vote{
		VoteID:       uuid.NewString(),
		ProposalID:   proposalID,
		VoterNodeID:  voterNodeID,
		Choice:       choice,
		Weight:       weight,
		DelegateFrom: delegateFrom,
		CastAt:       now.UTC(),
	}
	return e.st.Upsert(ctx, votesCollection, v.VoteID, store.Doc{
		"vote_id":       v.VoteID,
		"proposal_id":   v.ProposalID,
		"voter_node_id": v.VoterNodeID,
		"choice":        string(v.Choice),
		"weight":        v.Weight,
		"delegate_from": v.DelegateFrom,
		"cast_at":       v.CastAt.Format(time.RFC3339Nano),
	})
}

// Delegate creates a delegation, rejecting self-delegation and
// overlapping active delegations for the same (delegator, delegate,
// scope).
func (e *Engine) Delegate(ctx context.Context, delegator, delegate, scope string) (Delegation, error) {
	if delegator == delegate {
		return Delegation{}, coreerr.Validation("delegator cannot equal delegate")
	}
	n, err := e.st.Count(ctx, delegationsCollection, store.Filter{
		{Field: "delegator", Op: store.OpEq, Value: delegator},
		{Field: "delegate", Op: store.OpEq, Value: delegate},
		{Field: "scope", Op: store.OpEq, Value: scope},
		{Field: "active", Op: store.OpEq, Value: true},
	})
	if err != nil {
		return Delegation{}, coreerr.Transient(err, "check overlapping delegation")
	}
	if n > 0 {
		return Delegation{}, coreerr.Precondition("overlapping active delegation (%s, %s, %s)", delegator, delegate, scope)
	}

	now := time.Now().UTC()
	d := Delegation{
		DelegationID: uuid.NewString(),
		Delegator:    delegator,
		Delegate:     delegate,
		Scope:        scope,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.delegateExpiry),
		Active:       true,
	}
	if err := e.saveDelegation(ctx, d); err != nil {
		return Delegation{}, err
	}
	return d, nil
}

// RevokeDelegation deactivates a delegation.
func (e *Engine) RevokeDelegation(ctx context.Context, delegationID string) error {
	doc, ok, err := e.st.FindOne(ctx, delegationsCollection, store.Eq("delegation_id", delegationID))
	if err != nil {
		return coreerr.Transient(err, "load delegation %s", delegationID)
	}
	if !ok {
		return coreerr.Validation("unknown delegation %s", delegationID)
	}
	d := delegationFromDoc(doc)
	d.Active = false
	return e.saveDelegation(ctx, d)
}

func (e *Engine) activeDelegationCovers(ctx context.Context, delegator, delegate string, kind Kind, at time.Time) (bool, error) {
	it, err := e.st.Find(ctx, delegationsCollection, store.Filter{
		{Field: "delegator", Op: store.OpEq, Value: delegator},
		{Field: "delegate", Op: store.OpEq, Value: delegate},
		{Field: "active", Op: store.OpEq, Value: true},
	}, nil, 0)
	if err != nil {
		return false, coreerr.Transient(err, "scan delegations")
	}
	defer it.Close()

	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return false, coreerr.Transient(err, "iterate delegations")
		}
		if !ok {
			break
		}
		d := delegationFromDoc(doc)
		if at.After(d.ExpiresAt) {
			continue
		}
		if d.Scope == "all" || d.Scope == string(kind) {
			return true, nil
		}
	}
	return false, nil
}

// UpdateProposalTally sums weighted votes, computes quorum and result,
// and transitions the proposal out of voting.
func (e *Engine) UpdateProposalTally(ctx context.Context, proposalID string) (Tally, error) {
	p, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return Tally{}, err
	}

	it, err := e.st.Find(ctx, votesCollection, store.Eq("proposal_id", proposalID), nil, 0)
	if err != nil {
		return Tally{}, coreerr.Transient(err, "scan votes")
	}
	defer it.Close()

	var t Tally
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return Tally{}, coreerr.Transient(err, "iterate votes")
		}
		if !ok {
			break
		}
		w := numOf(doc["weight"])
		switch Choice(strOf(doc["choice"])) {
		case ChoiceYes:
			t.YesWeight += w
		case ChoiceNo:
			t.NoWeight += w
		case ChoiceAbstain:
			t.AbstainWeight += w
		}
		t.TotalWeightCast += w
	}

	peerIDs, err := e.peers.ActivePeerIDs(ctx)
	if err != nil {
		return Tally{}, coreerr.Transient(err, "load active peers for eligibility")
	}
	for _, id := range peerIDs {
		w, err := e.weightFor(ctx, p.WeightMethod, id)
		if err != nil {
			return Tally{}, coreerr.Transient(err, "compute eligible weight for %s", id)
		}
		t.TotalEligible += w
	}

	t.QuorumMet = t.TotalEligible > 0 && t.TotalWeightCast >= e.minQuorum*t.TotalEligible

	switch {
	case !t.QuorumMet:
		t.Result = StatusExpired
	case t.YesWeight > t.NoWeight:
		t.Result = StatusPassed
	default:
		// Ties are stored internally for observability but treated as
		// rejected for lifecycle purposes.
		t.Result = StatusRejected
	}
	resultLabel := string(t.Result)
	if t.QuorumMet && t.YesWeight == t.NoWeight {
		resultLabel = "tied"
	}

	if err := e.st.Upsert(ctx, talliesCollection, proposalID, store.Doc{
		"proposal_id":        proposalID,
		"yes_weight":         t.YesWeight,
		"no_weight":          t.NoWeight,
		"abstain_weight":     t.AbstainWeight,
		"total_weight_cast":  t.TotalWeightCast,
		"total_eligible":     t.TotalEligible,
		"quorum_met":         t.QuorumMet,
		"result":             resultLabel,
	}); err != nil {
		return t, err
	}

	p.Status = t.Result
	if err := e.saveProposal(ctx, p); err != nil {
		return t, err
	}
	return t, nil
}

// Execute transitions a passed proposal to executed, recording an
// execution hash for observability.
func (e *Engine) Execute(ctx context.Context, proposalID, executionHash string) error {
	p, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != StatusPassed {
		return coreerr.Precondition("proposal %s is not passed (status=%s)", proposalID, p.Status)
	}
	p.Status = StatusExecuted
	p.ExecutedAt = time.Now().UTC()
	p.ExecutionHash = executionHash
	return e.saveProposal(ctx, p)
}

// RunLifecycleLoop advances proposals through discussion→voting and
// tallies proposals whose voting window has closed, on every tick,
// until ctx is cancelled.
func (e *Engine) RunLifecycleLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.advanceLifecycleOnce(ctx)
		}
	}
}

func (e *Engine) advanceLifecycleOnce(ctx context.Context) {
	now := time.Now()

	discussing, err := e.scanByStatus(ctx, StatusDiscussion)
	if err != nil {
		log.Printf("governance: scan discussion: %v", err)
	} else {
		for _, p := range discussing {
			if !now.Before(p.VotingStart) {
				p.Status = StatusVoting
				if err := e.saveProposal(ctx, p); err != nil {
					log.Printf("governance: advance %s to voting: %v", p.ProposalID, err)
				}
			}
		}
	}

	voting, err := e.scanByStatus(ctx, StatusVoting)
	if err != nil {
		log.Printf("governance: scan voting: %v", err)
		return
	}
	for _, p := range voting {
		if !now.Before(p.VotingEnd) {
			if _, err := e.UpdateProposalTally(ctx, p.ProposalID); err != nil {
				log.Printf("governance: tally %s: %v", p.ProposalID, err)
			}
		}
	}
}

func (e *Engine) scanByStatus(ctx context.Context, status Status) ([]Proposal, error) {
	it, err := e.st.Find(ctx, proposalsCollection, store.Eq("status", string(status)), nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan proposals by status")
	}
	defer it.Close()

	var out []Proposal
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate proposals")
		}
		if !ok {
			break
		}
		out = append(out, proposalFromDoc(doc))
	}
	return out, nil
}

func (e *Engine) getProposal(ctx context.Context, proposalID string) (Proposal, error) {
	doc, ok, err := e.st.FindOne(ctx, proposalsCollection, store.Eq("proposal_id", proposalID))
	if err != nil {
		return Proposal{}, coreerr.Transient(err, "load proposal %s", proposalID)
	}
	if !ok {
		return Proposal{}, coreerr.Validation("unknown proposal %s", proposalID)
	}
	return proposalFromDoc(doc), nil
}

func (e *Engine) saveProposal(ctx context.Context, p Proposal) error {
	params := make(map[string]interface{}, len(p.Parameters))
	for k, v := range p.Parameters {
		params[k] = v
	}
	return e.st.Upsert(ctx, proposalsCollection, p.ProposalID, store.Doc{
		"proposal_id":      p.ProposalID,
		"proposer_node_id": p.ProposerNodeID,
		"title":            p.Title,
		"description":      p.Description,
		"kind":             string(p.Kind),
		"weight_method":    string(p.WeightMethod),
		"parameters":       params,
		"status":           string(p.Status),
		"created_at":       p.CreatedAt.Format(time.RFC3339Nano),
		"discussion_start": formatOptTime(p.DiscussionStart),
		"voting_start":     formatOptTime(p.VotingStart),
		"voting_end":       formatOptTime(p.VotingEnd),
		"executed_at":      formatOptTime(p.ExecutedAt),
		"execution_hash":   p.ExecutionHash,
	})
}

func proposalFromDoc(d store.Doc) Proposal {
	p := Proposal{
		ProposalID:     strOf(d["proposal_id"]),
		ProposerNodeID: strOf(d["proposer_node_id"]),
		Title:          strOf(d["title"]),
		Description:    strOf(d["description"]),
		Kind:           Kind(strOf(d["kind"])),
		WeightMethod:   WeightMethod(strOf(d["weight_method"])),
		Status:         Status(strOf(d["status"])),
		ExecutionHash:  strOf(d["execution_hash"]),
	}
	if params, ok := d["parameters"].(map[string]interface{}); ok {
		p.Parameters = params
	}
	p.CreatedAt = parseOptTime(d["created_at"])
	p.DiscussionStart = parseOptTime(d["discussion_start"])
	p.VotingStart = parseOptTime(d["voting_start"])
	p.VotingEnd = parseOptTime(d["voting_end"])
	p.ExecutedAt = parseOptTime(d["executed_at"])
	return p
}

func (e *Engine) saveDelegation(ctx context.Context, d Delegation) error {
	return e.st.Upsert(ctx, delegationsCollection, d.DelegationID, store.Doc{
		"delegation_id": d.DelegationID,
		"delegator":     d.Delegator,
		"delegate":      d.Delegate,
		"scope":         d.Scope,
		"created_at":    d.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":    d.ExpiresAt.Format(time.RFC3339Nano),
		"active":        d.Active,
	})
}

func delegationFromDoc(d store.Doc) Delegation {
	return Delegation{
		DelegationID: strOf(d["delegation_id"]),
		Delegator:    strOf(d["delegator"]),
		Delegate:     strOf(d["delegate"]),
		Scope:        strOf(d["scope"]),
		CreatedAt:    parseOptTime(d["created_at"]),
		ExpiresAt:    parseOptTime(d["expires_at"]),
		Active:       boolOf(d["active"]),
	}
}

func strOf(v interface{}) string { s, _ := v.(string); return s }
func boolOf(v interface{}) bool  { b, _ := v.(bool); return b }
func numOf(v interface{}) float64 {
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
