// Package credits implements the Work Credits Engine: slot/epoch
// arithmetic, proof submission, sliding-window credit calculation, and
// rank tallies (spec.md §4.3).
package credits

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/sigverify"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	proofsCollection = "task_proofs"
	tallyCollection  = "work_tally"
	daysPerEpoch     = 30
)

// TaskKind is the kind of work a proof attests to.
type TaskKind string

const (
	TaskRelayBandwidth TaskKind = "relay-bandwidth"
	TaskStorageProof   TaskKind = "storage-proof"
	TaskValidationSig  TaskKind = "validation-sig"
	TaskUptimeBeacon   TaskKind = "uptime-beacon"
)

// taskWeights are the fixed per-kind weights from spec.md §4.3.
var taskWeights = map[TaskKind]float64{
	TaskRelayBandwidth: 1.0,
	TaskStorageProof:   0.5,
	TaskValidationSig:  0.3,
	TaskUptimeBeacon:   0.1,
}

// expectedBeaconRatePerDay, multiplied by the window's days, is the
// denominator for live-score: a fixed 720 beacons a day (one per 120s),
// independent of the configured slot duration.
const expectedBeaconRatePerDay = 720.0 // one per 120s slot, nominal

// WorkProof is the Work Proof entity (spec.md §3).
type WorkProof struct {
	NodeID    string
	PoolID    string
	Slot      int64
	TaskKind  TaskKind
	Value     float64
	Signature []byte
	Timestamp time.Time
}

// WorkTally is the Work Tally entity.
type WorkTally struct {
	EntityID        string
	Epoch           int64
	Credits         float64
	LiveScore       float64
	Rank            int
	LastSelectedSlot int64
}

// Engine is the Work Credits Engine component.
type Engine struct {
	st       store.Adapter
	verifier sigverify.Verifier

	epochZero    time.Time
	slotDuration time.Duration
	windowDays   int
}

// New constructs a Work Credits Engine.
func New(st store.Adapter, verifier sigverify.Verifier, epochZero time.Time, slotDuration time.Duration, windowDays int) *Engine {
	return &Engine{st: st, verifier: verifier, epochZero: epochZero, slotDuration: slotDuration, windowDays: windowDays}
}

// SlotFor computes the slot number for an instant.
func (e *Engine) SlotFor(t time.Time) int64 {
	return int64(math.Floor(t.Sub(e.epochZero).Seconds() / e.slotDuration.Seconds()))
}

// EpochFor computes the monthly epoch number for an instant.
func (e *Engine) EpochFor(t time.Time) int64 {
	daysSince := t.Sub(e.epochZero).Hours() / 24
	return int64(math.Floor(daysSince / daysPerEpoch))
}

func proofKey(nodeID string, slot int64, kind TaskKind) string {
	return nodeID + "/" + string(kind) + "/" + itoa(slot)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func docFromProof(p WorkProof) store.Doc {
	return store.Doc{
		"node_id":   p.NodeID,
		"pool_id":   p.PoolID,
		"slot":      p.Slot,
		"task_kind": string(p.TaskKind),
		"value":     p.Value,
		"signature": p.Signature,
		"timestamp": p.Timestamp.Format(time.RFC3339Nano),
	}
}

func proofFromDoc(d store.Doc) WorkProof {
	p := WorkProof{
		NodeID:   stringOf(d["node_id"]),
		PoolID:   stringOf(d["pool_id"]),
		TaskKind: TaskKind(stringOf(d["task_kind"])),
		Value:    floatOf(d["value"]),
	}
	p.Slot = int64(floatOf(d["slot"]))
	if ts, ok := d["timestamp"].(string); ok {
		t, _ := time.Parse(time.RFC3339Nano, ts)
		p.Timestamp = t
	}
	return p
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func floatOf(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// SubmitWorkProof validates and persists a work proof. Duplicate
// submissions for the same (node-id, slot, task-kind) leave the
// original unchanged and return a Validation error (invariant 1).
func (e *Engine) SubmitWorkProof(ctx context.Context, p WorkProof) error {
	if p.NodeID == "" {
		return coreerr.Validation("work proof node-id is required")
	}
	if p.Value < 0 {
		return coreerr.Validation("work proof value must be non-negative")
	}
	if _, known := taskWeights[p.TaskKind]; !known {
		return coreerr.Validation("unknown task kind %q", p.TaskKind)
	}
	if e.verifier != nil {
		canonical := []byte(p.NodeID + "|" + itoa(p.Slot) + "|" + string(p.TaskKind))
		ok, err := e.verifier.Verify(p.NodeID, canonical, p.Signature)
		if err != nil {
			return coreerr.Transient(err, "verify work proof signature")
		}
		if !ok {
			return coreerr.Integrity("work proof signature invalid for node %s", p.NodeID)
		}
	}

	key := proofKey(p.NodeID, p.Slot, p.TaskKind)
	existing, found, err := e.st.FindOne(ctx, proofsCollection, store.Eq("_key", key))
	if err != nil {
		return coreerr.Transient(err, "check duplicate work proof")
	}
	if found {
		_ = existing
		return coreerr.Validation("duplicate work proof for node=%s slot=%d kind=%s", p.NodeID, p.Slot, p.TaskKind)
	}

	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	doc := docFromProof(p)
	doc["_key"] = key
	return e.st.Upsert(ctx, proofsCollection, key, doc)
}

// entityWeight returns the weighted value contribution of one proof.
func entityWeight(p WorkProof) float64 {
	return p.Value * taskWeights[p.TaskKind]
}

// entityIDFor returns the ranking subject for a proof: its pool-id if
// present, otherwise its node-id.
func entityIDFor(p WorkProof) string {
	if p.PoolID != "" {
		return p.PoolID
	}
	return p.NodeID
}

// CalculateWorkCredits sums value×weight for every proof attributed to
// entityID within the trailing window-days.
func (e *Engine) CalculateWorkCredits(ctx context.Context, entityID string, windowDays int) (float64, error) {
	proofs, err := e.scanAllProofs(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	var total float64
	for _, p := range proofs {
		if entityIDFor(p) != entityID {
			continue
		}
		if p.Timestamp.Before(cutoff) {
			continue
		}
		total += entityWeight(p)
	}
	return total, nil
}

func (e *Engine) scanAllProofs(ctx context.Context) ([]WorkProof, error) {
	it, err := e.st.Find(ctx, proofsCollection, nil, nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan work proofs")
	}
	defer it.Close()

	var out []WorkProof
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate work proofs")
		}
		if !ok {
			break
		}
		out = append(out, proofFromDoc(doc))
	}
	return out, nil
}

type entityAccum struct {
	entityID      string
	credits       float64
	beaconCount   int
	lastSlot      int64
}

// UpdateWorkTally recomputes and upserts one tally row per entity that
// appears in any proof, for the given epoch. Ranks are dense
// (invariant 2), broken by (credits desc, live-score desc, entity-id
// asc) as required by S1.
func (e *Engine) UpdateWorkTally(ctx context.Context, epoch int64, windowDays int) error {
	proofs, err := e.scanAllProofs(ctx)
	if err != nil {
		return err
	}

	accum := make(map[string]*entityAccum)
	cutoff := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	for _, p := range proofs {
		id := entityIDFor(p)
		a, ok := accum[id]
		if !ok {
			a = &entityAccum{entityID: id}
			accum[id] = a
		}
		if p.Slot > a.lastSlot {
			a.lastSlot = p.Slot
		}
		if p.Timestamp.Before(cutoff) {
			continue
		}
		a.credits += entityWeight(p)
		if p.TaskKind == TaskUptimeBeacon {
			a.beaconCount++
		}
	}

	tallies := make([]WorkTally, 0, len(accum))
	expectedBeacons := expectedBeaconRatePerDay * float64(windowDays)
	for id, a := range accum {
		liveScore := 0.0
		if expectedBeacons > 0 {
			liveScore = float64(a.beaconCount) / expectedBeacons
		}
		if liveScore > 1 {
			liveScore = 1
		}
		if liveScore < 0 {
			liveScore = 0
		}
		tallies = append(tallies, WorkTally{
			EntityID:         id,
			Epoch:            epoch,
			Credits:          a.credits,
			LiveScore:        liveScore,
			LastSelectedSlot: a.lastSlot,
		})
	}

	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].Credits != tallies[j].Credits {
			return tallies[i].Credits > tallies[j].Credits
		}
		if tallies[i].LiveScore != tallies[j].LiveScore {
			return tallies[i].LiveScore > tallies[j].LiveScore
		}
		return tallies[i].EntityID < tallies[j].EntityID
	})

	for i := range tallies {
		tallies[i].Rank = i + 1
		key := tallyKey(tallies[i].EntityID, epoch)
		doc := store.Doc{
			"entity_id":          tallies[i].EntityID,
			"epoch":              epoch,
			"credits":            tallies[i].Credits,
			"live_score":         tallies[i].LiveScore,
			"rank":               tallies[i].Rank,
			"last_selected_slot": tallies[i].LastSelectedSlot,
		}
		if err := e.st.Upsert(ctx, tallyCollection, key, doc); err != nil {
			return coreerr.Transient(err, "upsert work tally for %s", tallies[i].EntityID)
		}
	}
	return nil
}

func tallyKey(entityID string, epoch int64) string {
	return entityID + "/" + itoa(epoch)
}

// GetTopEntities returns the highest-ranked entities for an epoch, up
// to limit.
func (e *Engine) GetTopEntities(ctx context.Context, epoch int64, limit int) ([]WorkTally, error) {
	it, err := e.st.Find(ctx, tallyCollection, store.Eq("epoch", epoch),
		[]store.SortField{{Field: "rank", Desc: false}}, limit)
	if err != nil {
		return nil, coreerr.Transient(err, "query top entities")
	}
	defer it.Close()

	var out []WorkTally
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate top entities")
		}
		if !ok {
			break
		}
		out = append(out, tallyFromDoc(doc))
	}
	return out, nil
}

// GetEntityRank returns the tally row for one entity/epoch, if present.
func (e *Engine) GetEntityRank(ctx context.Context, entityID string, epoch int64) (WorkTally, bool, error) {
	doc, ok, err := e.st.FindOne(ctx, tallyCollection, store.Filter{
		{Field: "entity_id", Op: store.OpEq, Value: entityID},
		{Field: "epoch", Op: store.OpEq, Value: epoch},
	})
	if err != nil {
		return WorkTally{}, false, coreerr.Transient(err, "get entity rank")
	}
	if !ok {
		return WorkTally{}, false, nil
	}
	return tallyFromDoc(doc), true, nil
}

func tallyFromDoc(d store.Doc) WorkTally {
	return WorkTally{
		EntityID:         stringOf(d["entity_id"]),
		Epoch:            int64(floatOf(d["epoch"])),
		Credits:          floatOf(d["credits"]),
		LiveScore:        floatOf(d["live_score"]),
		Rank:             int(floatOf(d["rank"])),
		LastSelectedSlot: int64(floatOf(d["last_selected_slot"])),
	}
}
