// Package sync implements the Operator Sync Engine: operator
// registry, heartbeat/liveness, an operation queue, conflict
// detection/resolution, deterministic leader election, and
// checkpoint/rollback (spec.md §4.11).
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	operatorsCollection   = "operators"
	operationsCollection  = "sync_operations"
	checkpointsCollection = "state_checkpoints"
	conflictsCollection   = "sync_conflicts"
	metricsCollection     = "operator_metrics"
	immediatePriority     = 4
	rollbackPriority      = 5
)

// Role is an operator's role in the coordination plane.
type Role string

const (
	RolePrimary     Role = "primary"
	RoleSecondary   Role = "secondary"
	RoleBackup      Role = "backup"
	RoleWitness     Role = "witness"
	RoleCoordinator Role = "coordinator"
)

// SyncStatus is an operator's replication liveness state.
type SyncStatus string

const (
	StatusInSync  SyncStatus = "in-sync"
	StatusSyncing SyncStatus = "syncing"
	StatusOffline SyncStatus = "offline"
)

// OpKind is a SyncOperation's kind.
type OpKind string

const (
	OpStateUpdate  OpKind = "state-update"
	OpTransaction  OpKind = "transaction"
	OpConfig       OpKind = "configuration"
	OpMaintenance  OpKind = "maintenance"
	OpEmergency    OpKind = "emergency"
	OpCheckpoint   OpKind = "checkpoint"
)

// EmergencySubkind distinguishes the two emergency operation forms.
type EmergencySubkind string

const (
	EmergencyFailover EmergencySubkind = "failover"
	EmergencyRollback EmergencySubkind = "rollback"
)

// OpStatus is a SyncOperation's lifecycle status.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpExecuting OpStatus = "executing"
	OpCompleted OpStatus = "completed"
	OpFailed    OpStatus = "failed"
)

// ConflictKind is the kind of a reported conflict.
type ConflictKind string

const (
	ConflictStateDivergence  ConflictKind = "state-divergence"
	ConflictOperation        ConflictKind = "operation-conflict"
	ConflictTimestamp        ConflictKind = "timestamp-conflict"
	ConflictVersion          ConflictKind = "version-conflict"
	ConflictLeadership       ConflictKind = "leadership-conflict"
)

var reservedPayloadKeys = map[string]bool{
	"op_id": true, "initiator": true, "kind": true, "priority": true,
}

// Operator is the Operator entity.
type Operator struct {
	OperatorID    string
	NodeID        string
	Role          Role
	Endpoint      string
	PublicKey     string
	SyncStatus    SyncStatus
	LastHeartbeat time.Time
	Capabilities  []string
}

// Operation is the Sync Operation entity.
type Operation struct {
	OpID            string
	Initiator       string
	Kind            OpKind
	Subkind         EmergencySubkind
	Payload         map[string]interface{}
	TargetOperators []string
	Priority        int
	Status          OpStatus
	RetryCount      int
	CreatedAt       time.Time
}

// Checkpoint is the State Checkpoint entity.
type Checkpoint struct {
	CheckpointID string
	OperatorID   string
	StateHash    string
	StateData    map[string]interface{}
	Version      int
	CreatedAt    time.Time
}

// Conflict is a logged conflict awaiting or past auto-resolution.
type Conflict struct {
	ConflictID string
	Kind       ConflictKind
	Involved   []string
	Data       map[string]interface{}
	Resolved   bool
	Resolution string
	CreatedAt  time.Time
}

// Metrics is an operator's rolling OperatorMetrics.
type Metrics struct {
	OperatorID         string
	TotalOperations    int
	SuccessfulOps      int
	FailedOps          int
	AvgResponseTimeMS  float64
	UptimePercent      float64
}

// State holds the operator's live replicated key/value state, plus a
// monotone version bumped on every applied state-update.
type State struct {
	Version int
	Data    map[string]interface{}
}

// Engine is the Operator Sync Engine.
type Engine struct {
	st              store.Adapter
	selfOperatorID  string
	heartbeatWindow time.Duration
	offlineTimeout  time.Duration
	batchSize       int
	maxRetries      int

	healthSrv *health.Server
	state     State
}

// New constructs an Operator Sync Engine. healthSrv may be nil in
// tests where the gRPC health service is not exercised.
func New(st store.Adapter, selfOperatorID string, heartbeatWindow, offlineTimeout time.Duration, batchSize, maxRetries int, healthSrv *health.Server) *Engine {
	return &Engine{
		st:              st,
		selfOperatorID:  selfOperatorID,
		heartbeatWindow: heartbeatWindow,
		offlineTimeout:  offlineTimeout,
		batchSize:       batchSize,
		maxRetries:      maxRetries,
		healthSrv:       healthSrv,
		state:           State{Data: map[string]interface{}{}},
	}
}

// RegisterOperator upserts an operator's registry entry.
func (e *Engine) RegisterOperator(ctx context.Context, op Operator) error {
	op.LastHeartbeat = time.Now().UTC()
	if op.SyncStatus == "" {
		op.SyncStatus = StatusSyncing
	}
	return e.saveOperator(ctx, op)
}

// --- Heartbeat (spec.md §4.11) ---

// Heartbeat marks the named operator in-sync with a fresh
// last-heartbeat timestamp; the operator must already be registered.
func (e *Engine) Heartbeat(ctx context.Context, operatorID string) error {
	op, ok, err := e.getOperator(ctx, operatorID)
	if err != nil {
		return err
	}
	if !ok {
		return coreerr.Validation("unknown operator %s", operatorID)
	}
	op.SyncStatus = StatusInSync
	op.LastHeartbeat = time.Now().UTC()
	if err := e.saveOperator(ctx, op); err != nil {
		return err
	}
	if e.healthSrv != nil {
		e.healthSrv.SetServingStatus(operatorID, healthpb.HealthCheckResponse_SERVING)
	}
	return nil
}

// RunHeartbeatSweepLoop marks any operator whose last heartbeat is
// older than offlineTimeout as offline, on every tick.
func (e *Engine) RunHeartbeatSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeatSweepOnce(ctx)
		}
	}
}

func (e *Engine) heartbeatSweepOnce(ctx context.Context) {
	ops, err := e.allOperators(ctx)
	if err != nil {
		log.Printf("sync: scan operators for heartbeat sweep: %v", err)
		return
	}
	now := time.Now()
	for _, op := range ops {
		if op.SyncStatus == StatusOffline {
			continue
		}
		if now.Sub(op.LastHeartbeat) > e.offlineTimeout {
			op.SyncStatus = StatusOffline
			if err := e.saveOperator(ctx, op); err != nil {
				log.Printf("sync: mark operator %s offline: %v", op.OperatorID, err)
				continue
			}
			if e.healthSrv != nil {
				e.healthSrv.SetServingStatus(op.OperatorID, healthpb.HealthCheckResponse_NOT_SERVING)
			}
		}
	}
}

// --- Operation queue (spec.md §4.11) ---

// SubmitOperation enqueues a SyncOperation; priority >= 4 is executed
// immediately rather than waiting for the next batch tick.
func (e *Engine) SubmitOperation(ctx context.Context, initiator string, kind OpKind, subkind EmergencySubkind, payload map[string]interface{}, targets []string, priority int) (Operation, error) {
	if priority < 1 || priority > 5 {
		return Operation{}, coreerr.Validation("priority must be in [1,5], got %d", priority)
	}
	op := Operation{
		OpID:            uuid.NewString(),
		Initiator:       initiator,
		Kind:            kind,
		Subkind:         subkind,
		Payload:         payload,
		TargetOperators: targets,
		Priority:        priority,
		Status:          OpPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.saveOperation(ctx, op); err != nil {
		return Operation{}, err
	}
	if priority >= immediatePriority {
		if err := e.executeOperation(ctx, &op); err != nil {
			return op, err
		}
	}
	return op, nil
}

// RunOperationQueueLoop executes pending operations in batches of up
// to batchSize, ordered by descending priority, on every tick.
func (e *Engine) RunOperationQueueLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.operationQueueOnce(ctx)
		}
	}
}

func (e *Engine) operationQueueOnce(ctx context.Context) {
	ops, err := e.pendingOperationsByPriority(ctx, e.batchSize)
	if err != nil {
		log.Printf("sync: scan pending operations: %v", err)
		return
	}
	for _, op := range ops {
		if err := e.executeOperation(ctx, &op); err != nil {
			log.Printf("sync: execute operation %s: %v", op.OpID, err)
		}
	}
}

func (e *Engine) executeOperation(ctx context.Context, op *Operation) error {
	op.Status = OpExecuting
	if err := e.saveOperation(ctx, *op); err != nil {
		return err
	}

	var execErr error
	switch op.Kind {
	case OpStateUpdate:
		execErr = e.applyStateUpdate(op.Payload)
	case OpConfig:
		execErr = e.applyConfiguration(op.Payload)
	case OpCheckpoint:
		_, execErr = e.CreateCheckpoint(ctx, op.Initiator, op.Payload)
	case OpEmergency:
		execErr = e.applyEmergency(ctx, op)
	case OpTransaction, OpMaintenance:
		// No core side-effect beyond logging the op; transport/maintenance
		// semantics are a collaborator's concern (spec.md §4.11).
	default:
		execErr = coreerr.Validation("unknown operation kind %q", op.Kind)
	}

	if execErr != nil {
		op.RetryCount++
		if op.RetryCount >= e.maxRetries {
			op.Status = OpFailed
		} else {
			op.Status = OpPending
		}
		_ = e.saveOperation(ctx, *op)
		return execErr
	}
	op.Status = OpCompleted
	return e.saveOperation(ctx, *op)
}

func (e *Engine) applyStateUpdate(payload map[string]interface{}) error {
	if len(payload) == 0 {
		return coreerr.Validation("state-update payload must not be empty")
	}
	for k := range payload {
		if reservedPayloadKeys[k] {
			return coreerr.Validation("state-update payload may not set reserved key %q", k)
		}
	}
	for k, v := range payload {
		e.state.Data[k] = v
	}
	e.state.Version++
	return nil
}

func (e *Engine) applyConfiguration(payload map[string]interface{}) error {
	for k, v := range payload {
		e.state.Data[k] = v
	}
	return nil
}

func (e *Engine) applyEmergency(ctx context.Context, op *Operation) error {
	switch op.Subkind {
	case EmergencyRollback:
		return e.applyRollback(ctx)
	case EmergencyFailover:
		_, err := e.ElectLeader(ctx)
		return err
	default:
		return coreerr.Validation("unknown emergency subkind %q", op.Subkind)
	}
}

// --- Conflict log (spec.md §4.11) ---

// ReportConflict logs a conflict and attempts automatic resolution
// based on kind.
func (e *Engine) ReportConflict(ctx context.Context, kind ConflictKind, involved []string, data map[string]interface{}) (Conflict, error) {
	c := Conflict{
		ConflictID: uuid.NewString(),
		Kind:       kind,
		Involved:   involved,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.resolveConflict(ctx, &c); err != nil {
		return Conflict{}, err
	}
	if err := e.saveConflict(ctx, c); err != nil {
		return Conflict{}, err
	}
	return c, nil
}

func (e *Engine) resolveConflict(ctx context.Context, c *Conflict) error {
	switch c.Kind {
	case ConflictStateDivergence:
		c.Resolved = true
		c.Resolution = "latest-timestamp"
	case ConflictOperation:
		c.Resolved = true
		c.Resolution = "priority-based"
	case ConflictVersion:
		c.Resolved = true
		c.Resolution = "highest-version"
	case ConflictLeadership:
		if _, err := e.ElectLeader(ctx); err != nil {
			return err
		}
		c.Resolved = true
		c.Resolution = "leader-election-triggered"
	case ConflictTimestamp:
		// No automatic resolution defined for this kind; left for
		// operator review.
	default:
		return coreerr.Validation("unknown conflict kind %q", c.Kind)
	}
	return nil
}

// --- Leader election (spec.md §4.11) ---

// ElectLeader deterministically chooses the lexicographically
// smallest eligible operator-id among {in-sync, syncing} operators
// with role in {primary, secondary}, promotes it to primary, and
// demotes the previous primary.
func (e *Engine) ElectLeader(ctx context.Context) (string, error) {
	ops, err := e.allOperators(ctx)
	if err != nil {
		return "", err
	}
	var eligible []Operator
	for _, op := range ops {
		if (op.SyncStatus == StatusInSync || op.SyncStatus == StatusSyncing) &&
			(op.Role == RolePrimary || op.Role == RoleSecondary) {
			eligible = append(eligible, op)
		}
	}
	if len(eligible) == 0 {
		return "", coreerr.Precondition("no eligible operators for leader election")
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].OperatorID < eligible[j].OperatorID })
	winner := eligible[0].OperatorID

	for _, op := range ops {
		switch {
		case op.OperatorID == winner:
			op.Role = RolePrimary
		case op.Role == RolePrimary:
			op.Role = RoleSecondary
		default:
			continue
		}
		if err := e.saveOperator(ctx, op); err != nil {
			return "", err
		}
	}
	return winner, nil
}

// --- Checkpoints (spec.md §4.11) ---

// CreateCheckpoint computes a canonical-JSON SHA-256 hash over state
// (keys sorted) and persists {version, hash, state}, bumping version.
func (e *Engine) CreateCheckpoint(ctx context.Context, operatorID string, state map[string]interface{}) (Checkpoint, error) {
	hash, err := canonicalHash(state)
	if err != nil {
		return Checkpoint{}, coreerr.Validation("hash checkpoint state: %v", err)
	}
	latest, _ := e.latestCheckpoint(ctx, operatorID)
	cp := Checkpoint{
		CheckpointID: uuid.NewString(),
		OperatorID:   operatorID,
		StateHash:    hash,
		StateData:    state,
		Version:      latest.Version + 1,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.saveCheckpoint(ctx, cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// Rollback returns the checkpoint preceding the operator's latest one
// and broadcasts a priority-5 emergency rollback operation naming its
// version. It does not restore that checkpoint's state into the
// engine's live state, and it does not change any stored version.
func (e *Engine) Rollback(ctx context.Context, operatorID, initiator string) (Checkpoint, error) {
	checkpoints, err := e.checkpointsFor(ctx, operatorID)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(checkpoints) < 2 {
		return Checkpoint{}, coreerr.Precondition("no prior checkpoint to roll back to for operator %s", operatorID)
	}
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i].Version > checkpoints[j].Version })
	prior := checkpoints[1]

	if _, err := e.SubmitOperation(ctx, initiator, OpEmergency, EmergencyRollback,
		map[string]interface{}{"operator_id": operatorID, "target_version": prior.Version}, nil, rollbackPriority); err != nil {
		return Checkpoint{}, err
	}
	return prior, nil
}

func (e *Engine) applyRollback(ctx context.Context) error {
	// Applying a rollback op leaves the live in-memory state as it is;
	// the checkpoint record itself stays durable in the store.
	return nil
}

func canonicalHash(state map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, state[k])
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// --- Metrics ---

// RecordOperationOutcome updates an operator's rolling OperatorMetrics
// after one operation attempt.
func (e *Engine) RecordOperationOutcome(ctx context.Context, operatorID string, success bool, responseTimeMS float64) error {
	m, err := e.getMetrics(ctx, operatorID)
	if err != nil {
		return err
	}
	m.TotalOperations++
	if success {
		m.SuccessfulOps++
	} else {
		m.FailedOps++
	}
	const alpha = 0.2
	if m.TotalOperations == 1 {
		m.AvgResponseTimeMS = responseTimeMS
	} else {
		m.AvgResponseTimeMS = alpha*responseTimeMS + (1-alpha)*m.AvgResponseTimeMS
	}
	if m.TotalOperations > 0 {
		m.UptimePercent = 100 * float64(m.SuccessfulOps) / float64(m.TotalOperations)
	}
	return e.saveMetrics(ctx, m)
}

// --- store helpers ---

func (e *Engine) getOperator(ctx context.Context, operatorID string) (Operator, bool, error) {
	doc, ok, err := e.st.FindOne(ctx, operatorsCollection, store.Eq("operator_id", operatorID))
	if err != nil {
		return Operator{}, false, coreerr.Transient(err, "load operator %s", operatorID)
	}
	if !ok {
		return Operator{}, false, nil
	}
	return operatorFromDoc(doc), true, nil
}

func (e *Engine) saveOperator(ctx context.Context, op Operator) error {
	return e.st.Upsert(ctx, operatorsCollection, op.OperatorID, docFromOperator(op))
}

func (e *Engine) allOperators(ctx context.Context) ([]Operator, error) {
	it, err := e.st.Find(ctx, operatorsCollection, nil, nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan operators")
	}
	defer it.Close()

	var out []Operator
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate operators")
		}
		if !ok {
			break
		}
		out = append(out, operatorFromDoc(doc))
	}
	return out, nil
}

func (e *Engine) saveOperation(ctx context.Context, op Operation) error {
	return e.st.Upsert(ctx, operationsCollection, op.OpID, docFromOperation(op))
}

func (e *Engine) pendingOperationsByPriority(ctx context.Context, limit int) ([]Operation, error) {
	it, err := e.st.Find(ctx, operationsCollection, store.Eq("status", string(OpPending)),
		[]store.SortField{{Field: "priority", Desc: true}}, limit)
	if err != nil {
		return nil, coreerr.Transient(err, "scan pending operations")
	}
	defer it.Close()

	var out []Operation
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate pending operations")
		}
		if !ok {
			break
		}
		out = append(out, operationFromDoc(doc))
	}
	return out, nil
}

func (e *Engine) saveConflict(ctx context.Context, c Conflict) error {
	return e.st.Upsert(ctx, conflictsCollection, c.ConflictID, store.Doc{
		"conflict_id": c.ConflictID,
		"kind":        string(c.Kind),
		"involved":    toInterfaceSlice(c.Involved),
		"data":        c.Data,
		"resolved":    c.Resolved,
		"resolution":  c.Resolution,
		"created_at":  c.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (e *Engine) saveCheckpoint(ctx context.Context, cp Checkpoint) error {
	return e.st.Upsert(ctx, checkpointsCollection, cp.CheckpointID, store.Doc{
		"checkpoint_id": cp.CheckpointID,
		"operator_id":   cp.OperatorID,
		"state_hash":    cp.StateHash,
		"state_data":    cp.StateData,
		"version":       cp.Version,
		"created_at":    cp.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (e *Engine) latestCheckpoint(ctx context.Context, operatorID string) (Checkpoint, error) {
	checkpoints, err := e.checkpointsFor(ctx, operatorID)
	if err != nil || len(checkpoints) == 0 {
		return Checkpoint{}, err
	}
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i].Version > checkpoints[j].Version })
	return checkpoints[0], nil
}

func (e *Engine) checkpointsFor(ctx context.Context, operatorID string) ([]Checkpoint, error) {
	it, err := e.st.Find(ctx, checkpointsCollection, store.Eq("operator_id", operatorID), nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan checkpoints for %s", operatorID)
	}
	defer it.Close()

	var out []Checkpoint
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate checkpoints")
		}
		if !ok {
			break
		}
		out = append(out, checkpointFromDoc(doc))
	}
	return out, nil
}

func (e *Engine) getMetrics(ctx context.Context, operatorID string) (Metrics, error) {
	doc, ok, err := e.st.FindOne(ctx, metricsCollection, store.Eq("operator_id", operatorID))
	if err != nil {
		return Metrics{}, coreerr.Transient(err, "load metrics for %s", operatorID)
	}
	if !ok {
		return Metrics{OperatorID: operatorID}, nil
	}
	return metricsFromDoc(doc), nil
}

func (e *Engine) saveMetrics(ctx context.Context, m Metrics) error {
	return e.st.Upsert(ctx, metricsCollection, m.OperatorID, store.Doc{
		"operator_id":          m.OperatorID,
		"total_operations":     m.TotalOperations,
		"successful_ops":       m.SuccessfulOps,
		"failed_ops":           m.FailedOps,
		"avg_response_time_ms": m.AvgResponseTimeMS,
		"uptime_percent":       m.UptimePercent,
	})
}

func docFromOperator(op Operator) store.Doc {
	return store.Doc{
		"operator_id":    op.OperatorID,
		"node_id":        op.NodeID,
		"role":           string(op.Role),
		"endpoint":       op.Endpoint,
		"public_key":     op.PublicKey,
		"sync_status":    string(op.SyncStatus),
		"last_heartbeat": op.LastHeartbeat.Format(time.RFC3339Nano),
		"capabilities":   toInterfaceSlice(op.Capabilities),
	}
}

func operatorFromDoc(d store.Doc) Operator {
	return Operator{
		OperatorID:    strOf(d["operator_id"]),
		NodeID:        strOf(d["node_id"]),
		Role:          Role(strOf(d["role"])),
		Endpoint:      strOf(d["endpoint"]),
		PublicKey:     strOf(d["public_key"]),
		SyncStatus:    SyncStatus(strOf(d["sync_status"])),
		LastHeartbeat: parseOptTime(d["last_heartbeat"]),
		Capabilities:  strSliceOf(d["capabilities"]),
	}
}

func docFromOperation(op Operation) store.Doc {
	return store.Doc{
		"op_id":            op.OpID,
		"initiator":        op.Initiator,
		"kind":             string(op.Kind),
		"subkind":          string(op.Subkind),
		"payload":          map[string]interface{}(op.Payload),
		"target_operators": toInterfaceSlice(op.TargetOperators),
		"priority":         op.Priority,
		"status":           string(op.Status),
		"retry_count":      op.RetryCount,
		"created_at":       op.CreatedAt.Format(time.RFC3339Nano),
	}
}

func operationFromDoc(d store.Doc) Operation {
	payload, _ := d["payload"].(map[string]interface{})
	return Operation{
		OpID:            strOf(d["op_id"]),
		Initiator:       strOf(d["initiator"]),
		Kind:            OpKind(strOf(d["kind"])),
		Subkind:         EmergencySubkind(strOf(d["subkind"])),
		Payload:         payload,
		TargetOperators: strSliceOf(d["target_operators"]),
		Priority:        int(floatOf(d["priority"])),
		Status:          OpStatus(strOf(d["status"])),
		RetryCount:      int(floatOf(d["retry_count"])),
		CreatedAt:       parseOptTime(d["created_at"]),
	}
}

func checkpointFromDoc(d store.Doc) Checkpoint {
	data, _ := d["state_data"].(map[string]interface{})
	return Checkpoint{
		CheckpointID: strOf(d["checkpoint_id"]),
		OperatorID:   strOf(d["operator_id"]),
		StateHash:    strOf(d["state_hash"]),
		StateData:    data,
		Version:      int(floatOf(d["version"])),
		CreatedAt:    parseOptTime(d["created_at"]),
	}
}

func metricsFromDoc(d store.Doc) Metrics {
	return Metrics{
		OperatorID:        strOf(d["operator_id"]),
		TotalOperations:   int(floatOf(d["total_operations"])),
		SuccessfulOps:     int(floatOf(d["successful_ops"])),
		FailedOps:         int(floatOf(d["failed_ops"])),
		AvgResponseTimeMS: floatOf(d["avg_response_time_ms"]),
		UptimePercent:     floatOf(d["uptime_percent"]),
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func strSliceOf(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
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
func parseOptTime(v interface{}) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
