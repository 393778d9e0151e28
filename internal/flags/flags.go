// Package flags implements the Flag Engine: rule evaluation against
// per-node metrics, flag lifecycle and escalation, and summary scoring
// (spec.md §4.5), plus localization of operator-facing flag titles
// (SPEC_FULL.md §2.2).
package flags

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	flagsCollection    = "node_flags"
	eventsCollection   = "flag_events"
	rulesCollection    = "flag_rules"
	summaryCollection  = "node_flag_summaries"
)

// Severity is a flag's severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityWeight = map[Severity]float64{
	SeverityCritical: 10,
	SeverityHigh:     5,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0.1,
}

// Status is a flag's lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusEscalated    Status = "escalated"
	StatusExpired      Status = "expired"
)

// Source names who raised a flag.
type Source string

const (
	SourceSystem     Source = "system"
	SourcePeer       Source = "peer"
	SourceOperator   Source = "operator"
	SourceMonitor    Source = "monitor"
	SourceGovernance Source = "governance"
)

// Operator is a predicate comparison operator.
type Operator string

const (
	OpEq Operator = "eq"
	OpNe Operator = "ne"
	OpLt Operator = "lt"
	OpLe Operator = "le"
	OpGt Operator = "gt"
	OpGe Operator = "ge"
)

// MetricType is the kind of per-node metric a rule condition reads.
type MetricType string

const (
	MetricUptime      MetricType = "uptime"
	MetricWorkCredits MetricType = "work_credits"
	MetricResponseTime MetricType = "response_time"
)

// Condition is the flag-rule predicate language: a tagged variant over
// metric kind × comparison operator, evaluated against a NodeMetrics
// snapshot rather than by reflective introspection.
type Condition struct {
	Type     MetricType
	Operator Operator
	Value    float64
}

// NodeMetrics is the metrics snapshot a Condition evaluates against.
type NodeMetrics struct {
	UptimePercent  float64
	WorkCredits    float64
	ResponseTimeMS float64
}

func (c Condition) metricValue(m NodeMetrics) float64 {
	switch c.Type {
	case MetricUptime:
		return m.UptimePercent
	case MetricWorkCredits:
		return m.WorkCredits
	case MetricResponseTime:
		return m.ResponseTimeMS
	default:
		return 0
	}
}

// Evaluate reports whether the condition holds against m.
func (c Condition) Evaluate(m NodeMetrics) bool {
	v := c.metricValue(m)
	switch c.Operator {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	case OpLt:
		return v < c.Value
	case OpLe:
		return v <= c.Value
	case OpGt:
		return v > c.Value
	case OpGe:
		return v >= c.Value
	default:
		return false
	}
}

// Rule is the Flag Rule entity.
type Rule struct {
	RuleID      string
	Kind        string
	Severity    Severity
	Condition   Condition
	AutoResolve bool
	AutoEscalate bool
	Expiry      time.Duration
	Enabled     bool
}

// Flag is the Flag entity.
type Flag struct {
	FlagID          string
	NodeID          string
	Kind            string
	Severity        Severity
	Status          Status
	Source          Source
	Title           string
	Description     string
	CreatedAt       time.Time
	AcknowledgedAt  time.Time
	ResolvedAt      time.Time
	AcknowledgedBy  string
	ResolvedBy      string
	EscalationCount int
	ExpiresAt       time.Time
}

// VersionInfo is the supplemented OTA Version Record
// (SPEC_FULL.md §3.1).
type VersionInfo struct {
	NodeID            string
	CurrentVersion    string
	AvailableVersion  string
	LastChecked       time.Time
}

// MetricsProvider supplies the current metrics snapshot for a node;
// implemented in practice by adapting internal/peer + internal/overlay
// (see internal/coordinator/adapters.go).
type MetricsProvider interface {
	Metrics(ctx context.Context, nodeID string) (NodeMetrics, error)
	ActiveNodeIDs(ctx context.Context) ([]string, error)
}

// Summary is the per-node flag summary.
type Summary struct {
	NodeID   string
	Counts   map[Severity]int
	Score    float64
}

// Engine is the Flag Engine component.
type Engine struct {
	st       store.Adapter
	metrics  MetricsProvider
	rules    []Rule

	maxFlagsPerNode   int
	escalationHigh    time.Duration // time until "high" escalates to critical when unacknowledged (spec: 30 min)
	escalationMedium  time.Duration // time until escalation to high (spec: 2h)

	localizerBundle *i18n.Bundle
}

// New constructs a Flag Engine with its (initially empty) rule set.
func New(st store.Adapter, metrics MetricsProvider, maxFlagsPerNode int, escalationHigh, escalationMedium time.Duration) *Engine {
	return &Engine{
		st:               st,
		metrics:          metrics,
		maxFlagsPerNode:  maxFlagsPerNode,
		escalationHigh:   escalationHigh,
		escalationMedium: escalationMedium,
		localizerBundle:  newLocalizerBundle(),
	}
}

// AddRule registers a flag rule.
func (e *Engine) AddRule(r Rule) {
	e.rules = append(e.rules, r)
}

func docFromFlag(f Flag) store.Doc {
	return store.Doc{
		"flag_id":          f.FlagID,
		"node_id":          f.NodeID,
		"kind":             f.Kind,
		"severity":         string(f.Severity),
		"status":           string(f.Status),
		"source":           string(f.Source),
		"title":            f.Title,
		"description":      f.Description,
		"created_at":       f.CreatedAt.Format(time.RFC3339Nano),
		"acknowledged_at":  formatOptTime(f.AcknowledgedAt),
		"resolved_at":      formatOptTime(f.ResolvedAt),
		"acknowledged_by":  f.AcknowledgedBy,
		"resolved_by":      f.ResolvedBy,
		"escalation_count": f.EscalationCount,
		"expires_at":       formatOptTime(f.ExpiresAt),
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

func flagFromDoc(d store.Doc) Flag {
	return Flag{
		FlagID:          strOf(d["flag_id"]),
		NodeID:          strOf(d["node_id"]),
		Kind:            strOf(d["kind"]),
		Severity:        Severity(strOf(d["severity"])),
		Status:          Status(strOf(d["status"])),
		Source:          Source(strOf(d["source"])),
		Title:           strOf(d["title"]),
		Description:     strOf(d["description"]),
		CreatedAt:       parseOptTime(d["created_at"]),
		AcknowledgedAt:  parseOptTime(d["acknowledged_at"]),
		ResolvedAt:      parseOptTime(d["resolved_at"]),
		AcknowledgedBy:  strOf(d["acknowledged_by"]),
		ResolvedBy:      strOf(d["resolved_by"]),
		EscalationCount: intOf(d["escalation_count"]),
		ExpiresAt:       parseOptTime(d["expires_at"]),
	}
}

func strOf(v interface{}) string { s, _ := v.(string); return s }
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

// activeFlagExists reports whether node already has an active flag of
// the given kind.
func (e *Engine) activeFlagExists(ctx context.Context, nodeID, kind string) (bool, error) {
	n, err := e.st.Count(ctx, flagsCollection, store.Filter{
		{Field: "node_id", Op: store.OpEq, Value: nodeID},
		{Field: "kind", Op: store.OpEq, Value: kind},
		{Field: "status", Op: store.OpEq, Value: string(StatusActive)},
	})
	if err != nil {
		return false, coreerr.Transient(err, "check existing flag")
	}
	return n > 0, nil
}

// raiseFlag creates a new active flag, enforcing the per-node cap by
// auto-resolving the oldest info/low flags first (as "system") when at
// capacity.
func (e *Engine) raiseFlag(ctx context.Context, nodeID, kind string, severity Severity, source Source, title, description string, expiry time.Duration) error {
	exists, err := e.activeFlagExists(ctx, nodeID, kind)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	count, err := e.st.Count(ctx, flagsCollection, store.Filter{
		{Field: "node_id", Op: store.OpEq, Value: nodeID},
		{Field: "status", Op: store.OpEq, Value: string(StatusActive)},
	})
	if err != nil {
		return coreerr.Transient(err, "count active flags")
	}
	if count >= e.maxFlagsPerNode {
		if err := e.autoResolveOldestLowPriority(ctx, nodeID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	f := Flag{
		FlagID:      uuid.NewString(),
		NodeID:      nodeID,
		Kind:        kind,
		Severity:    severity,
		Status:      StatusActive,
		Source:      source,
		Title:       title,
		Description: description,
		CreatedAt:   now,
	}
	if expiry > 0 {
		f.ExpiresAt = now.Add(expiry)
	}
	return e.st.Upsert(ctx, flagsCollection, f.FlagID, docFromFlag(f))
}

func (e *Engine) autoResolveOldestLowPriority(ctx context.Context, nodeID string) error {
	it, err := e.st.Find(ctx, flagsCollection, store.Filter{
		{Field: "node_id", Op: store.OpEq, Value: nodeID},
		{Field: "status", Op: store.OpEq, Value: string(StatusActive)},
	}, []store.SortField{{Field: "created_at", Desc: false}}, 0)
	if err != nil {
		return coreerr.Transient(err, "scan flags for cap eviction")
	}
	defer it.Close()

	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return coreerr.Transient(err, "iterate flags for cap eviction")
		}
		if !ok {
			break
		}
		f := flagFromDoc(doc)
		if f.Severity == SeverityInfo || f.Severity == SeverityLow {
			f.Status = StatusResolved
			f.ResolvedAt = time.Now().UTC()
			f.ResolvedBy = "system"
			return e.st.Upsert(ctx, flagsCollection, f.FlagID, docFromFlag(f))
		}
	}
	return nil
}

// Acknowledge transitions a flag from active to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, flagID, by string) error {
	doc, ok, err := e.st.FindOne(ctx, flagsCollection, store.Eq("flag_id", flagID))
	if err != nil {
		return coreerr.Transient(err, "load flag %s", flagID)
	}
	if !ok {
		return coreerr.Validation("unknown flag %s", flagID)
	}
	f := flagFromDoc(doc)
	if f.Status != StatusActive {
		return coreerr.Precondition("flag %s is not active (status=%s)", flagID, f.Status)
	}
	f.Status = StatusAcknowledged
	f.AcknowledgedAt = time.Now().UTC()
	f.AcknowledgedBy = by
	return e.st.Upsert(ctx, flagsCollection, f.FlagID, docFromFlag(f))
}

// Resolve transitions a flag from active or acknowledged to resolved
// (terminal).
func (e *Engine) Resolve(ctx context.Context, flagID, by string) error {
	doc, ok, err := e.st.FindOne(ctx, flagsCollection, store.Eq("flag_id", flagID))
	if err != nil {
		return coreerr.Transient(err, "load flag %s", flagID)
	}
	if !ok {
		return coreerr.Validation("unknown flag %s", flagID)
	}
	f := flagFromDoc(doc)
	if f.Status == StatusResolved || f.Status == StatusExpired {
		return coreerr.Precondition("flag %s already terminal (status=%s)", flagID, f.Status)
	}
	f.Status = StatusResolved
	f.ResolvedAt = time.Now().UTC()
	f.ResolvedBy = by
	return e.st.Upsert(ctx, flagsCollection, f.FlagID, docFromFlag(f))
}

// EvaluateRulesOnce iterates active peers and every enabled rule,
// raising flags where a predicate holds and no active flag of that
// kind already exists for the node.
func (e *Engine) EvaluateRulesOnce(ctx context.Context) {
	nodeIDs, err := e.metrics.ActiveNodeIDs(ctx)
	if err != nil {
		log.Printf("flags: list active nodes: %v", err)
		return
	}

	for _, nodeID := range nodeIDs {
		m, err := e.metrics.Metrics(ctx, nodeID)
		if err != nil {
			log.Printf("flags: metrics for %s: %v", nodeID, err)
			continue
		}
		for _, rule := range e.rules {
			if !rule.Enabled {
				continue
			}
			if !rule.Condition.Evaluate(m) {
				continue
			}
			title := rule.Kind
			description := "automatically raised by monitoring rule"
			if err := e.raiseFlag(ctx, nodeID, rule.Kind, rule.Severity, SourceMonitor, title, description, rule.Expiry); err != nil {
				log.Printf("flags: raise %s for %s: %v", rule.Kind, nodeID, err)
			}
		}
	}
}

// EscalateOnce scans active flags and escalates those that have waited
// past the medium (→high) or high (→critical) thresholds unacknowledged.
func (e *Engine) EscalateOnce(ctx context.Context) {
	it, err := e.st.Find(ctx, flagsCollection, store.Eq("status", string(StatusActive)), nil, 0)
	if err != nil {
		log.Printf("flags: escalation scan: %v", err)
		return
	}
	defer it.Close()

	now := time.Now()
	var toEscalate []Flag
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			log.Printf("flags: escalation iterate: %v", err)
			return
		}
		if !ok {
			break
		}
		f := flagFromDoc(doc)
		age := now.Sub(f.CreatedAt)
		switch f.Severity {
		case SeverityHigh:
			if age >= e.escalationHigh {
				f.Severity = SeverityCritical
				f.EscalationCount++
				toEscalate = append(toEscalate, f)
			}
		case SeverityMedium:
			if age >= e.escalationMedium {
				f.Severity = SeverityHigh
				f.EscalationCount++
				toEscalate = append(toEscalate, f)
			}
		}
	}

	for _, f := range toEscalate {
		if err := e.st.Upsert(ctx, flagsCollection, f.FlagID, docFromFlag(f)); err != nil {
			log.Printf("flags: escalate %s: %v", f.FlagID, err)
		}
	}
}

// RunMonitorLoop evaluates rules and escalations on every sync-interval
// tick until ctx is cancelled.
func (e *Engine) RunMonitorLoop(ctx context.Context, syncInterval time.Duration) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateRulesOnce(ctx)
			e.EscalateOnce(ctx)
		}
	}
}

// GetNodeSummary computes the per-node flag summary: counts by
// severity and a weighted score.
func (e *Engine) GetNodeSummary(ctx context.Context, nodeID string) (Summary, error) {
	it, err := e.st.Find(ctx, flagsCollection, store.Filter{
		{Field: "node_id", Op: store.OpEq, Value: nodeID},
		{Field: "status", Op: store.OpEq, Value: string(StatusActive)},
	}, nil, 0)
	if err != nil {
		return Summary{}, coreerr.Transient(err, "scan flags for summary")
	}
	defer it.Close()

	s := Summary{NodeID: nodeID, Counts: make(map[Severity]int)}
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return Summary{}, coreerr.Transient(err, "iterate flags for summary")
		}
		if !ok {
			break
		}
		f := flagFromDoc(doc)
		s.Counts[f.Severity]++
		s.Score += severityWeight[f.Severity]
	}
	return s, nil
}

// NetworkHealth computes network-wide health = 100 − Σ(weight × active
// count), floored at 0.
func (e *Engine) NetworkHealth(ctx context.Context) (float64, error) {
	results, err := e.st.Aggregate(ctx, flagsCollection, []store.Stage{
		{Match: &store.Filter{{Field: "status", Op: store.OpEq, Value: string(StatusActive)}}},
		{Group: &store.GroupStage{
			By:   "severity",
			Aggs: map[string]store.Agg{"count": {Op: store.AggCount}},
		}},
	})
	if err != nil {
		return 0, coreerr.Transient(err, "aggregate flag severities")
	}

	health := 100.0
	for _, row := range results {
		sev := Severity(strOf(row["_id"]))
		count := numOf(row["count"])
		health -= severityWeight[sev] * count
	}
	if health < 0 {
		health = 0
	}
	return health, nil
}

func numOf(v interface{}) float64 {
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

// CheckVersionDrift raises an info-severity flag when a node is more
// than one minor version behind its available version, per the
// supplemented OTA Version Record rule (SPEC_FULL.md §3.1).
func (e *Engine) CheckVersionDrift(ctx context.Context, v VersionInfo) error {
	behind, err := minorVersionsBehind(v.CurrentVersion, v.AvailableVersion)
	if err != nil {
		return nil // malformed version strings are not a flaggable condition
	}
	if behind <= 1 {
		return nil
	}
	return e.raiseFlag(ctx, v.NodeID, "ota-version-drift", SeverityInfo, SourceSystem,
		"Node software is out of date",
		"the node is running a version more than one minor release behind the latest available", 0)
}

// minorVersionsBehind parses "MAJOR.MINOR.PATCH" version strings and
// returns how many minor releases current is behind available within
// the same major version; a major-version mismatch returns 0 (treated
// as out of scope for this rule).
func minorVersionsBehind(current, available string) (int, error) {
	curMajor, curMinor, err := majorMinor(current)
	if err != nil {
		return 0, err
	}
	availMajor, availMinor, err := majorMinor(available)
	if err != nil {
		return 0, err
	}
	if curMajor != availMajor {
		return 0, nil
	}
	return availMinor - curMinor, nil
}

func majorMinor(v string) (int, int, error) {
	var major, minor, patch int
	n, err := fmt.Sscanf(v, "%d.%d.%d", &major, &minor, &patch)
	if err != nil || n < 2 {
		return 0, 0, fmt.Errorf("malformed version %q", v)
	}
	return major, minor, nil
}

func newLocalizerBundle() *i18n.Bundle {
	bundle := i18n.NewBundle(language.English)
	bundle.AddMessages(language.English,
		&i18n.Message{ID: "flag.ota-version-drift.title", Other: "Node software is out of date"},
		&i18n.Message{ID: "flag.response_time.title", Other: "Node response time is degraded"},
		&i18n.Message{ID: "flag.uptime.title", Other: "Node uptime has dropped"},
		&i18n.Message{ID: "flag.work_credits.title", Other: "Node work credits are low"},
	)
	bundle.AddMessages(language.Spanish,
		&i18n.Message{ID: "flag.ota-version-drift.title", Other: "El software del nodo está desactualizado"},
		&i18n.Message{ID: "flag.response_time.title", Other: "El tiempo de respuesta del nodo se ha degradado"},
		&i18n.Message{ID: "flag.uptime.title", Other: "El tiempo de actividad del nodo ha caído"},
		&i18n.Message{ID: "flag.work_credits.title", Other: "Los créditos de trabajo del nodo son bajos"},
	)
	return bundle
}

// LocalizeTitle renders a flag's title in the requested language,
// falling back to the flag's stored title when no catalog entry exists
// for its kind.
func (e *Engine) LocalizeTitle(f Flag, lang string) string {
	localizer := i18n.NewLocalizer(e.localizerBundle, lang, language.English.String())
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: "flag." + f.Kind + ".title"})
	if err != nil {
		return f.Title
	}
	return msg
}
