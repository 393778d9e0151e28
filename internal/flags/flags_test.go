package flags

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
)

type fakeMetrics struct {
	metrics map[string]NodeMetrics
}

func (f *fakeMetrics) Metrics(_ context.Context, nodeID string) (NodeMetrics, error) {
	return f.metrics[nodeID], nil
}

func (f *fakeMetrics) ActiveNodeIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.metrics))
	for id := range f.metrics {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestConditionEvaluate(t *testing.T) {
	c := Condition{Type: MetricUptime, Operator: OpLt, Value: 90}
	assert.True(t, c.Evaluate(NodeMetrics{UptimePercent: 80}))
	assert.False(t, c.Evaluate(NodeMetrics{UptimePercent: 95}))
}

func TestEvaluateRulesRaisesFlagOncePerKind(t *testing.T) {
	fm := &fakeMetrics{metrics: map[string]NodeMetrics{"n1": {UptimePercent: 50}}}
	e := New(store.NewMemory(), fm, 100, 30*time.Minute, 2*time.Hour)
	e.AddRule(Rule{RuleID: "r1", Kind: "low-uptime", Severity: SeverityHigh, Condition: Condition{Type: MetricUptime, Operator: OpLt, Value: 90}, Enabled: true})

	ctx := context.Background()
	e.EvaluateRulesOnce(ctx)
	e.EvaluateRulesOnce(ctx)

	summary, err := e.GetNodeSummary(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts[SeverityHigh])
}

func TestAcknowledgeAndResolveLifecycle(t *testing.T) {
	fm := &fakeMetrics{metrics: map[string]NodeMetrics{}}
	e := New(store.NewMemory(), fm, 100, 30*time.Minute, 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, e.raiseFlag(ctx, "n1", "custom", SeverityMedium, SourceSystem, "t", "d", 0))
	summary, _ := e.GetNodeSummary(ctx, "n1")
	require.Equal(t, 1, summary.Counts[SeverityMedium])

	doc, ok, err := e.st.FindOne(ctx, flagsCollection, store.Eq("node_id", "n1"))
	require.NoError(t, err)
	require.True(t, ok)
	f := flagFromDoc(doc)

	require.NoError(t, e.Acknowledge(ctx, f.FlagID, "operator-1"))
	require.NoError(t, e.Resolve(ctx, f.FlagID, "operator-1"))

	err = e.Resolve(ctx, f.FlagID, "operator-1")
	assert.Error(t, err)
}

func TestNetworkHealthDecreasesWithSeverity(t *testing.T) {
	fm := &fakeMetrics{metrics: map[string]NodeMetrics{}}
	e := New(store.NewMemory(), fm, 100, 30*time.Minute, 2*time.Hour)
	ctx := context.Background()

	baseline, err := e.NetworkHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, baseline)

	require.NoError(t, e.raiseFlag(ctx, "n1", "k1", SeverityCritical, SourceSystem, "t", "d", 0))
	after, err := e.NetworkHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90.0, after)
}

func TestCheckVersionDriftRaisesInfoFlag(t *testing.T) {
	fm := &fakeMetrics{metrics: map[string]NodeMetrics{}}
	e := New(store.NewMemory(), fm, 100, 30*time.Minute, 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, e.CheckVersionDrift(ctx, VersionInfo{NodeID: "n1", CurrentVersion: "1.2.0", AvailableVersion: "1.5.0"}))
	summary, err := e.GetNodeSummary(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts[SeverityInfo])

	require.NoError(t, e.CheckVersionDrift(ctx, VersionInfo{NodeID: "n2", CurrentVersion: "1.2.0", AvailableVersion: "1.3.0"}))
	summary2, err := e.GetNodeSummary(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, 0, summary2.Counts[SeverityInfo])
}

func TestLocalizeTitleFallsBackToStoredTitle(t *testing.T) {
	fm := &fakeMetrics{metrics: map[string]NodeMetrics{}}
	e := New(store.NewMemory(), fm, 100, 30*time.Minute, 2*time.Hour)

	f := Flag{Kind: "unregistered-kind", Title: "Custom Title"}
	assert.Equal(t, "Custom Title", e.LocalizeTitle(f, "en"))

	f2 := Flag{Kind: "ota-version-drift", Title: "fallback"}
	assert.Equal(t, "Node software is out of date", e.LocalizeTitle(f2, "en"))
}
