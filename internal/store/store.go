// Package store implements the Store Adapter (spec.md §4.1): a
// key-document collection abstraction with secondary indices, plus a
// side KV cache with TTL. The production Adapter is backed by
// Postgres (JSONB documents, one table per collection) and Redis
// (cache); see postgres.go. Every op is awaitable (context-scoped) and
// idempotent where the name suggests it.
package store

import (
	"context"
	"time"
)

// Doc is a single collection document: a string-keyed JSON-shaped map.
type Doc map[string]interface{}

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpIn Op = "in"
)

// Cond is a single filter condition: Field Op Value.
type Cond struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter is a conjunction (AND) of conditions. A nil or empty Filter
// matches every document.
type Filter []Cond

// Eq is a convenience constructor for the common equality filter.
func Eq(field string, value interface{}) Filter {
	return Filter{{Field: field, Op: OpEq, Value: value}}
}

// SortField names a document field and its sort direction.
type SortField struct {
	Field string
	Desc  bool
}

// AggOp is an aggregation reducer.
type AggOp string

const (
	AggSum   AggOp = "sum"
	AggAvg   AggOp = "avg"
	AggCount AggOp = "count"
	AggMin   AggOp = "min"
	AggMax   AggOp = "max"
)

// Agg names one output column of a $group stage.
type Agg struct {
	Op    AggOp
	Field string // source document field; ignored for AggCount
}

// GroupStage groups matched documents by By (empty string groups
// everything into a single bucket) and reduces each bucket per Aggs.
type GroupStage struct {
	By   string
	Aggs map[string]Agg
}

// Stage is one step of an Aggregate pipeline. Exactly one of its
// fields should be set per stage, in $match/$group/$sort/$limit order.
type Stage struct {
	Match *Filter
	Group *GroupStage
	Sort  []SortField
	Limit int
}

// AggResult is one row of an Aggregate result: the group key under
// "_id" (absent for an ungrouped pipeline) plus the named aggregations.
type AggResult map[string]interface{}

// Iterator yields documents lazily so large collections do not need to
// be materialized in memory at once.
type Iterator interface {
	Next(ctx context.Context) (Doc, bool, error)
	Close() error
}

// Adapter is the Store Adapter contract consumed by every upper-layer
// component. Absence is modeled as "no data" (ok=false, err=nil), never
// a panic; unavailability surfaces as a retryable *coreerr.Error from
// the Postgres/Redis implementation.
type Adapter interface {
	Upsert(ctx context.Context, collection, key string, doc Doc) error
	FindOne(ctx context.Context, collection string, filter Filter) (Doc, bool, error)
	Find(ctx context.Context, collection string, filter Filter, sort []SortField, limit int) (Iterator, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int, error)
	Count(ctx context.Context, collection string, filter Filter) (int, error)
	Aggregate(ctx context.Context, collection string, pipeline []Stage) ([]AggResult, error)
	CreateIndex(ctx context.Context, collection string, fields []string, unique bool) error

	CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CacheDelete(ctx context.Context, key string) error
}

// Matches reports whether doc satisfies every condition in f.
func (f Filter) Matches(doc Doc) bool {
	for _, c := range f {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

func (c Cond) matches(doc Doc) bool {
	v, ok := doc[c.Field]
	switch c.Op {
	case OpEq:
		return ok && equal(v, c.Value)
	case OpNe:
		return !ok || !equal(v, c.Value)
	case OpIn:
		list, isList := c.Value.([]interface{})
		if !isList || !ok {
			return false
		}
		for _, item := range list {
			if equal(v, item) {
				return true
			}
		}
		return false
	case OpLt, OpLe, OpGt, OpGe:
		if !ok {
			return false
		}
		cmp, cmpOk := compare(v, c.Value)
		if !cmpOk {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		}
	}
	return false
}

func equal(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

// compare returns -1/0/1 comparing a to b, with ok=false when neither
// a numeric nor a string comparison applies.
func compare(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
