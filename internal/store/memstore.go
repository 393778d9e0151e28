package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Adapter implementation used by component
// unit tests and by any deployment that runs without Postgres/Redis
// during local development. It satisfies the exact same Adapter
// contract as the Postgres-backed implementation so components never
// need to know which one they were constructed with.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Doc
	cache       map[string]cacheEntry
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// NewMemory constructs an empty in-memory Adapter.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Doc),
		cache:       make(map[string]cacheEntry),
	}
}

func (m *Memory) coll(name string) map[string]Doc {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]Doc)
		m.collections[name] = c
	}
	return c
}

func cloneDoc(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (m *Memory) Upsert(_ context.Context, collection, key string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coll(collection)[key] = cloneDoc(doc)
	return nil
}

func (m *Memory) FindOne(_ context.Context, collection string, filter Filter) (Doc, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.coll(collection) {
		if filter.Matches(doc) {
			return cloneDoc(doc), true, nil
		}
	}
	return nil, false, nil
}

type memIterator struct {
	docs []Doc
	pos  int
}

func (it *memIterator) Next(_ context.Context) (Doc, bool, error) {
	if it.pos >= len(it.docs) {
		return nil, false, nil
	}
	d := it.docs[it.pos]
	it.pos++
	return d, true, nil
}

func (it *memIterator) Close() error { return nil }

func (m *Memory) Find(_ context.Context, collection string, filter Filter, sortFields []SortField, limit int) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Doc, 0)
	for _, doc := range m.coll(collection) {
		if filter.Matches(doc) {
			matched = append(matched, cloneDoc(doc))
		}
	}

	if len(sortFields) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, sf := range sortFields {
				cmp, ok := compare(matched[i][sf.Field], matched[j][sf.Field])
				if !ok {
					continue
				}
				if cmp == 0 {
					continue
				}
				if sf.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return &memIterator{docs: matched}, nil
}

func (m *Memory) DeleteMany(_ context.Context, collection string, filter Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	n := 0
	for k, doc := range c {
		if filter.Matches(doc) {
			delete(c, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Count(_ context.Context, collection string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, doc := range m.coll(collection) {
		if filter.Matches(doc) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Aggregate(ctx context.Context, collection string, pipeline []Stage) ([]AggResult, error) {
	m.mu.RLock()
	docs := make([]Doc, 0, len(m.coll(collection)))
	for _, doc := range m.coll(collection) {
		docs = append(docs, cloneDoc(doc))
	}
	m.mu.RUnlock()

	for _, stage := range pipeline {
		switch {
		case stage.Match != nil:
			filtered := docs[:0:0]
			for _, d := range docs {
				if stage.Match.Matches(d) {
					filtered = append(filtered, d)
				}
			}
			docs = filtered
		case stage.Group != nil:
			return groupDocs(docs, *stage.Group), nil
		case len(stage.Sort) > 0:
			sortFields := stage.Sort
			sort.SliceStable(docs, func(i, j int) bool {
				for _, sf := range sortFields {
					cmp, ok := compare(docs[i][sf.Field], docs[j][sf.Field])
					if !ok || cmp == 0 {
						continue
					}
					if sf.Desc {
						return cmp > 0
					}
					return cmp < 0
				}
				return false
			})
		case stage.Limit > 0:
			if stage.Limit < len(docs) {
				docs = docs[:stage.Limit]
			}
		}
	}

	// No $group stage: project raw documents as results.
	results := make([]AggResult, len(docs))
	for i, d := range docs {
		results[i] = AggResult(d)
	}
	return results, nil
}

func groupDocs(docs []Doc, g GroupStage) []AggResult {
	type bucket struct {
		key  interface{}
		docs []Doc
	}
	order := make([]interface{}, 0)
	buckets := make(map[interface{}]*bucket)

	for _, d := range docs {
		var key interface{}
		if g.By != "" {
			key = d[g.By]
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.docs = append(b.docs, d)
	}

	out := make([]AggResult, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		row := AggResult{}
		if g.By != "" {
			row["_id"] = b.key
		}
		for outField, agg := range g.Aggs {
			row[outField] = reduce(b.docs, agg)
		}
		out = append(out, row)
	}
	return out
}

func reduce(docs []Doc, agg Agg) interface{} {
	switch agg.Op {
	case AggCount:
		return len(docs)
	case AggSum, AggAvg, AggMin, AggMax:
		var sum float64
		var count int
		var min, max float64
		first := true
		for _, d := range docs {
			f, ok := toFloat(d[agg.Field])
			if !ok {
				continue
			}
			sum += f
			count++
			if first || f < min {
				min = f
			}
			if first || f > max {
				max = f
			}
			first = false
		}
		switch agg.Op {
		case AggSum:
			return sum
		case AggAvg:
			if count == 0 {
				return 0.0
			}
			return sum / float64(count)
		case AggMin:
			return min
		case AggMax:
			return max
		}
	}
	return nil
}

// CreateIndex is a no-op for the in-memory adapter: every Find already
// does a full scan, so there is no index structure to build. Kept to
// satisfy the Adapter interface for tests that call it unconditionally.
func (m *Memory) CreateIndex(_ context.Context, _ string, _ []string, _ bool) error {
	return nil
}

func (m *Memory) CacheSet(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.cache[key] = cacheEntry{value: cp, expires: expires}
	return nil
}

func (m *Memory) CacheGet(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) CacheDelete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}
