package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/HamiGames/Lucid-sub000/internal/config"
	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
)

// Postgres is the production Adapter: every collection is a JSONB
// document table, the cache rides on Redis. Modeled directly on the
// teacher's db.InitDB — a single connect-and-ping at startup, pooled
// connections, and a createTables pass, except tables are now generic
// per-collection JSONB stores rather than one table per domain entity.
type Postgres struct {
	db          *sql.DB
	redis       *redis.Client
	queueOnDown bool
}

// Open connects to Postgres and Redis per cfg and ensures every
// collection named in spec.md §6 has a backing table.
func Open(ctx context.Context, cfg *config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s application_name=lucid-node-core connect_timeout=10",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, coreerr.Fatal(err, "open postgres connection")
	}
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetMaxIdleConns(cfg.DBMaxIdleConnections)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnectionLifetime) * time.Second)

	if err := db.PingContext(ctx); err != nil {
		return nil, coreerr.Fatal(err, "ping postgres")
	}

	if err := ensureCollectionTables(ctx, db); err != nil {
		return nil, coreerr.Fatal(err, "create collection tables")
	}

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, coreerr.Fatal(err, "ping redis at %s", redisAddr)
	}

	return &Postgres{db: db, redis: rdb, queueOnDown: cfg.StoreQueueOnUnavailable}, nil
}

// Close releases the Postgres and Redis connections.
func (p *Postgres) Close() error {
	var errs []error
	if err := p.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.redis.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("store close: %v", errs)
	}
	return nil
}

// collections named in spec.md §6, created eagerly at startup so a
// late CreateIndex call never races table creation.
var collectionNames = []string{
	"peers", "task_proofs", "work_tally", "node_pools", "pool_join_requests",
	"pool_sync_operations", "governance_proposals", "governance_votes",
	"vote_delegations", "governance_comments", "vote_tallies", "node_flags",
	"flag_events", "flag_rules", "node_flag_summaries", "poot_challenges",
	"poot_proofs", "stake_validations", "fraud_events", "node_validation_stats",
	"node_registrations", "registration_challenges", "shard_hosts", "shards",
	"shard_creation_tasks", "maintenance_windows", "performance_metrics",
	"integrity_checks", "repair_operations", "operators", "sync_operations",
	"state_checkpoints", "sync_conflicts", "operator_metrics", "payout_requests",
	"payout_batches", "tron_transactions",
}

func tableName(collection string) string {
	return "coll_" + collection
}

func ensureCollectionTables(ctx context.Context, db *sql.DB) error {
	for _, name := range collectionNames {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, tableName(name))
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table for collection %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, collection, key string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return coreerr.Validation("marshal document for %s/%s: %v", collection, key, err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, tableName(collection))
	if _, err := p.db.ExecContext(ctx, q, key, raw); err != nil {
		return coreerr.Transient(err, "upsert %s/%s", collection, key)
	}
	return nil
}

// filterSQL compiles a Filter into a WHERE clause fragment (without
// the WHERE keyword) and its positional arguments starting at $argOffset.
func filterSQL(f Filter, argOffset int) (string, []interface{}) {
	if len(f) == 0 {
		return "TRUE", nil
	}
	clauses := make([]string, 0, len(f))
	args := make([]interface{}, 0, len(f))
	for _, c := range f {
		idx := argOffset + len(args) + 1
		switch c.Op {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("doc->>'%s' = $%d", c.Field, idx))
			args = append(args, fmt.Sprintf("%v", c.Value))
		case OpNe:
			clauses = append(clauses, fmt.Sprintf("doc->>'%s' IS DISTINCT FROM $%d", c.Field, idx))
			args = append(args, fmt.Sprintf("%v", c.Value))
		case OpLt, OpLe, OpGt, OpGe:
			op := map[Op]string{OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">="}[c.Op]
			clauses = append(clauses, fmt.Sprintf("(doc->>'%s')::numeric %s $%d", c.Field, op, idx))
			args = append(args, c.Value)
		case OpIn:
			clauses = append(clauses, fmt.Sprintf("doc->>'%s' = ANY($%d)", c.Field, idx))
			list, _ := c.Value.([]interface{})
			strs := make([]string, len(list))
			for i, v := range list {
				strs[i] = fmt.Sprintf("%v", v)
			}
			args = append(args, pqStringArray(strs))
		}
	}
	return strings.Join(clauses, " AND "), args
}

// pqStringArray renders a Go string slice as a Postgres text array
// literal, avoiding a hard dependency on lib/pq's Array helper type
// leaking into call sites.
func pqStringArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func (p *Postgres) FindOne(ctx context.Context, collection string, filter Filter) (Doc, bool, error) {
	where, args := filterSQL(filter, 0)
	q := fmt.Sprintf(`SELECT doc FROM %s WHERE %s LIMIT 1`, tableName(collection), where)
	row := p.db.QueryRowContext(ctx, q, args...)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, coreerr.Transient(err, "find one in %s", collection)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, coreerr.Integrity("corrupt document in %s: %v", collection, err)
	}
	return doc, true, nil
}

type sqlIterator struct {
	rows *sql.Rows
}

func (it *sqlIterator) Next(_ context.Context) (Doc, bool, error) {
	if !it.rows.Next() {
		return nil, false, it.rows.Err()
	}
	var raw []byte
	if err := it.rows.Scan(&raw); err != nil {
		return nil, false, coreerr.Transient(err, "scan row")
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, coreerr.Integrity("corrupt document: %v", err)
	}
	return doc, true, nil
}

func (it *sqlIterator) Close() error { return it.rows.Close() }

func (p *Postgres) Find(ctx context.Context, collection string, filter Filter, sortFields []SortField, limit int) (Iterator, error) {
	where, args := filterSQL(filter, 0)
	q := fmt.Sprintf(`SELECT doc FROM %s WHERE %s`, tableName(collection), where)
	if len(sortFields) > 0 {
		orderClauses := make([]string, len(sortFields))
		for i, sf := range sortFields {
			dir := "ASC"
			if sf.Desc {
				dir = "DESC"
			}
			orderClauses[i] = fmt.Sprintf("doc->>'%s' %s", sf.Field, dir)
		}
		q += " ORDER BY " + strings.Join(orderClauses, ", ")
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, coreerr.Transient(err, "find in %s", collection)
	}
	return &sqlIterator{rows: rows}, nil
}

func (p *Postgres) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	where, args := filterSQL(filter, 0)
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s`, tableName(collection), where)
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, coreerr.Transient(err, "delete many in %s", collection)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	where, args := filterSQL(filter, 0)
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, tableName(collection), where)
	var n int
	if err := p.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, coreerr.Transient(err, "count in %s", collection)
	}
	return n, nil
}

// Aggregate supports the fixed pipeline vocabulary named in
// SPEC_FULL.md §4.1: $match, $group (sum/avg/count/min/max), $sort,
// $limit, compiled to a single GROUP BY query when a $group stage is
// present, or a plain SELECT otherwise. $sort is applied only to the
// plain SELECT; grouped output is returned in database order.
func (p *Postgres) Aggregate(ctx context.Context, collection string, pipeline []Stage) ([]AggResult, error) {
	var match *Filter
	var group *GroupStage
	var sortFields []SortField
	limit := 0

	for _, stage := range pipeline {
		switch {
		case stage.Match != nil:
			match = stage.Match
		case stage.Group != nil:
			group = stage.Group
		case len(stage.Sort) > 0:
			sortFields = stage.Sort
		case stage.Limit > 0:
			limit = stage.Limit
		}
	}

	where := "TRUE"
	var args []interface{}
	if match != nil {
		where, args = filterSQL(*match, 0)
	}

	if group == nil {
		q := fmt.Sprintf(`SELECT doc FROM %s WHERE %s`, tableName(collection), where)
		if len(sortFields) > 0 {
			orderClauses := make([]string, len(sortFields))
			for i, sf := range sortFields {
				dir := "ASC"
				if sf.Desc {
					dir = "DESC"
				}
				orderClauses[i] = fmt.Sprintf("doc->>'%s' %s", sf.Field, dir)
			}
			q += " ORDER BY " + strings.Join(orderClauses, ", ")
		}
		if limit > 0 {
			q += fmt.Sprintf(" LIMIT %d", limit)
		}
		rows, err := p.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, coreerr.Transient(err, "aggregate scan in %s", collection)
		}
		defer rows.Close()
		var out []AggResult
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return nil, coreerr.Transient(err, "aggregate scan row")
			}
			var doc Doc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, coreerr.Integrity("corrupt document: %v", err)
			}
			out = append(out, AggResult(doc))
		}
		return out, nil
	}

	selectCols := []string{}
	groupBy := ""
	if group.By != "" {
		selectCols = append(selectCols, fmt.Sprintf("doc->>'%s' AS grp_key", group.By))
		groupBy = "GROUP BY grp_key"
	}
	outNames := make([]string, 0, len(group.Aggs))
	for outField, agg := range group.Aggs {
		outNames = append(outNames, outField)
		switch agg.Op {
		case AggCount:
			selectCols = append(selectCols, fmt.Sprintf("COUNT(*) AS %s", outField))
		case AggSum:
			selectCols = append(selectCols, fmt.Sprintf("COALESCE(SUM((doc->>'%s')::numeric),0) AS %s", agg.Field, outField))
		case AggAvg:
			selectCols = append(selectCols, fmt.Sprintf("COALESCE(AVG((doc->>'%s')::numeric),0) AS %s", agg.Field, outField))
		case AggMin:
			selectCols = append(selectCols, fmt.Sprintf("MIN((doc->>'%s')::numeric) AS %s", agg.Field, outField))
		case AggMax:
			selectCols = append(selectCols, fmt.Sprintf("MAX((doc->>'%s')::numeric) AS %s", agg.Field, outField))
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s %s`, strings.Join(selectCols, ", "), tableName(collection), where, groupBy)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	_ = sortFields // $sort is not applied to grouped output

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, coreerr.Transient(err, "aggregate group in %s", collection)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, coreerr.Transient(err, "aggregate columns")
	}

	var out []AggResult
	for rows.Next() {
		scanDest := make([]interface{}, len(cols))
		scanVals := make([]interface{}, len(cols))
		for i := range scanDest {
			scanDest[i] = &scanVals[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, coreerr.Transient(err, "aggregate scan row")
		}
		row := AggResult{}
		for i, col := range cols {
			if col == "grp_key" {
				row["_id"] = scanVals[i]
			} else {
				row[col] = scanVals[i]
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (p *Postgres) CreateIndex(ctx context.Context, collection string, fields []string, unique bool) error {
	idxName := fmt.Sprintf("idx_%s_%s", collection, strings.Join(fields, "_"))
	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = fmt.Sprintf("(doc->>'%s')", f)
	}
	uniqueKw := ""
	if unique {
		uniqueKw = "UNIQUE "
	}
	q := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)`, uniqueKw, idxName, tableName(collection), strings.Join(exprs, ", "))
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return coreerr.Transient(err, "create index %s", idxName)
	}
	return nil
}

func (p *Postgres) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := p.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return coreerr.Transient(err, "cache set %s", key)
	}
	return nil
}

func (p *Postgres) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := p.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coreerr.Transient(err, "cache get %s", key)
	}
	return val, true, nil
}

func (p *Postgres) CacheDelete(ctx context.Context, key string) error {
	if err := p.redis.Del(ctx, key).Err(); err != nil {
		return coreerr.Transient(err, "cache delete %s", key)
	}
	return nil
}
