/*
 * Copyright 2026 The DataGEMS Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package rewriter transforms SELECT statements into provenance annotated
// SELECTs by AST manipulation. The rewritten query invokes the semiring's
// retrieval or aggregate function against the provenance() expression the
// native extension evaluates at query time.
package rewriter

import (
	"github.com/CovenantSQL/sqlparser"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/datagems-eosc/ap-explanation/metric"
	"github.com/datagems-eosc/ap-explanation/types"
)

// subqueryAlias names the wrapped original query in aggregate rewrites.
const subqueryAlias = "x"

// pgAggregates supplements the parser's MySQL flavored aggregate set with
// aggregate functions of the PostgreSQL target.
var pgAggregates = map[string]bool{
	"array_agg":  true,
	"bool_and":   true,
	"bool_or":    true,
	"every":      true,
	"json_agg":   true,
	"jsonb_agg":  true,
	"string_agg": true,
}

type cacheKey struct {
	query    string
	semiring string
}

// Rewriter rewrites queries for provenance tracking. It is stateless apart
// from an optional LRU cache of successful rewrites.
type Rewriter struct {
	cache *lru.Cache
}

// NewRewriter creates a rewriter caching up to cacheSize successful rewrites.
// A non-positive cacheSize disables caching.
func NewRewriter(cacheSize int) (r *Rewriter, err error) {
	r = &Rewriter{}
	if cacheSize > 0 {
		if r.cache, err = lru.New(cacheSize); err != nil {
			err = errors.Wrap(err, "create rewrite cache")
			return
		}
	}
	return
}

// Rewrite transforms query so its result rows carry the semiring's
// contribution tokens. Pure apart from cache bookkeeping, no I/O.
//
// Non-aggregate SELECTs gain one trailing projection invoking the semiring's
// retrieval function. SELECTs with an aggregate projection and a GROUP BY are
// wrapped as a subquery, with the outer SELECT projecting the non-aggregate
// columns plus the semiring's aggregate function applied to the first
// aggregate projection's alias.
func (r *Rewriter) Rewrite(query string, s types.Semiring) (rewritten string, err error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(cacheKey{query: query, semiring: s.Name}); ok {
			metric.RewriteCount.WithLabelValues("cache_hit").Inc()
			rewritten = v.(string)
			return
		}
	}

	stmt, err := sqlparser.Parse(query)
	if err != nil {
		err = errors.Wrapf(ErrUnsupportedQuery, "parse query: %v", err)
		return
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		err = errors.Wrapf(ErrUnsupportedQuery, "statement %T is not a plain SELECT", stmt)
		return
	}
	if hasHaving(sel) {
		err = errors.Wrap(ErrUnsupportedQuery, "HAVING is not supported, rewrite with nested SELECTs")
		return
	}

	// An aggregate-looking projection without GROUP BY takes the retrieval
	// path and is left to the engine to validate.
	var path string
	if hasAggregateProjection(sel.SelectExprs) && len(sel.GroupBy) > 0 {
		rewritten, err = rewriteAggregate(sel, s)
		path = "aggregate"
	} else {
		rewritten, err = rewriteRetrieval(sel, s)
		path = "plain"
	}
	if err != nil {
		return
	}
	metric.RewriteCount.WithLabelValues(path).Inc()

	if r.cache != nil {
		r.cache.Add(cacheKey{query: query, semiring: s.Name}, rewritten)
	}
	return
}

// hasHaving reports whether any SELECT in the statement carries a HAVING
// clause, nested subqueries included.
func hasHaving(stmt sqlparser.Statement) (found bool) {
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (kontinue bool, err error) {
		if sel, ok := node.(*sqlparser.Select); ok && sel.Having != nil {
			found = true
			return false, nil
		}
		return true, nil
	}, stmt)
	return
}

// hasAggregateProjection reports whether any projection expression contains
// an aggregate function call, without descending into subqueries.
func hasAggregateProjection(exprs sqlparser.SelectExprs) bool {
	for _, se := range exprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		if exprHasAggregate(ae.Expr) {
			return true
		}
	}
	return false
}

func exprHasAggregate(expr sqlparser.Expr) (found bool) {
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (kontinue bool, err error) {
		switch n := node.(type) {
		case *sqlparser.Subquery:
			// an aggregate inside a subquery does not make the outer
			// query aggregate
			return false, nil
		case *sqlparser.GroupConcatExpr:
			found = true
			return false, nil
		case *sqlparser.FuncExpr:
			if n.IsAggregate() || pgAggregates[n.Name.Lowered()] {
				found = true
				return false, nil
			}
		}
		return true, nil
	}, expr)
	return
}

// rewriteRetrieval appends the retrieval function call to the projection
// list:
//
//	SELECT col1, col2 FROM t WHERE cond
//	=> SELECT col1, col2, whyprov_now(provenance(), 'why_mapping') FROM t WHERE cond
func rewriteRetrieval(sel *sqlparser.Select, s types.Semiring) (query string, err error) {
	if s.RetrievalFunction == "" {
		err = errors.Wrapf(ErrSemiringOperationNotSupported,
			"semiring %s does not support retrieval queries", s.Name)
		return
	}

	sel.SelectExprs = append(sel.SelectExprs, &sqlparser.AliasedExpr{
		Expr: mappingCall(s.RetrievalFunction, provenanceExpr(), s.MappingTable),
	})

	buf := sqlparser.NewTrackedBuffer(nil)
	sel.Format(buf)
	query = buf.String()
	return
}

// rewriteAggregate wraps the query as a subquery and projects the semiring's
// aggregate function over the first aggregate projection:
//
//	SELECT col1, SUM(col2) AS total FROM t GROUP BY col1
//	=> SELECT x.col1, aggregation_formula(x.total, 'formula_mapping')
//	   FROM (SELECT col1, SUM(col2) AS total FROM t GROUP BY col1) AS x
//
// When a query holds several aggregate projections only the first one is
// wired to the mapping function.
func rewriteAggregate(sel *sqlparser.Select, s types.Semiring) (query string, err error) {
	if !s.SupportsAggregate() {
		err = errors.Wrapf(ErrSemiringOperationNotSupported,
			"semiring %s does not support aggregate queries", s.Name)
		return
	}

	var (
		aggAlias string
		outer    sqlparser.SelectExprs
	)
	for _, se := range sel.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			outer = append(outer, &sqlparser.StarExpr{
				TableName: sqlparser.TableName{Name: sqlparser.NewTableIdent(subqueryAlias)},
			})
		case *sqlparser.AliasedExpr:
			if exprHasAggregate(e.Expr) {
				if e.As.IsEmpty() {
					e.As = sqlparser.NewColIdent(generateAlias())
				}
				if aggAlias == "" {
					aggAlias = e.As.String()
				}
				// replaced in the outer query by the mapping call
				continue
			}
			outer = append(outer, &sqlparser.AliasedExpr{
				Expr: subqueryColumn(projectionName(e)),
			})
		default:
			err = errors.Wrapf(ErrUnsupportedQuery, "unsupported projection %T", se)
			return
		}
	}
	if aggAlias == "" {
		err = errors.Wrap(ErrNoAggregateFound, "aggregate rewrite")
		return
	}

	outer = append(outer, &sqlparser.AliasedExpr{
		Expr: mappingCall(s.AggregateFunction, subqueryColumn(aggAlias), s.MappingTable),
	})

	wrapper := &sqlparser.Select{
		SelectExprs: outer,
		From: sqlparser.TableExprs{
			&sqlparser.AliasedTableExpr{
				Expr: &sqlparser.Subquery{Select: sel},
				As:   sqlparser.NewTableIdent(subqueryAlias),
			},
		},
	}

	buf := sqlparser.NewTrackedBuffer(nil)
	wrapper.Format(buf)
	query = buf.String()
	return
}

// projectionName returns the name a projection is reachable under from the
// wrapping query, aliasing the projection when it has no name of its own.
func projectionName(e *sqlparser.AliasedExpr) string {
	if !e.As.IsEmpty() {
		return e.As.String()
	}
	if col, ok := e.Expr.(*sqlparser.ColName); ok {
		return col.Name.String()
	}
	e.As = sqlparser.NewColIdent(generateAlias())
	return e.As.String()
}

// generateAlias returns a collision resistant projection alias.
func generateAlias() string {
	return "agg_" + uuid.Must(uuid.NewV4()).String()[:8]
}

func subqueryColumn(name string) *sqlparser.ColName {
	return &sqlparser.ColName{
		Name:      sqlparser.NewColIdent(name),
		Qualifier: sqlparser.TableName{Name: sqlparser.NewTableIdent(subqueryAlias)},
	}
}

func provenanceExpr() sqlparser.Expr {
	return &sqlparser.FuncExpr{Name: sqlparser.NewColIdent("provenance")}
}

// mappingCall builds fn(arg, '<mappingTable>').
func mappingCall(fn string, arg sqlparser.Expr, mappingTable string) *sqlparser.FuncExpr {
	return &sqlparser.FuncExpr{
		Name: sqlparser.NewColIdent(fn),
		Exprs: sqlparser.SelectExprs{
			&sqlparser.AliasedExpr{Expr: arg},
			&sqlparser.AliasedExpr{Expr: sqlparser.NewStrVal([]byte(mappingTable))},
		},
	}
}
