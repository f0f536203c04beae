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

package rewriter

import (
	"regexp"
	"strings"
	"testing"

	"github.com/CovenantSQL/sqlparser"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/datagems-eosc/ap-explanation/types"
)

var (
	whySemiring = types.Semiring{
		Name:              "why",
		RetrievalFunction: "whyprov_now",
		MappingTable:      "why_mapping",
	}
	formulaSemiring = types.Semiring{
		Name:              "formula",
		RetrievalFunction: "formula",
		AggregateFunction: "aggregation_formula",
		MappingTable:      "formula_mapping",
	}
)

// canonical parses and re-serializes a query so assertions compare ASTs, not
// keyword casing.
func canonical(query string) string {
	stmt, err := sqlparser.Parse(query)
	So(err, ShouldBeNil)
	buf := sqlparser.NewTrackedBuffer(nil)
	stmt.Format(buf)
	return buf.String()
}

func mustRewriter() *Rewriter {
	r, err := NewRewriter(0)
	So(err, ShouldBeNil)
	return r
}

func TestRewriteRetrieval(t *testing.T) {
	Convey("non-aggregate queries gain one trailing retrieval projection", t, func() {
		r := mustRewriter()

		cases := [][2]string{
			{
				"SELECT col1, col2 FROM t WHERE cond",
				"SELECT col1, col2, whyprov_now(provenance(), 'why_mapping') FROM t WHERE cond",
			},
			{
				"SELECT * FROM assessment",
				"SELECT *, whyprov_now(provenance(), 'why_mapping') FROM assessment",
			},
			{
				"SELECT a.col1, b.col2 FROM a JOIN b ON a.id = b.id ORDER BY a.col1 LIMIT 10",
				"SELECT a.col1, b.col2, whyprov_now(provenance(), 'why_mapping') FROM a JOIN b ON a.id = b.id ORDER BY a.col1 LIMIT 10",
			},
		}
		for _, c := range cases {
			got, err := r.Rewrite(c[0], whySemiring)
			So(err, ShouldBeNil)
			So(canonical(got), ShouldEqual, canonical(c[1]))
		}
	})

	Convey("aggregate-looking query without GROUP BY takes the retrieval path", t, func() {
		r := mustRewriter()

		got, err := r.Rewrite("SELECT COUNT(*) FROM t", whySemiring)
		So(err, ShouldBeNil)
		So(canonical(got), ShouldEqual,
			canonical("SELECT COUNT(*), whyprov_now(provenance(), 'why_mapping') FROM t"))
	})

	Convey("aggregates inside subqueries do not trigger the aggregate path", t, func() {
		r := mustRewriter()

		got, err := r.Rewrite("SELECT a FROM (SELECT MAX(b) AS a FROM t) AS sub", whySemiring)
		So(err, ShouldBeNil)
		So(canonical(got), ShouldEqual,
			canonical("SELECT a, whyprov_now(provenance(), 'why_mapping') FROM (SELECT MAX(b) AS a FROM t) AS sub"))

		got, err = r.Rewrite("SELECT (SELECT MAX(b) FROM t2) AS m, c FROM t", whySemiring)
		So(err, ShouldBeNil)
		So(canonical(got), ShouldEqual,
			canonical("SELECT (SELECT MAX(b) FROM t2) AS m, c, whyprov_now(provenance(), 'why_mapping') FROM t"))
	})

	Convey("a semiring without retrieval function rejects plain queries", t, func() {
		r := mustRewriter()

		_, err := r.Rewrite("SELECT a FROM t", types.Semiring{Name: "broken", MappingTable: "m"})
		So(errors.Cause(err), ShouldEqual, ErrSemiringOperationNotSupported)
	})
}

func TestRewriteAggregate(t *testing.T) {
	Convey("aggregate queries wrap into a subquery", t, func() {
		r := mustRewriter()

		cases := [][2]string{
			{
				"SELECT col1, SUM(col2) AS total FROM t GROUP BY col1",
				"SELECT x.col1, aggregation_formula(x.total, 'formula_mapping') FROM (SELECT col1, SUM(col2) AS total FROM t GROUP BY col1) AS x",
			},
			{
				"SELECT topic, COUNT(*) AS cnt FROM assessment GROUP BY topic LIMIT 5",
				"SELECT x.topic, aggregation_formula(x.cnt, 'formula_mapping') FROM (SELECT topic, COUNT(*) AS cnt FROM assessment GROUP BY topic LIMIT 5) AS x",
			},
			{
				// qualified non-aggregate columns are referenced by bare name
				"SELECT t.a, COUNT(*) AS cnt FROM t GROUP BY t.a",
				"SELECT x.a, aggregation_formula(x.cnt, 'formula_mapping') FROM (SELECT t.a, COUNT(*) AS cnt FROM t GROUP BY t.a) AS x",
			},
			{
				// star projections survive as x.*
				"SELECT *, COUNT(*) AS cnt FROM t GROUP BY a",
				"SELECT x.*, aggregation_formula(x.cnt, 'formula_mapping') FROM (SELECT *, COUNT(*) AS cnt FROM t GROUP BY a) AS x",
			},
		}
		for _, c := range cases {
			got, err := r.Rewrite(c[0], formulaSemiring)
			So(err, ShouldBeNil)
			So(canonical(got), ShouldEqual, canonical(c[1]))
		}
	})

	Convey("non-aggregate column order is preserved", t, func() {
		r := mustRewriter()

		got, err := r.Rewrite("SELECT a, SUM(b) AS s, c FROM t GROUP BY a, c", formulaSemiring)
		So(err, ShouldBeNil)
		So(canonical(got), ShouldEqual,
			canonical("SELECT x.a, x.c, aggregation_formula(x.s, 'formula_mapping') FROM (SELECT a, SUM(b) AS s, c FROM t GROUP BY a, c) AS x"))
	})

	Convey("only the first aggregate projection is wired to the mapping", t, func() {
		r := mustRewriter()

		got, err := r.Rewrite("SELECT a, SUM(b) AS s1, AVG(c) AS s2 FROM t GROUP BY a", formulaSemiring)
		So(err, ShouldBeNil)
		So(canonical(got), ShouldEqual,
			canonical("SELECT x.a, aggregation_formula(x.s1, 'formula_mapping') FROM (SELECT a, SUM(b) AS s1, AVG(c) AS s2 FROM t GROUP BY a) AS x"))
	})

	Convey("unaliased aggregates get a generated alias", t, func() {
		r := mustRewriter()

		got, err := r.Rewrite("SELECT topic, COUNT(*) FROM assessment GROUP BY topic", formulaSemiring)
		So(err, ShouldBeNil)

		aliasRegex := regexp.MustCompile(`agg_[0-9a-f]{8}`)
		aliases := aliasRegex.FindAllString(got, -1)
		So(len(aliases), ShouldEqual, 2)
		// inner alias and outer reference agree
		So(aliases[0], ShouldEqual, aliases[1])
		So(canonical(got), ShouldEqual, canonical(strings.Replace(
			"SELECT x.topic, aggregation_formula(x.AGG, 'formula_mapping') FROM (SELECT topic, COUNT(*) AS AGG FROM assessment GROUP BY topic) AS x",
			"AGG", aliases[0], -1)))
	})

	Convey("postgres-only aggregate functions are recognized", t, func() {
		r := mustRewriter()

		got, err := r.Rewrite("SELECT topic, string_agg(title, ',') AS titles FROM assessment GROUP BY topic", formulaSemiring)
		So(err, ShouldBeNil)
		So(canonical(got), ShouldEqual,
			canonical("SELECT x.topic, aggregation_formula(x.titles, 'formula_mapping') FROM (SELECT topic, string_agg(title, ',') AS titles FROM assessment GROUP BY topic) AS x"))
	})

	Convey("aggregate query against a semiring without aggregate function", t, func() {
		r := mustRewriter()

		_, err := r.Rewrite("SELECT topic, COUNT(*) AS cnt FROM assessment GROUP BY topic", whySemiring)
		So(errors.Cause(err), ShouldEqual, ErrSemiringOperationNotSupported)
		So(err.Error(), ShouldContainSubstring, "why")
		So(err.Error(), ShouldContainSubstring, "aggregate queries")
	})
}

func TestRewriteUnsupported(t *testing.T) {
	Convey("non-SELECT statements are rejected", t, func() {
		r := mustRewriter()

		for _, q := range []string{
			"INSERT INTO t (a) VALUES (1)",
			"UPDATE t SET a = 1",
			"DELETE FROM t",
			"SELECT a FROM t UNION SELECT b FROM u",
			"not even sql",
		} {
			_, err := r.Rewrite(q, whySemiring)
			So(errors.Cause(err), ShouldEqual, ErrUnsupportedQuery)
		}
	})

	Convey("HAVING is rejected wherever it appears", t, func() {
		r := mustRewriter()

		for _, q := range []string{
			"SELECT a, COUNT(*) AS cnt FROM t GROUP BY a HAVING COUNT(*) > 1",
			"SELECT a FROM (SELECT b AS a, COUNT(*) AS cnt FROM t GROUP BY b HAVING COUNT(*) > 1) AS sub",
		} {
			_, err := r.Rewrite(q, formulaSemiring)
			So(errors.Cause(err), ShouldEqual, ErrUnsupportedQuery)
			So(err.Error(), ShouldContainSubstring, "HAVING")
		}
	})
}

func TestRewriteCache(t *testing.T) {
	Convey("repeated rewrites hit the cache", t, func() {
		r, err := NewRewriter(16)
		So(err, ShouldBeNil)

		first, err := r.Rewrite("SELECT a FROM t", whySemiring)
		So(err, ShouldBeNil)
		second, err := r.Rewrite("SELECT a FROM t", whySemiring)
		So(err, ShouldBeNil)
		So(second, ShouldEqual, first)

		Convey("cache keys include the semiring", func() {
			other, err := r.Rewrite("SELECT a FROM t", formulaSemiring)
			So(err, ShouldBeNil)
			So(other, ShouldNotEqual, first)
			So(other, ShouldContainSubstring, "formula_mapping")
		})

		Convey("failed rewrites are not cached", func() {
			_, err := r.Rewrite("DELETE FROM t", whySemiring)
			So(err, ShouldNotBeNil)
			_, err = r.Rewrite("DELETE FROM t", whySemiring)
			So(errors.Cause(err), ShouldEqual, ErrUnsupportedQuery)
		})
	})
}
