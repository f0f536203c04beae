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

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/datagems-eosc/ap-explanation/rewriter"
	"github.com/datagems-eosc/ap-explanation/types"
)

const testDSNEnv = "AP_EXPLANATION_TEST_DSN"

func TestSqlState(t *testing.T) {
	Convey("Extracting SQLSTATE codes", t, func() {
		Convey("should read the code from a driver error", func() {
			err := &pq.Error{Code: sqlStateDuplicateColumn}
			So(sqlState(err), ShouldEqual, pq.ErrorCode(sqlStateDuplicateColumn))
		})
		Convey("should see through wrapping", func() {
			err := errors.Wrap(&pq.Error{Code: sqlStateUndefinedTable}, "query failed")
			So(sqlState(err), ShouldEqual, pq.ErrorCode(sqlStateUndefinedTable))
		})
		Convey("should return the empty code for other errors", func() {
			So(sqlState(errors.New("boom")), ShouldEqual, pq.ErrorCode(""))
			So(sqlState(nil), ShouldEqual, pq.ErrorCode(""))
		})
	})
}

func TestSetupScript(t *testing.T) {
	Convey("The embedded setup script", t, func() {
		So(semiringSetupScript, ShouldNotBeEmpty)
		Convey("should maintain the canary", func() {
			So(semiringSetupScript, ShouldContainSubstring, "provsql_canary")
			So(semiringSetupScript, ShouldContainSubstring, setupScriptName)
			So(semiringSetupScript, ShouldContainSubstring, setupScriptVersion)
		})
		Convey("should define every built-in semiring function", func() {
			for _, s := range types.DefaultSemirings() {
				So(semiringSetupScript, ShouldContainSubstring, s.RetrievalFunction)
				if s.SupportsAggregate() {
					So(semiringSetupScript, ShouldContainSubstring, s.AggregateFunction)
				}
			}
		})
	})
}

func TestQueryRewriteErrors(t *testing.T) {
	// Rewrite failures surface before the session is touched, so a nil
	// connection is fine here.
	rw, err := rewriter.NewRewriter(0)
	if err != nil {
		t.Fatalf("new rewriter: %v", err)
	}
	repo := NewProvenance(nil, rw)
	registry := types.NewRegistry(types.DefaultSemirings()...)
	why, _ := registry.Lookup("why")

	Convey("Query with a broken statement", t, func() {
		_, err := repo.Query(context.Background(), "public", "DELETE FROM users", why)
		So(errors.Cause(err), ShouldEqual, rewriter.ErrUnsupportedQuery)
	})

	Convey("Query needing an unsupported semiring operation", t, func() {
		_, err := repo.Query(context.Background(), "public",
			"SELECT count(*) FROM users GROUP BY city", why)
		So(errors.Cause(err), ShouldEqual, rewriter.ErrSemiringOperationNotSupported)
	})
}

func openTestConn(t *testing.T) (conn *sql.Conn, cleanup func()) {
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping database tests", testDSNEnv)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if conn, err = db.Conn(context.Background()); err != nil {
		db.Close()
		t.Fatalf("acquire test connection: %v", err)
	}
	cleanup = func() {
		conn.Close()
		db.Close()
	}
	return
}

func TestProvenanceLifecycle(t *testing.T) {
	conn, cleanup := openTestConn(t)
	defer cleanup()

	rw, err := rewriter.NewRewriter(16)
	if err != nil {
		t.Fatalf("new rewriter: %v", err)
	}
	repo := NewProvenance(conn, rw)
	registry := types.NewRegistry(types.DefaultSemirings()...)
	why, _ := registry.Lookup("why")

	ctx := context.Background()
	schema := fmt.Sprintf("prov_test_%d", time.Now().UnixNano())
	if _, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", pq.QuoteIdentifier(schema))); err != nil {
		t.Fatalf("create test schema: %v", err)
	}
	defer conn.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", pq.QuoteIdentifier(schema)))

	if _, err = conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s.items (id int, name text)", pq.QuoteIdentifier(schema))); err != nil {
		t.Fatalf("create test table: %v", err)
	}
	if _, err = conn.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s.items VALUES (1, 'alpha'), (2, 'beta'), (3, 'gamma')",
		pq.QuoteIdentifier(schema))); err != nil {
		t.Fatalf("seed test table: %v", err)
	}

	Convey("Querying before any annotation", t, func() {
		So(repo.EnsureSemiringSetup(ctx, ""), ShouldBeNil)

		// No mapping table exists yet, so planning the rewritten query
		// fails on the missing relation.
		_, err := repo.Query(ctx, schema, "SELECT name FROM items", why)
		So(errors.Cause(err), ShouldEqual, ErrTableNotAnnotated)
	})

	Convey("A full annotate/query/remove cycle", t, func() {
		So(repo.EnsureSemiringSetup(ctx, ""), ShouldBeNil)

		enabled, err := repo.EnableProvenance(ctx, schema, "items")
		So(err, ShouldBeNil)
		So(enabled, ShouldBeTrue)

		enabled, err = repo.EnableProvenance(ctx, schema, "items")
		So(err, ShouldBeNil)
		So(enabled, ShouldBeFalse)

		added, err := repo.AddSemiring(ctx, schema, "items", why)
		So(err, ShouldBeNil)
		So(added, ShouldBeTrue)

		added, err = repo.AddSemiring(ctx, schema, "items", why)
		So(err, ShouldBeNil)
		So(added, ShouldBeFalse)

		rows, err := repo.Query(ctx, schema, "SELECT name FROM items", why)
		So(err, ShouldBeNil)
		So(len(rows), ShouldEqual, 3)
		for _, row := range rows {
			So(row, ShouldContainKey, "name")
			So(row, ShouldContainKey, why.RetrievalFunction)
			So(row, ShouldContainKey, why.Name)
			related, ok := row[why.Name].([]RelatedRow)
			So(ok, ShouldBeTrue)
			So(len(related), ShouldEqual, 1)
			So(related[0].Data, ShouldContainKey, "id")
		}

		removed, err := repo.RemoveSemiring(ctx, schema, "items", why)
		So(err, ShouldBeNil)
		So(removed, ShouldBeTrue)

		removed, err = repo.RemoveSemiring(ctx, schema, "items", why)
		So(err, ShouldBeNil)
		So(removed, ShouldBeFalse)

		So(repo.RemoveProvenance(ctx, schema, "items"), ShouldBeNil)

		// A second removal hits the undefined-column no-op path.
		So(repo.RemoveProvenance(ctx, schema, "items"), ShouldBeNil)
	})

	Convey("Enabling provenance on a missing table", t, func() {
		_, err := repo.EnableProvenance(ctx, schema, "no_such_table")
		So(errors.Cause(err), ShouldEqual, ErrTableOrSchemaNotFound)
	})
}
