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

// Package repository carries out all provenance bookkeeping and querying
// against a PostgreSQL server running the ProvSQL extension.
package repository

import (
	"context"
	"database/sql"
	_ "embed" // for the semiring setup script
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/datagems-eosc/ap-explanation/mapping"
	"github.com/datagems-eosc/ap-explanation/metric"
	"github.com/datagems-eosc/ap-explanation/rewriter"
	"github.com/datagems-eosc/ap-explanation/types"
	"github.com/datagems-eosc/ap-explanation/utils/log"
)

const (
	setupScriptName    = "03_setup_semiring_parallel.sql"
	setupScriptVersion = "1.0.0"
)

//go:embed resources/03_setup_semiring_parallel.sql
var semiringSetupScript string

// RelatedRow pairs a decoded row reference with the source row data it
// points at.
type RelatedRow struct {
	Reference string                 `json:"reference"`
	Data      map[string]interface{} `json:"data"`
}

// Provenance executes provenance operations over a single database
// session. Every operation pins its target schema through the session
// search path, so a Provenance must not be shared between goroutines.
type Provenance struct {
	conn *sql.Conn
	rw   *rewriter.Rewriter
}

// NewProvenance returns a repository bound to conn. The rewriter is
// shared and safe for reuse across repositories.
func NewProvenance(conn *sql.Conn, rw *rewriter.Rewriter) *Provenance {
	return &Provenance{
		conn: conn,
		rw:   rw,
	}
}

func (p *Provenance) setSearchPath(ctx context.Context, schema string) (err error) {
	stmt := fmt.Sprintf("SET search_path TO %s, public, provsql", pq.QuoteIdentifier(schema))
	if _, err = p.conn.ExecContext(ctx, stmt); err != nil {
		err = errors.Wrapf(err, "set search path to %s", schema)
	}
	return
}

// withTx runs fn inside a transaction on the underlying session and
// commits it unless fn failed.
func (p *Provenance) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	var tx *sql.Tx
	if tx, err = p.conn.BeginTx(ctx, nil); err != nil {
		err = errors.Wrap(err, "begin transaction")
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	err = fn(tx)
	return
}

// EnableProvenance prepares a base table for provenance tracking by
// installing the ProvSQL extension if needed and attaching the hidden
// provenance column. Returns false when the table already carries the
// column.
func (p *Provenance) EnableProvenance(ctx context.Context, schema, table string) (enabled bool, err error) {
	if err = p.setSearchPath(ctx, schema); err != nil {
		return
	}
	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		if _, err = tx.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS provsql CASCADE"); err != nil {
			return
		}
		_, err = tx.ExecContext(ctx, "SELECT add_provenance($1)", table)
		return
	})
	if err == nil {
		metric.AnnotationCount.WithLabelValues("enable", "created").Inc()
		enabled = true
		return
	}
	switch sqlState(err) {
	case sqlStateDuplicateColumn:
		log.WithFields(log.Fields{
			"schema": schema,
			"table":  table,
		}).Info("provenance column already exists, ignoring")
		metric.AnnotationCount.WithLabelValues("enable", "exists").Inc()
		err = nil
	case sqlStateUndefinedFile, sqlStateFeatureNotSupported:
		log.WithError(err).Error("provsql extension is not installed on the postgres server")
		err = errors.Wrapf(ErrProvSqlMissing,
			"provsql extension is not installed or not available: %v", errors.Cause(err))
	case sqlStateUndefinedTable, sqlStateInvalidSchemaName:
		log.WithFields(log.Fields{
			"schema": schema,
			"table":  table,
		}).WithError(err).Warning("table or schema does not exist")
		err = errors.Wrapf(ErrTableOrSchemaNotFound,
			"table %q does not exist in schema %q", table, schema)
	default:
		err = errors.Wrapf(err, "enable provenance for %s.%s", schema, table)
	}
	return
}

// AddSemiring activates a semiring on a provenance-enabled table by
// materializing its per-table token mapping, then rebuilds the
// semiring's union mapping for the schema. Returns false when the
// mapping table already exists.
func (p *Provenance) AddSemiring(ctx context.Context, schema, table string, s types.Semiring) (added bool, err error) {
	provTable := s.MappingTableFor(table)
	if err = p.setSearchPath(ctx, schema); err != nil {
		return
	}

	// ProvSQL leaves its scratch table behind when a previous mapping
	// run failed, which would make create_provenance_mapping error out.
	if _, derr := p.conn.ExecContext(ctx, "DROP TABLE IF EXISTS tmp_provsql"); derr != nil {
		log.WithError(derr).Warning("could not drop provsql scratch table")
	}

	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		_, err = tx.ExecContext(ctx, "SELECT create_provenance_mapping($1, $2, $3)",
			provTable, table, s.Mapping.Encode(table))
		return
	})
	switch {
	case err == nil:
		metric.AnnotationCount.WithLabelValues("add_semiring", "created").Inc()
		added = true
	case sqlState(err) == sqlStateDuplicateTable:
		log.WithFields(log.Fields{
			"schema": schema,
			"table":  provTable,
		}).Info("provenance mapping table already exists, ignoring")
		metric.AnnotationCount.WithLabelValues("add_semiring", "exists").Inc()
		err = nil
	default:
		log.WithFields(log.Fields{
			"schema": schema,
			"table":  provTable,
		}).WithError(err).Error("unexpected error in create_provenance_mapping")
		err = errors.Wrapf(err, "create provenance mapping %s", provTable)
		return
	}

	// The union mapping must reflect the current set of per-table
	// mappings even when this table was already active.
	_, err = p.RebuildUnionMapping(ctx, schema, s)
	return
}

// RemoveSemiring drops a semiring's per-table token mapping and rebuilds
// the semiring's union mapping for the schema. Returns false when no
// mapping table existed for the table.
func (p *Provenance) RemoveSemiring(ctx context.Context, schema, table string, s types.Semiring) (removed bool, err error) {
	provTable := s.MappingTableFor(table)
	if err = p.setSearchPath(ctx, schema); err != nil {
		return
	}

	var exists bool
	if err = p.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = $2)",
		schema, provTable,
	).Scan(&exists); err != nil {
		err = errors.Wrapf(err, "check provenance mapping %s", provTable)
		return
	}
	if !exists {
		log.WithFields(log.Fields{
			"schema": schema,
			"table":  provTable,
		}).Info("provenance mapping table not found, nothing to remove")
		metric.AnnotationCount.WithLabelValues("remove_semiring", "missing").Inc()
		return
	}

	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s CASCADE", pq.QuoteIdentifier(provTable)))
		return
	})
	if err != nil {
		err = errors.Wrapf(err, "drop provenance mapping %s", provTable)
		return
	}
	if _, err = p.RebuildUnionMapping(ctx, schema, s); err != nil {
		return
	}
	metric.AnnotationCount.WithLabelValues("remove_semiring", "dropped").Inc()
	removed = true
	return
}

// RemoveProvenance detaches the provenance column from a base table. A
// table without the column is a no-op.
func (p *Provenance) RemoveProvenance(ctx context.Context, schema, table string) (err error) {
	if err = p.setSearchPath(ctx, schema); err != nil {
		return
	}
	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		_, err = tx.ExecContext(ctx, "SELECT remove_provenance($1)", table)
		return
	})
	if err == nil {
		metric.AnnotationCount.WithLabelValues("remove", "dropped").Inc()
		return
	}
	if sqlState(err) == sqlStateUndefinedColumn {
		log.WithFields(log.Fields{
			"schema": schema,
			"table":  table,
		}).Info("table has no provenance column, ignoring")
		metric.AnnotationCount.WithLabelValues("remove", "missing").Inc()
		err = nil
		return
	}
	err = errors.Wrapf(err, "remove provenance from %s.%s", schema, table)
	return
}

// RebuildUnionMapping drops and recreates the schema-wide union mapping
// table of a semiring from every per-table mapping currently present in
// the schema. Returns false when the schema holds no mapping tables for
// the semiring.
func (p *Provenance) RebuildUnionMapping(ctx context.Context, schema string, s types.Semiring) (rebuilt bool, err error) {
	if err = p.setSearchPath(ctx, schema); err != nil {
		return
	}

	var rows *sql.Rows
	if rows, err = p.conn.QueryContext(ctx,
		"SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename LIKE $2",
		schema, "%"+s.TableSuffix(),
	); err != nil {
		err = errors.Wrap(err, "list provenance mapping tables")
		return
	}
	var tables []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			rows.Close()
			err = errors.Wrap(err, "scan mapping table name")
			return
		}
		tables = append(tables, name)
	}
	serr := rows.Err()
	rows.Close()
	if serr != nil {
		err = errors.Wrap(serr, "list provenance mapping tables")
		return
	}

	if len(tables) == 0 {
		log.WithFields(log.Fields{
			"schema": schema,
			"suffix": s.TableSuffix(),
		}).Warning("no provenance mapping tables found in schema")
		return
	}

	qualified := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(s.UnionTable())
	selects := make([]string, len(tables))
	for i, t := range tables {
		selects[i] = fmt.Sprintf("SELECT * FROM %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(t))
	}

	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualified)); err != nil {
			return
		}
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS %s",
			qualified, strings.Join(selects, " UNION ALL "))); err != nil {
			return
		}
		// Token values are stored bare in the per-table mappings, but
		// semiring evaluation expects set-of-sets literals.
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN value TYPE varchar", qualified)); err != nil {
			return
		}
		if _, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET value = '{"{' || value || '}"}'`, qualified)); err != nil {
			return
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (provenance)", qualified))
		return
	})
	if err != nil {
		err = errors.Wrapf(err, "rebuild union mapping %s", s.UnionTable())
		return
	}

	log.WithFields(log.Fields{
		"schema":  schema,
		"table":   s.UnionTable(),
		"sources": len(tables),
	}).Info("union mapping table rebuilt")
	rebuilt = true
	return
}

// Query rewrites a SELECT for the semiring, executes it, and resolves
// every provenance token into the source rows that produced it. Result
// rows keep all their original columns, the raw token column included,
// and gain one entry named after the semiring holding the resolved
// lineage.
func (p *Provenance) Query(ctx context.Context, schema, query string, s types.Semiring) (result []map[string]interface{}, err error) {
	var rewritten string
	if rewritten, err = p.rw.Rewrite(query, s); err != nil {
		return
	}

	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		stmt := fmt.Sprintf("SET search_path TO %s, public, provsql", pq.QuoteIdentifier(schema))
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return
		}

		var rows *sql.Rows
		if rows, err = tx.QueryContext(ctx, rewritten); err != nil {
			return
		}
		if result, err = scanRows(rows); err != nil {
			return
		}

		for _, row := range result {
			tokenColumn := s.RetrievalFunction
			if s.SupportsAggregate() {
				if _, ok := row[s.AggregateFunction]; ok {
					tokenColumn = s.AggregateFunction
				}
			}
			var token string
			switch v := row[tokenColumn].(type) {
			case string:
				token = v
			case nil:
				// Aggregation over an empty group yields a null token.
			default:
				err = errors.Errorf("unexpected type %T in token column %s", v, tokenColumn)
				return
			}
			var related []RelatedRow
			if related, err = p.fetchRelatedData(ctx, tx, token, s); err != nil {
				return
			}
			row[s.Name] = related
		}
		return
	})
	if err == nil {
		return
	}

	result = nil
	switch sqlState(err) {
	case sqlStateUndefinedTable:
		// The mapping table does not exist, meaning the table has not
		// been annotated with this semiring.
		log.WithFields(log.Fields{
			"schema":   schema,
			"semiring": s.Name,
		}).WithError(err).Warning("table not annotated with semiring")
		err = errors.Wrapf(ErrTableNotAnnotated,
			"table is not annotated with semiring %q, annotate the table first", s.Name)
	case sqlStateInternalError:
		log.WithFields(log.Fields{
			"semiring": s.Name,
		}).WithError(err).Error("provsql internal error while querying")
		err = errors.Wrapf(ErrProvSqlInternal,
			"the table may have lost its provenance annotations, re-annotate it with the %q semiring and retry: %v",
			s.Name, errors.Cause(err))
	default:
		err = errors.Wrap(err, "execute provenance query")
	}
	return
}

// FetchRelatedData resolves a provenance equation into the source rows
// it references. Results group by table in first-appearance order and
// keep the reference order within each table.
func (p *Provenance) FetchRelatedData(ctx context.Context, schema, equation string, s types.Semiring) (result []RelatedRow, err error) {
	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		stmt := fmt.Sprintf("SET search_path TO %s, public, provsql", pq.QuoteIdentifier(schema))
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return
		}
		result, err = p.fetchRelatedData(ctx, tx, equation, s)
		return
	})
	return
}

func (p *Provenance) fetchRelatedData(ctx context.Context, tx *sql.Tx, equation string, s types.Semiring) (result []RelatedRow, err error) {
	var refs []mapping.RowReference
	if refs, err = s.Mapping.DecodeEquation(equation); err != nil {
		return
	}

	// Group references by table, keeping first-appearance order.
	groups := make(map[string][]mapping.RowReference)
	var tables []string
	for _, ref := range refs {
		if _, ok := groups[ref.Table]; !ok {
			tables = append(tables, ref.Table)
		}
		groups[ref.Table] = append(groups[ref.Table], ref)
	}

	result = make([]RelatedRow, 0, len(refs))
	for _, table := range tables {
		group := groups[table]
		ctids := make([]string, len(group))
		for i, ref := range group {
			ctids[i] = fmt.Sprintf("(%d,%d)", ref.Page, ref.Row)
		}

		var rows *sql.Rows
		if rows, err = tx.QueryContext(ctx,
			fmt.Sprintf("SELECT *, ctid FROM %s WHERE ctid = ANY($1::tid[])", pq.QuoteIdentifier(table)),
			pq.Array(ctids),
		); err != nil {
			err = errors.Wrapf(err, "fetch source rows from %s", table)
			return
		}
		var fetched []map[string]interface{}
		if fetched, err = scanRows(rows); err != nil {
			err = errors.Wrapf(err, "scan source rows from %s", table)
			return
		}
		byCtid := make(map[string]map[string]interface{}, len(fetched))
		for _, row := range fetched {
			if ctid, ok := row["ctid"].(string); ok {
				byCtid[ctid] = row
			}
		}

		for i, ref := range group {
			row, ok := byCtid[ctids[i]]
			if !ok {
				log.WithFields(log.Fields{
					"table": table,
					"ctid":  ctids[i],
				}).Warning("no data found for reference")
				continue
			}
			data := make(map[string]interface{}, len(row))
			for k, v := range row {
				if k == "ctid" {
					continue
				}
				data[k] = v
			}
			result = append(result, RelatedRow{
				Reference: ref.String(),
				Data:      data,
			})
		}
	}
	return
}

// EnsureSemiringSetup checks the canary table for the semiring setup
// script and executes the embedded script when the canary is missing or
// does not carry requiredVersion. An empty requiredVersion selects the
// version shipped with this build.
func (p *Provenance) EnsureSemiringSetup(ctx context.Context, requiredVersion string) (err error) {
	if requiredVersion == "" {
		requiredVersion = setupScriptVersion
	}

	var version string
	err = p.conn.QueryRowContext(ctx,
		"SELECT version FROM public.provsql_canary WHERE script_name = $1",
		setupScriptName,
	).Scan(&version)

	switch {
	case err == sql.ErrNoRows:
		log.WithFields(log.Fields{
			"script": setupScriptName,
		}).Info("canary not found, executing semiring setup script")
	case sqlState(err) == sqlStateUndefinedTable:
		log.WithFields(log.Fields{
			"script": setupScriptName,
		}).Info("canary table does not exist, executing semiring setup script")
	case err != nil:
		err = errors.Wrap(err, "check semiring setup canary")
		return
	case version != requiredVersion:
		log.WithFields(log.Fields{
			"script":   setupScriptName,
			"found":    version,
			"expected": requiredVersion,
		}).Info("semiring setup version mismatch, re-executing script")
	default:
		log.WithFields(log.Fields{
			"script":  setupScriptName,
			"version": version,
		}).Debug("semiring setup already executed")
		return
	}

	err = p.withTx(ctx, func(tx *sql.Tx) (err error) {
		_, err = tx.ExecContext(ctx, semiringSetupScript)
		return
	})
	if err != nil {
		log.WithError(err).Error("failed to execute semiring setup script")
		err = errors.Wrap(err, "execute semiring setup script")
		return
	}
	log.WithFields(log.Fields{
		"script": setupScriptName,
	}).Info("semiring setup script executed")
	return
}

// scanRows drains a result set into generic column maps and closes it.
// Text-transported values arrive as byte slices and are converted so the
// maps marshal as JSON strings rather than base64.
func scanRows(rows *sql.Rows) (result []map[string]interface{}, err error) {
	defer rows.Close()
	var columns []string
	if columns, err = rows.Columns(); err != nil {
		err = errors.Wrap(err, "read result columns")
		return
	}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err = rows.Scan(pointers...); err != nil {
			err = errors.Wrap(err, "scan result row")
			return
		}
		row := make(map[string]interface{}, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result = append(result, row)
	}
	err = rows.Err()
	return
}
