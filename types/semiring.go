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

package types

import (
	"github.com/datagems-eosc/ap-explanation/mapping"
)

// Semiring describes one contribution algebra: the SQL function names used to
// compute its provenance values and the naming conventions of its mapping
// tables. Semirings are static process-wide configuration.
type Semiring struct {
	// Name identifies the semiring.
	Name string
	// RetrievalFunction is the SQL function extracting a per-row
	// contribution token for non-aggregate queries.
	RetrievalFunction string
	// AggregateFunction is the SQL function used for aggregate queries.
	// Empty means aggregate queries are not supported by this semiring.
	AggregateFunction string
	// MappingTable is the global per-semiring mapping table, passed as a
	// string literal argument to the retrieval/aggregate functions.
	MappingTable string
	// Mapping determines how database rows are encoded into reference
	// tokens and decoded back.
	Mapping mapping.Strategy
}

// TableSuffix returns the suffix appended to per-table provenance mapping
// tables of this semiring.
func (s Semiring) TableSuffix() string {
	return "_prov" + s.Name
}

// MappingTableFor returns the per-table provenance mapping table name for
// the given base table.
func (s Semiring) MappingTableFor(table string) string {
	return table + s.TableSuffix()
}

// UnionTable returns the name of the per-schema union mapping table of this
// semiring.
func (s Semiring) UnionTable() string {
	return s.Name + "_mapping"
}

// SupportsAggregate reports whether aggregate queries can be rewritten under
// this semiring.
func (s Semiring) SupportsAggregate() bool {
	return s.AggregateFunction != ""
}
