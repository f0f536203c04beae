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

// Package mapping defines how physical database rows are encoded into
// provenance reference tokens and decoded back into row identities.
package mapping

import (
	"fmt"
)

// RowReference identifies one physical row of a base table.
type RowReference struct {
	// Table is the relation the row belongs to.
	Table string
	// Page is the physical page number of the row.
	Page uint32
	// Row is the row offset within the page.
	Row uint32
}

// String formats the reference in the canonical token form.
func (r RowReference) String() string {
	return fmt.Sprintf("%s@p%dr%d", r.Table, r.Page, r.Row)
}

// Strategy encodes rows of a table into reference tokens embeddable in SQL
// and decodes provenance equations back into row references.
//
// Tokens are only meaningful within one physical table and become stale once
// the table is rewritten (VACUUM FULL, UPDATE); callers accept that risk.
type Strategy interface {
	// Encode returns a SQL expression that evaluates, per row of the given
	// table, to that row's reference token.
	Encode(table string) string

	// Decode parses one bare reference token.
	Decode(value string) (RowReference, error)

	// DecodeEquation parses a compound provenance equation containing zero
	// or more brace-delimited reference tokens, preserving their order of
	// appearance. Malformed tokens fail the whole decode.
	DecodeEquation(values string) ([]RowReference, error)
}
