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

import "errors"

var (
	// ErrTableOrSchemaNotFound indicates the target base table or schema
	// does not exist in the connected database.
	ErrTableOrSchemaNotFound = errors.New("table or schema not found")

	// ErrProvSqlMissing indicates the ProvSQL extension is not installed
	// or not available on the PostgreSQL server.
	ErrProvSqlMissing = errors.New("provsql extension not available")

	// ErrTableNotAnnotated indicates a provenance query touched a table
	// that has not been annotated with the requested semiring.
	ErrTableNotAnnotated = errors.New("table not annotated")

	// ErrProvSqlInternal indicates ProvSQL raised an internal error,
	// typically after annotations were dropped underneath a query.
	ErrProvSqlInternal = errors.New("provsql internal error")
)
