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
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// SQLSTATE codes the repository reacts to. Everything else propagates
// untranslated.
const (
	sqlStateDuplicateColumn     = "42701"
	sqlStateDuplicateTable      = "42P07"
	sqlStateUndefinedColumn     = "42703"
	sqlStateUndefinedTable      = "42P01"
	sqlStateInvalidSchemaName   = "3F000"
	sqlStateUndefinedFile       = "58P01"
	sqlStateFeatureNotSupported = "0A000"
	sqlStateInternalError       = "XX000"
)

// sqlState extracts the SQLSTATE code from a (possibly wrapped) driver
// error, or returns the empty code for non-PostgreSQL errors.
func sqlState(err error) pq.ErrorCode {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code
	}
	return ""
}
