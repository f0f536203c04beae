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

import "errors"

var (
	// ErrUnsupportedQuery defines error on rewriting a query that is not a
	// plain SELECT or uses HAVING.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrSemiringOperationNotSupported defines error on requesting an
	// operation the semiring configuration does not provide a function for.
	ErrSemiringOperationNotSupported = errors.New("semiring operation not supported")

	// ErrNoAggregateFound defines error on entering the aggregate rewrite
	// path for a query without any aggregate projection.
	ErrNoAggregateFound = errors.New("no aggregate found in query")
)
