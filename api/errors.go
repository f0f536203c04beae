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

package api

import "errors"

var (
	// ErrInvalidAP indicates the request body is not a well-formed
	// analytical pipeline graph.
	ErrInvalidAP = errors.New("invalid analytical pipeline")

	// ErrUnknownSemiring indicates the route names a semiring that is
	// not in the registry.
	ErrUnknownSemiring = errors.New("unknown semiring")

	// ErrUnknownDatabase indicates the pipeline names a database that
	// is not configured.
	ErrUnknownDatabase = errors.New("unknown database")
)
