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

package mapping

import "errors"

var (
	// ErrInvalidReference defines error on decoding a reference token that
	// does not follow the table@p<page>r<row> form.
	ErrInvalidReference = errors.New("invalid provenance reference")

	// ErrInvalidEquation defines error on decoding a provenance equation
	// containing malformed or unterminated reference tokens.
	ErrInvalidEquation = errors.New("invalid provenance equation")
)
