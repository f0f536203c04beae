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

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ctidTokenRegex = regexp.MustCompile(`^([^{}@]+)@p(\d+)r(\d+)$`)
	ctidGroupRegex = regexp.MustCompile(`\{[^{}]*\}`)
)

// Ctid maps each row to its physical ctid identity in the token form
// "<table>@p<page>r<row>".
type Ctid struct{}

// NewCtid creates a ctid based mapping strategy.
func NewCtid() *Ctid {
	return &Ctid{}
}

// Encode implements Strategy.Encode.
func (m *Ctid) Encode(table string) string {
	return "'" + table + "@p'||(ctid::text::point)[0]::int||'r'||(ctid::text::point)[1]::int"
}

// Decode implements Strategy.Decode.
func (m *Ctid) Decode(value string) (ref RowReference, err error) {
	groups := ctidTokenRegex.FindStringSubmatch(value)
	if groups == nil {
		err = errors.Wrapf(ErrInvalidReference, "decode %q", value)
		return
	}

	page, err := strconv.ParseUint(groups[2], 10, 32)
	if err != nil {
		err = errors.Wrapf(ErrInvalidReference, "page number in %q", value)
		return
	}
	row, err := strconv.ParseUint(groups[3], 10, 32)
	if err != nil {
		err = errors.Wrapf(ErrInvalidReference, "row number in %q", value)
		return
	}

	ref = RowReference{
		Table: groups[1],
		Page:  uint32(page),
		Row:   uint32(row),
	}
	return
}

// DecodeEquation implements Strategy.DecodeEquation.
//
// The native extension emits contribution formulas as combinations of
// brace-delimited row tokens, e.g. "{t@p0r1}*{t@p0r2}". Every opening brace
// must start a well formed token; a group failing the token form or an
// unterminated brace fails the whole decode instead of being dropped.
func (m *Ctid) DecodeEquation(values string) (refs []RowReference, err error) {
	groups := ctidGroupRegex.FindAllString(values, -1)
	if strings.Count(values, "{") != len(groups) || strings.Count(values, "}") != len(groups) {
		err = errors.Wrapf(ErrInvalidEquation, "unbalanced braces in %q", values)
		return
	}

	refs = make([]RowReference, 0, len(groups))
	for _, g := range groups {
		var ref RowReference
		if ref, err = m.Decode(g[1 : len(g)-1]); err != nil {
			err = errors.Wrapf(ErrInvalidEquation, "token %q", g)
			refs = nil
			return
		}
		refs = append(refs, ref)
	}
	return
}
