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

// DefaultSemirings returns the built-in semiring configurations.
func DefaultSemirings() []Semiring {
	return []Semiring{
		{
			Name:              "formula",
			RetrievalFunction: "formula",
			AggregateFunction: "aggregation_formula",
			MappingTable:      "formula_mapping",
			Mapping:           mapping.NewCtid(),
		},
		{
			Name:              "why",
			RetrievalFunction: "whyprov_now",
			MappingTable:      "why_mapping",
			Mapping:           mapping.NewCtid(),
		},
	}
}

// Registry holds the semiring configurations known to the process, keyed by
// name, preserving registration order for stable listings.
type Registry struct {
	semirings map[string]Semiring
	order     []string
}

// NewRegistry creates a registry containing the given semirings.
func NewRegistry(semirings ...Semiring) *Registry {
	r := &Registry{
		semirings: make(map[string]Semiring, len(semirings)),
	}
	for _, s := range semirings {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a semiring configuration.
func (r *Registry) Register(s Semiring) {
	if _, ok := r.semirings[s.Name]; !ok {
		r.order = append(r.order, s.Name)
	}
	r.semirings[s.Name] = s
}

// Lookup returns the semiring registered under name.
func (r *Registry) Lookup(name string) (s Semiring, ok bool) {
	s, ok = r.semirings[name]
	return
}

// Names returns all registered semiring names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
