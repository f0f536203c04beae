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

// Package service orchestrates provenance operations across semirings on
// top of the annotation repository.
package service

import (
	"context"

	"github.com/datagems-eosc/ap-explanation/types"
)

// Store is the slice of the annotation repository the service drives.
type Store interface {
	EnableProvenance(ctx context.Context, schema, table string) (bool, error)
	AddSemiring(ctx context.Context, schema, table string, s types.Semiring) (bool, error)
	RemoveSemiring(ctx context.Context, schema, table string, s types.Semiring) (bool, error)
	Query(ctx context.Context, schema, query string, s types.Semiring) ([]map[string]interface{}, error)
}

// QueryResult bundles one semiring's annotated result set.
type QueryResult struct {
	Semiring string                   `json:"semiring"`
	Rows     []map[string]interface{} `json:"rows"`
}

// Service composes repository calls into the dataset-level provenance
// operations. All methods of one Service run against a single database
// session and must not be called concurrently.
type Service struct {
	store Store
}

// NewService returns a service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// AnnotateDataset enables provenance on a table and activates every
// given semiring for it. Returns true when the table was newly enabled
// or any semiring was newly activated.
func (s *Service) AnnotateDataset(ctx context.Context, table, schema string, semirings []types.Semiring) (annotated bool, err error) {
	var enabled bool
	if enabled, err = s.store.EnableProvenance(ctx, schema, table); err != nil {
		return
	}

	var anyAdded bool
	for _, semiring := range semirings {
		var added bool
		if added, err = s.store.AddSemiring(ctx, schema, table, semiring); err != nil {
			return
		}
		anyAdded = anyAdded || added
	}

	annotated = enabled || anyAdded
	return
}

// RemoveAnnotation deactivates the given semirings for a table. The base
// provenance column stays in place since other semirings may still
// depend on it. Returns true when any semiring was actually removed.
func (s *Service) RemoveAnnotation(ctx context.Context, table, schema string, semirings []types.Semiring) (removed bool, err error) {
	for _, semiring := range semirings {
		var dropped bool
		if dropped, err = s.store.RemoveSemiring(ctx, schema, table, semiring); err != nil {
			return
		}
		removed = removed || dropped
	}
	return
}

// ComputeProvenance runs the query once per semiring and collects the
// annotated result sets in input order. Queries run sequentially because
// concurrent transactions are not possible on one session.
func (s *Service) ComputeProvenance(ctx context.Context, schema, query string, semirings []types.Semiring) (results []QueryResult, err error) {
	results = make([]QueryResult, 0, len(semirings))
	for _, semiring := range semirings {
		var rows []map[string]interface{}
		if rows, err = s.store.Query(ctx, schema, query, semiring); err != nil {
			results = nil
			return
		}
		results = append(results, QueryResult{
			Semiring: semiring.Name,
			Rows:     rows,
		})
	}
	return
}
