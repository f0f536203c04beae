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

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

const (
	nodeTypeDatabase = "database"
	nodeTypeTable    = "table"
	nodeTypeSQL      = "sql_operator"

	defaultSchema = "public"
)

// APNode is a single node of an analytical pipeline graph.
type APNode struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata"`
}

// APEdge connects two pipeline nodes by their identifiers.
type APEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// APGraph is the wire form of an analytical pipeline.
type APGraph struct {
	Nodes []APNode `json:"nodes"`
	Edges []APEdge `json:"edges"`
}

// AP is the digest of a pipeline graph the handlers act on: the
// database and schema to connect to, the tables touched by the
// pipeline, and the SQL statement of its single operator.
type AP struct {
	Database string
	Schema   string
	Tables   []string
	SQL      string
}

func (n *APNode) meta(key string) (value string) {
	value, _ = n.Metadata[key].(string)
	return
}

// ParseAP decodes an analytical pipeline graph and extracts the parts
// provenance tracking needs. The graph must contain exactly one
// database node, exactly one sql_operator node, and at least one table
// node, all with their required metadata.
func ParseAP(r io.Reader) (ap *AP, err error) {
	var graph APGraph
	if err = json.NewDecoder(r).Decode(&graph); err != nil {
		err = errors.Wrapf(ErrInvalidAP, "decode pipeline: %v", err)
		return
	}

	var (
		databases int
		operators int
		seen      = make(map[string]struct{})
	)
	digest := &AP{Schema: defaultSchema}
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		switch node.Type {
		case nodeTypeDatabase:
			databases++
			if digest.Database = node.meta("name"); digest.Database == "" {
				err = errors.Wrapf(ErrInvalidAP, "database node %q has no name", node.ID)
				return
			}
			if schema := node.meta("schema"); schema != "" {
				digest.Schema = schema
			}
		case nodeTypeTable:
			name := node.meta("name")
			if name == "" {
				err = errors.Wrapf(ErrInvalidAP, "table node %q has no name", node.ID)
				return
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			digest.Tables = append(digest.Tables, name)
		case nodeTypeSQL:
			operators++
			if digest.SQL = node.meta("query"); digest.SQL == "" {
				err = errors.Wrapf(ErrInvalidAP, "sql operator node %q has no query", node.ID)
				return
			}
		}
	}

	switch {
	case databases != 1:
		err = errors.Wrapf(ErrInvalidAP, "pipeline has %d database nodes, want exactly one", databases)
		return
	case operators != 1:
		err = errors.Wrapf(ErrInvalidAP, "pipeline has %d sql operator nodes, want exactly one", operators)
		return
	case len(digest.Tables) == 0:
		err = errors.Wrap(ErrInvalidAP, "pipeline has no table nodes")
		return
	}
	ap = digest
	return
}
