/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flow

import "fmt"

// UnknownConnector is returned by Compile when an edge references a
// connector id with no matching entry in the graph's connector list.
type UnknownConnector struct {
	ConnectorID string
}

func (e *UnknownConnector) Error() string {
	return fmt.Sprintf("unknown connector %q", e.ConnectorID)
}

// Route is one fanout target: when the source node (the Fanout key the
// route is stored under) produces an output named "OutName", deliver its
// value into target node "To"'s input named "InName".
type Route struct {
	OutName string
	To      string
	InName  string
}

// CompiledGraph is the Graph reduced to the indices the scheduler needs:
// connector lookups, the derived fanout table, each node's in-degree (the
// number of distinct input names it is wired to), and the set of source
// nodes (no incoming edge) to seed at startup.
type CompiledGraph struct {
	Nodes       map[string]GraphNode
	Fanout      map[string][]Route // source node id -> routes
	InDegree    map[string]int     // node id -> distinct input names wired
	SourceNodes []string           // nodes with no incoming edge, insertion order
}

// Compile builds a CompiledGraph from a Graph, or a structural error if any
// edge endpoint is unresolved. Compile is total: every graph either yields
// a runnable CompiledGraph or a structural error, never a partial result.
func Compile(g *Graph) (*CompiledGraph, error) {
	connByID := make(map[string]Connector, len(g.Connectors))
	for _, c := range g.Connectors {
		connByID[c.ID] = c
	}

	cg := &CompiledGraph{
		Nodes:    make(map[string]GraphNode, len(g.Nodes)),
		Fanout:   make(map[string][]Route),
		InDegree: make(map[string]int),
	}
	for _, n := range g.Nodes {
		cg.Nodes[n.ID] = n
	}

	// inputNames[node_id] tracks the distinct input connector names wired to
	// that node so in-degree counts names, not edges (a node fed the same
	// input name by two edges still only needs one distinct name satisfied).
	inputNames := make(map[string]map[string]struct{})
	hasIncoming := make(map[string]bool)

	for _, e := range g.Edges {
		src, ok := connByID[e.Source]
		if !ok {
			return nil, &UnknownConnector{ConnectorID: e.Source}
		}
		dst, ok := connByID[e.Target]
		if !ok {
			return nil, &UnknownConnector{ConnectorID: e.Target}
		}

		cg.Fanout[src.NodeID] = append(cg.Fanout[src.NodeID], Route{
			OutName: src.Name,
			To:      dst.NodeID,
			InName:  dst.Name,
		})

		if inputNames[dst.NodeID] == nil {
			inputNames[dst.NodeID] = make(map[string]struct{})
		}
		inputNames[dst.NodeID][dst.Name] = struct{}{}
		hasIncoming[dst.NodeID] = true
	}

	for nodeID, names := range inputNames {
		cg.InDegree[nodeID] = len(names)
	}

	for _, n := range g.Nodes {
		if !hasIncoming[n.ID] {
			cg.SourceNodes = append(cg.SourceNodes, n.ID)
		}
	}

	return cg, nil
}
