// Package routing decomposes a way network into an undirected graph of
// vertices and weighted edges split at junctions.
package routing

import (
	"github.com/paulmach/orb"
)

// Vertex is a graph node: a way endpoint or a node shared by several ways
type Vertex struct {
	ID     int64
	NodeID int64
	Point  orb.Point // lon/lat
}

// Edge is a way segment between two vertices
type Edge struct {
	ID          int64
	WayID       int64
	Source      int64
	Target      int64
	Geometry    orb.LineString // lon/lat
	LengthM     float64
	Cost        float64
	ReverseCost float64
}

// Graph is the routing graph built from one extract
type Graph struct {
	Vertices []Vertex
	Edges    []Edge
}

// VertexAllocator hands out sequential vertex ids, one per node id on first
// sight. Each build owns its allocator.
type VertexAllocator struct {
	ids      map[int64]int64
	vertices []Vertex
}

// NewVertexAllocator creates an allocator whose first id is 1
func NewVertexAllocator() *VertexAllocator {
	return &VertexAllocator{ids: make(map[int64]int64)}
}

// Vertex returns the id of node, registering it at p if unseen
func (a *VertexAllocator) Vertex(node int64, p orb.Point) int64 {
	if id, ok := a.ids[node]; ok {
		return id
	}
	id := int64(len(a.vertices) + 1)
	a.ids[node] = id
	a.vertices = append(a.vertices, Vertex{ID: id, NodeID: node, Point: p})
	return id
}

// Len returns the number of registered vertices
func (a *VertexAllocator) Len() int {
	return len(a.vertices)
}

// Vertices returns the registered vertices in id order
func (a *VertexAllocator) Vertices() []Vertex {
	return a.vertices
}

// Degree returns how many edges touch each vertex id
func (g *Graph) Degree() map[int64]int {
	deg := make(map[int64]int, len(g.Vertices))
	for _, e := range g.Edges {
		deg[e.Source]++
		deg[e.Target]++
	}
	return deg
}

// Components counts the connected components of the graph, isolated
// vertices included
func (g *Graph) Components() int {
	parent := make(map[int64]int64, len(g.Vertices))
	var find func(int64) int64
	find = func(v int64) int64 {
		p, ok := parent[v]
		if !ok || p == v {
			parent[v] = v
			return v
		}
		root := find(p)
		parent[v] = root
		return root
	}

	for _, v := range g.Vertices {
		find(v.ID)
	}
	for _, e := range g.Edges {
		a, b := find(e.Source), find(e.Target)
		if a != b {
			parent[a] = b
		}
	}

	n := 0
	for v := range parent {
		if find(v) == v {
			n++
		}
	}
	return n
}
