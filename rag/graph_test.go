package rag

import (
	"testing"

	"github.com/BaSui01/knowledgeflow/types"
)

func TestGraph_MirrorInvariant(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", nil)
	g.AddNode("b", "entity", nil)

	if err := g.AddEdge("a", "b", "mentions", map[string]any{"count": 2}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	a, _ := g.GetNode("a")
	b, _ := g.GetNode("b")
	if len(a.Outgoing) != 1 || len(b.Incoming) != 1 {
		t.Fatalf("expected mirrored edge, got out=%d in=%d", len(a.Outgoing), len(b.Incoming))
	}
	if a.Outgoing[0].ID != b.Incoming[0].ID {
		t.Fatalf("mirror ids differ: %s vs %s", a.Outgoing[0].ID, b.Incoming[0].ID)
	}
	if a.Outgoing[0].ID != "a:mentions:b" {
		t.Fatalf("unexpected composite id %s", a.Outgoing[0].ID)
	}
}

func TestGraph_AddEdgeIdempotent(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", nil)
	g.AddNode("b", "document", nil)

	if err := g.AddEdge("a", "b", "cites", map[string]any{"v": 1}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge("a", "b", "cites", map[string]any{"v": 2}); err != nil {
		t.Fatalf("AddEdge twice: %v", err)
	}

	if g.EdgeCount() != 1 {
		t.Fatalf("expected 1 edge after re-insert, got %d", g.EdgeCount())
	}
	a, _ := g.GetNode("a")
	if got := a.Outgoing[0].Properties["v"]; got != 2 {
		t.Fatalf("expected properties replaced, got %v", got)
	}
}

func TestGraph_AddEdgeMissingEndpoint(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", nil)

	err := g.AddEdge("a", "ghost", "cites", nil)
	if !types.IsCode(err, types.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	err = g.AddEdge("ghost", "a", "cites", nil)
	if !types.IsCode(err, types.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGraph_AddNodeUpsertPreservesEdges(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", map[string]any{"title": "old"})
	g.AddNode("b", "document", nil)
	if err := g.AddEdge("a", "b", "cites", nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	g.AddNode("a", "article", map[string]any{"title": "new"})

	a, ok := g.GetNode("a")
	if !ok {
		t.Fatal("node a missing after upsert")
	}
	if a.Type != "article" || a.Properties["title"] != "new" {
		t.Fatalf("expected replaced type/properties, got %+v", a)
	}
	if len(a.Outgoing) != 1 {
		t.Fatalf("expected edges preserved, got %d", len(a.Outgoing))
	}
}

func TestGraph_GetRelatedCycleTerminates(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", nil)
	g.AddNode("b", "document", nil)
	mustEdge(t, g, "a", "b", "links")
	mustEdge(t, g, "b", "a", "links")

	related, err := g.GetRelated("a", "", 5)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	if len(related) != 1 || related[0].ID != "b" {
		t.Fatalf("expected exactly [b], got %d results", len(related))
	}
}

func TestGraph_GetRelatedDepthAndTypeFilter(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id, "document", nil)
	}
	mustEdge(t, g, "a", "b", "cites")
	mustEdge(t, g, "b", "c", "cites")
	mustEdge(t, g, "a", "d", "mentions")

	// depth 1：只有直接邻居
	related, err := g.GetRelated("a", "", 1)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("depth 1 expected 2 nodes, got %d", len(related))
	}

	// depth 2 + 类型过滤
	related, err = g.GetRelated("a", "cites", 2)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	ids := map[string]bool{}
	for _, n := range related {
		ids[n.ID] = true
	}
	if !ids["b"] || !ids["c"] || ids["d"] {
		t.Fatalf("expected {b,c}, got %v", ids)
	}

	// depth 0：不扩展
	related, err = g.GetRelated("a", "", 0)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	if len(related) != 0 {
		t.Fatalf("depth 0 expected no expansion, got %d", len(related))
	}
}

func TestGraph_FindPathPrefersShortest(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, "document", nil)
	}
	mustEdge(t, g, "a", "b", "next")
	mustEdge(t, g, "b", "c", "next")
	mustEdge(t, g, "a", "c", "shortcut")

	path, err := g.FindPath("a", "c", 5)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if path == nil {
		t.Fatal("expected a path")
	}
	if path.Length() != 1 {
		t.Fatalf("expected direct edge (length 1), got length %d", path.Length())
	}
	if path.Edges[0].Type != "shortcut" {
		t.Fatalf("expected shortcut edge, got %s", path.Edges[0].Type)
	}
}

func TestGraph_FindPathSelfAndUnreachable(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", nil)
	g.AddNode("z", "document", nil)

	path, err := g.FindPath("a", "a", 3)
	if err != nil {
		t.Fatalf("FindPath self: %v", err)
	}
	if path.Length() != 0 || len(path.Nodes) != 1 || path.Nodes[0].ID != "a" {
		t.Fatalf("expected zero-length self path, got %+v", path)
	}

	path, err = g.FindPath("a", "z", 3)
	if err != nil {
		t.Fatalf("FindPath unreachable: %v", err)
	}
	if path != nil {
		t.Fatalf("expected nil for unreachable target, got %+v", path)
	}

	_, err = g.FindPath("a", "ghost", 3)
	if !types.IsCode(err, types.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for missing endpoint, got %v", err)
	}
}

func TestGraph_FindPathRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, "document", nil)
	}
	mustEdge(t, g, "a", "b", "next")
	mustEdge(t, g, "b", "c", "next")

	path, err := g.FindPath("a", "c", 1)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if path != nil {
		t.Fatalf("expected no path within 1 hop, got length %d", path.Length())
	}
}

func TestGraph_QueryGraphScoring(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("d1", "document", nil)
	g.AddNode("d2", "document", nil)
	g.AddNode("p1", "person", map[string]any{"role": "document"})
	g.AddNode("p2", "person", map[string]any{"bio": "writes documentation"})
	g.AddNode("x", "documentation-index", nil)
	g.AddNode("unrelated", "city", map[string]any{"name": "Berlin"})

	results := g.QueryGraph("document")
	if len(results) != 5 {
		t.Fatalf("expected 5 matches, got %d", len(results))
	}

	// 完整类型匹配的 document 节点以 100 分排在最前
	if results[0].Score != 100 || results[1].Score != 100 {
		t.Fatalf("expected top scores 100, got %f/%f", results[0].Score, results[1].Score)
	}
	if results[0].Node.ID != "d1" || results[1].Node.ID != "d2" {
		t.Fatalf("expected d1,d2 first (id tie-break), got %s,%s",
			results[0].Node.ID, results[1].Node.ID)
	}

	scores := map[string]float64{}
	for _, r := range results {
		scores[r.Node.ID] = r.Score
	}
	if scores["p1"] != 75 {
		t.Fatalf("exact property match expected 75, got %f", scores["p1"])
	}
	if scores["x"] != 50 {
		t.Fatalf("substring type match expected 50, got %f", scores["x"])
	}
	if scores["p2"] != 25 {
		t.Fatalf("substring property match expected 25, got %f", scores["p2"])
	}
}

func TestGraph_DeleteNodeCascades(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, "document", nil)
	}
	mustEdge(t, g, "a", "b", "cites")
	mustEdge(t, g, "c", "a", "cites")

	g.DeleteNode("a")
	g.DeleteNode("a") // idempotent

	if _, ok := g.GetNode("a"); ok {
		t.Fatal("node a should be gone")
	}
	if g.EdgeCount() != 0 {
		t.Fatalf("expected all edges gone, got %d", g.EdgeCount())
	}
	b, _ := g.GetNode("b")
	c, _ := g.GetNode("c")
	if len(b.Incoming) != 0 || len(c.Outgoing) != 0 {
		t.Fatalf("dangling references remain: b.in=%d c.out=%d", len(b.Incoming), len(c.Outgoing))
	}
}

func TestGraph_DeleteEdgeIdempotent(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", nil)
	g.AddNode("b", "document", nil)
	mustEdge(t, g, "a", "b", "cites")

	g.DeleteEdge("a", "b", "cites")
	g.DeleteEdge("a", "b", "cites")

	if g.EdgeCount() != 0 {
		t.Fatalf("expected 0 edges, got %d", g.EdgeCount())
	}
	a, _ := g.GetNode("a")
	if len(a.Outgoing) != 0 {
		t.Fatal("outgoing edge still listed after delete")
	}
}

func TestGraph_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	g := NewRelationshipGraph(nil)
	g.AddNode("a", "document", map[string]any{"documentId": "a"})
	g.AddNode("b", "entity", nil)
	mustEdge(t, g, "a", "b", "mentions")

	data, err := g.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := NewRelationshipGraph(nil)
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.NodeCount() != 2 || restored.EdgeCount() != 1 {
		t.Fatalf("restored %d nodes / %d edges", restored.NodeCount(), restored.EdgeCount())
	}
	b, _ := restored.GetNode("b")
	if len(b.Incoming) != 1 {
		t.Fatal("mirror edge lost in round trip")
	}
}

func mustEdge(t *testing.T, g *RelationshipGraph, from, to, relType string) {
	t.Helper()
	if err := g.AddEdge(from, to, relType, nil); err != nil {
		t.Fatalf("AddEdge(%s,%s,%s): %v", from, to, relType, err)
	}
}
