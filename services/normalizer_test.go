package services

import (
	"reflect"
	"strings"
	"testing"

	"paper-graph/models"

	"go.uber.org/zap"
)

func TestNormalizeCanonicalGraphPassesUnchanged(t *testing.T) {
	n := NewGraphNormalizer(zap.NewNop())
	raw := &models.RawGraph{
		Nodes: []models.GraphNode{
			{ID: "a", Label: "Paper A", URL: "https://example.org/a"},
			{ID: "b", Label: "Paper B"},
		},
		Edges: []models.RawEdge{
			{ID: "e1", From: "a", To: "b", Label: "builds_on", Relationship: "builds_on", Strength: 0.9},
		},
	}

	g := n.Normalize(raw)
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	if g.Nodes[0].ID != "a" || g.Nodes[0].Label != "Paper A" {
		t.Errorf("node changed: %+v", g.Nodes[0])
	}
	if g.Edges[0].ID != "e1" || g.Edges[0].From != "a" || g.Edges[0].To != "b" {
		t.Errorf("edge changed: %+v", g.Edges[0])
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := NewGraphNormalizer(zap.NewNop())
	raw := &models.RawGraph{
		Nodes: []models.GraphNode{
			{URL: "https://example.org/a", Title: "Paper A"},
			{ID: "b"},
		},
		Edges: []models.RawEdge{
			{Source: "https://example.org/a", Target: "b", Relationship: "extends"},
		},
	}

	first := n.Normalize(raw)
	second := n.Normalize(RawFromCanonical(first))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second pass changed the graph:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestNormalizeNodeIDFallbacks(t *testing.T) {
	n := NewGraphNormalizer(zap.NewNop())
	raw := &models.RawGraph{
		Nodes: []models.GraphNode{
			{URL: "https://example.org/a", Title: "Paper A"},
			{Title: "No Identity At All"},
			{ID: "  spaced  "},
		},
	}

	g := n.Normalize(raw)
	if g.Nodes[0].ID != "https://example.org/a" {
		t.Errorf("expected URL fallback, got %q", g.Nodes[0].ID)
	}
	if g.Nodes[0].Label != "Paper A" {
		t.Errorf("expected title as label, got %q", g.Nodes[0].Label)
	}
	if !strings.HasPrefix(g.Nodes[1].ID, "node-") {
		t.Errorf("expected synthetic id, got %q", g.Nodes[1].ID)
	}
	if g.Nodes[2].ID != "spaced" {
		t.Errorf("expected trimmed id, got %q", g.Nodes[2].ID)
	}
	if g.Nodes[2].Label != "spaced" {
		t.Errorf("expected id as label fallback, got %q", g.Nodes[2].Label)
	}
}

func TestNormalizeEdgeEndpointForms(t *testing.T) {
	n := NewGraphNormalizer(zap.NewNop())
	raw := &models.RawGraph{
		Nodes: []models.GraphNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []models.RawEdge{
			{Source: "a", Target: "b", Relationship: "extends"},
			{Source: map[string]any{"id": "b"}, Target: map[string]any{"id": "c"}, Relationship: "applies"},
			{From: "a", To: "c", Relationship: "related"},
			{Source: map[string]any{"x": 1}, Target: "c", Relationship: "related"}, // kein Endpunkt auflösbar
		},
	}

	g := n.Normalize(raw)
	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(g.Edges))
	}
	if g.Edges[0].From != "a" || g.Edges[0].To != "b" {
		t.Errorf("string endpoints: %+v", g.Edges[0])
	}
	if g.Edges[1].From != "b" || g.Edges[1].To != "c" {
		t.Errorf("object endpoints: %+v", g.Edges[1])
	}
	for _, e := range g.Edges {
		if e.ID == "" {
			t.Errorf("edge without id: %+v", e)
		}
		if e.Label == "" {
			t.Errorf("edge without label: %+v", e)
		}
	}
	if g.Edges[0].Label != "extends" {
		t.Errorf("label should default to relationship, got %q", g.Edges[0].Label)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	n := NewGraphNormalizer(zap.NewNop())
	raw := &models.RawGraph{
		Nodes: []models.GraphNode{{URL: "https://example.org/a"}},
		Edges: []models.RawEdge{{Source: "https://example.org/a", Target: "https://example.org/a"}},
	}

	n.Normalize(raw)
	if raw.Nodes[0].ID != "" {
		t.Errorf("input node mutated: %+v", raw.Nodes[0])
	}
	if raw.Edges[0].From != "" {
		t.Errorf("input edge mutated: %+v", raw.Edges[0])
	}
}
