package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"paper-graph/models"

	"go.uber.org/zap"
)

func TestUpsertCreatesAndUpdatesInPlace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := NewPaperResolver(db, zap.NewNop(), 2)
	mapping, err := r.UpsertGraphPapers(ctx, []models.GraphNode{
		{ID: "https://example.org/a", URL: "https://example.org/a", Title: "Erster Titel", DOI: "10.1/abc"},
	})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	firstID, ok := mapping.Resolve("https://example.org/a")
	if !ok || firstID == 0 {
		t.Fatalf("mapping missing: %+v", mapping)
	}

	// Zweiter Aufruf mit derselben URL: Update statt Duplikat,
	// leere Felder überschreiben (last-write-wins, kein Feld-Merge)
	r2 := NewPaperResolver(db, zap.NewNop(), 2)
	mapping2, err := r2.UpsertGraphPapers(ctx, []models.GraphNode{
		{ID: "ephemeral-7", URL: "https://example.org/a", Title: "Neuer Titel"},
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	secondID, _ := mapping2.Resolve("ephemeral-7")
	if secondID != firstID {
		t.Errorf("same URL must resolve to same paper: %d vs %d", secondID, firstID)
	}

	var count int64
	db.Model(&models.Paper{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 paper, got %d", count)
	}

	var paper models.Paper
	db.First(&paper, firstID)
	if paper.Title != "Neuer Titel" {
		t.Errorf("title not overwritten: %q", paper.Title)
	}
	if paper.DOI != "" {
		t.Errorf("empty DOI must overwrite, got %q", paper.DOI)
	}
}

func TestUpsertUsesHTTPNodeIDAsURL(t *testing.T) {
	db := newTestDB(t)

	r := NewPaperResolver(db, zap.NewNop(), 1)
	_, err := r.UpsertGraphPapers(context.Background(), []models.GraphNode{
		{ID: "https://example.org/b", Title: "Nur ID, keine URL"},
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var paper models.Paper
	if err := db.First(&paper, "url = ?", "https://example.org/b").Error; err != nil {
		t.Fatalf("paper not stored under node id url: %v", err)
	}
}

func TestUpsertWithoutURLCreatesSyntheticIdentity(t *testing.T) {
	db := newTestDB(t)

	r := NewPaperResolver(db, zap.NewNop(), 1)
	mapping, err := r.UpsertGraphPapers(context.Background(), []models.GraphNode{
		{ID: "node-abc123", Label: "Unbekanntes Paper"},
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, ok := mapping.Resolve("node-abc123"); !ok {
		t.Error("node id must still resolve")
	}

	var paper models.Paper
	if err := db.First(&paper).Error; err != nil {
		t.Fatalf("paper missing: %v", err)
	}
	if !strings.HasPrefix(paper.URL, "node://") {
		t.Errorf("expected synthetic url, got %q", paper.URL)
	}
	if paper.Title != "Unbekanntes Paper" {
		t.Errorf("label must serve as title fallback, got %q", paper.Title)
	}
}

func TestUpsertWithoutURLUpdatesOnRepeat(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := NewPaperResolver(db, zap.NewNop(), 1)
	mapping, err := r.UpsertGraphPapers(ctx, []models.GraphNode{
		{ID: "node-abc123", Label: "Erster Stand"},
	})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	firstID, _ := mapping.Resolve("node-abc123")

	// Dieselbe synthetische Identität erneut: Update, kein Unique-Konflikt
	r2 := NewPaperResolver(db, zap.NewNop(), 1)
	mapping2, err := r2.UpsertGraphPapers(ctx, []models.GraphNode{
		{ID: "node-abc123", Label: "Zweiter Stand"},
	})
	if err != nil {
		t.Fatalf("repeated upsert failed: %v", err)
	}
	secondID, _ := mapping2.Resolve("node-abc123")
	if secondID != firstID {
		t.Errorf("same node id must resolve to same paper: %d vs %d", secondID, firstID)
	}

	var count int64
	db.Model(&models.Paper{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 paper, got %d", count)
	}

	var paper models.Paper
	db.First(&paper, firstID)
	if paper.Title != "Zweiter Stand" {
		t.Errorf("title not updated: %q", paper.Title)
	}
}

func TestUpsertConcurrentDistinctURLs(t *testing.T) {
	db := newTestDB(t)

	nodes := make([]models.GraphNode, 0, 20)
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://example.org/p%d", i)
		nodes = append(nodes, models.GraphNode{ID: url, URL: url, Title: fmt.Sprintf("Paper %d", i)})
	}

	r := NewPaperResolver(db, zap.NewNop(), 5)
	mapping, err := r.UpsertGraphPapers(context.Background(), nodes)
	if err != nil {
		t.Fatalf("concurrent upsert failed: %v", err)
	}
	if len(mapping.ByURL) != 20 {
		t.Errorf("expected 20 mapped urls, got %d", len(mapping.ByURL))
	}

	var count int64
	db.Model(&models.Paper{}).Count(&count)
	if count != 20 {
		t.Errorf("expected 20 papers, got %d", count)
	}
}

func TestUpsertConcurrentSameURL(t *testing.T) {
	db := newTestDB(t)

	// Zwei ephemere Knoten, dieselbe URL: genau ein Paper, beide IDs mappen
	nodes := []models.GraphNode{
		{ID: "ephemeral-1", URL: "https://example.org/same", Title: "A"},
		{ID: "ephemeral-2", URL: "https://example.org/same", Title: "B"},
	}

	r := NewPaperResolver(db, zap.NewNop(), 2)
	mapping, err := r.UpsertGraphPapers(context.Background(), nodes)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	var count int64
	db.Model(&models.Paper{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 paper for shared URL, got %d", count)
	}

	id1, ok1 := mapping.Resolve("ephemeral-1")
	id2, ok2 := mapping.Resolve("ephemeral-2")
	if !ok1 || !ok2 || id1 != id2 {
		t.Errorf("both ephemeral ids must map to the same paper: %d/%v %d/%v", id1, ok1, id2, ok2)
	}
}

func TestIDMappingPrefersURL(t *testing.T) {
	m := &IDMapping{
		ByNodeID: map[string]uint{"https://example.org/a": 1},
		ByURL:    map[string]uint{"https://example.org/a": 2},
	}
	if id, _ := m.Resolve("https://example.org/a"); id != 2 {
		t.Errorf("URL mapping must win, got %d", id)
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]bool{
		"2023-05-17T00:00:00Z": true,
		"2023-05-17":           true,
		"2023":                 true,
		"May 2023":             false,
		"":                     false,
	}
	for input, want := range cases {
		got := parseDate(input) != nil
		if got != want {
			t.Errorf("parseDate(%q): got %v, want %v", input, got, want)
		}
	}
}
