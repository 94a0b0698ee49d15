package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"paper-graph/models"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB öffnet eine in-memory SQLite-Datenbank mit dem vollen Schema.
// Eine Verbindung pro Test, damit alle Goroutinen dieselbe Datenbank sehen.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Paper{}, &models.Relation{}, &models.Session{}, &models.Analysis{}); err != nil {
		t.Fatalf("auto-migration failed: %v", err)
	}
	return db
}

func newTestGraphService(t *testing.T) *GraphService {
	t.Helper()
	return NewGraphService(newTestDB(t), zap.NewNop())
}

func testGraph() *models.RawGraph {
	return &models.RawGraph{
		Nodes: []models.GraphNode{
			{ID: "https://example.org/a", URL: "https://example.org/a", Title: "Paper A"},
			{ID: "https://example.org/b", URL: "https://example.org/b", Title: "Paper B"},
			{ID: "https://example.org/c", URL: "https://example.org/c", Title: "Paper C"},
		},
		Edges: []models.RawEdge{
			{From: "https://example.org/a", To: "https://example.org/b", Relationship: "builds_on", Strength: 0.9, Evidence: "builds directly on"},
			{From: "https://example.org/b", To: "https://example.org/c", Relationship: "extends", Strength: 0.7},
		},
	}
}

func TestSaveAnalysisPersistsFullGraph(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	result, err := s.SaveAnalysis(ctx, "user-1", "Meine Analyse", nil, testGraph(), []string{"https://example.org/a"})
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	if result.Session.ID == 0 || result.Session.Title != "Meine Analyse" {
		t.Errorf("unexpected session: %+v", result.Session)
	}
	if len(result.Session.GraphSnapshot) == 0 {
		t.Error("expected graph snapshot to be written")
	}
	if len(result.Graph.Nodes) != 3 || len(result.Graph.Edges) != 2 {
		t.Errorf("remapped graph: %d nodes, %d edges", len(result.Graph.Nodes), len(result.Graph.Edges))
	}
	if result.Stats.Created != 2 || result.Stats.DuplicateSkipped != 0 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}

	var papers, relations, analyses int64
	s.DB.Model(&models.Paper{}).Count(&papers)
	s.DB.Model(&models.Relation{}).Count(&relations)
	s.DB.Model(&models.Analysis{}).Count(&analyses)
	if papers != 3 || relations != 2 || analyses != 3 {
		t.Errorf("got %d papers, %d relations, %d analyses", papers, relations, analyses)
	}

	var relation models.Relation
	if err := s.DB.First(&relation, "relationship = ?", "builds_on").Error; err != nil {
		t.Fatalf("builds_on relation missing: %v", err)
	}
	if relation.Confidence != 0.9 || relation.Evidence != "builds directly on" {
		t.Errorf("classification fields lost: %+v", relation)
	}
}

func TestSaveAnalysisDefaultTitle(t *testing.T) {
	s := newTestGraphService(t)

	result, err := s.SaveAnalysis(context.Background(), "user-1", "", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	if result.Session.Title == "" {
		t.Error("expected generated default title")
	}
}

func TestSaveAnalysisTwiceDoesNotDuplicate(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	if _, err := s.SaveAnalysis(ctx, "user-1", "Erste", nil, testGraph(), nil); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	result, err := s.SaveAnalysis(ctx, "user-1", "Zweite", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if result.Stats.Created != 0 || result.Stats.DuplicateSkipped != 2 {
		t.Errorf("expected both relations skipped as duplicates, got %+v", result.Stats)
	}

	var papers, relations int64
	s.DB.Model(&models.Paper{}).Count(&papers)
	s.DB.Model(&models.Relation{}).Count(&relations)
	if papers != 3 {
		t.Errorf("re-submitting the same URLs must not duplicate papers, got %d", papers)
	}
	if relations != 2 {
		t.Errorf("re-saving must not duplicate relations, got %d", relations)
	}
}

func TestSaveAnalysisURLLessNodesStayIdempotent(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()
	graph := &models.RawGraph{
		Nodes: []models.GraphNode{{ID: "n1", Label: "Paper ohne URL"}},
	}

	if _, err := s.SaveAnalysis(ctx, "user-1", "", nil, graph, nil); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	// Erneutes Speichern derselben synthetischen Identität darf nicht am
	// Unique-Index der URL scheitern
	if _, err := s.SaveAnalysis(ctx, "user-1", "", nil, graph, nil); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	var papers int64
	s.DB.Model(&models.Paper{}).Count(&papers)
	if papers != 1 {
		t.Errorf("expected 1 paper after re-save, got %d", papers)
	}
}

func TestSaveAnalysisDeduplicatesNodesSharingURL(t *testing.T) {
	s := newTestGraphService(t)
	graph := &models.RawGraph{
		Nodes: []models.GraphNode{
			{ID: "ephemeral-1", URL: "https://example.org/same", Title: "Erste Sicht"},
			{ID: "ephemeral-2", URL: "https://example.org/same", Title: "Zweite Sicht"},
		},
	}

	result, err := s.SaveAnalysis(context.Background(), "user-1", "", nil, graph, nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	// Beide ephemeren Knoten zeigen auf dasselbe Paper; der kanonische
	// Graph trägt es nur einmal
	if len(result.Graph.Nodes) != 1 {
		t.Errorf("expected 1 remapped node, got %d", len(result.Graph.Nodes))
	}

	var papers, analyses int64
	s.DB.Model(&models.Paper{}).Count(&papers)
	s.DB.Model(&models.Analysis{}).Count(&analyses)
	if papers != 1 || analyses != 1 {
		t.Errorf("expected 1 paper and 1 analysis, got %d/%d", papers, analyses)
	}
}

func TestSaveAnalysisDropsUnmappableEdges(t *testing.T) {
	s := newTestGraphService(t)
	graph := testGraph()
	graph.Edges = append(graph.Edges, models.RawEdge{
		From: "https://example.org/a", To: "https://example.org/ghost", Relationship: "related",
	})

	result, err := s.SaveAnalysis(context.Background(), "user-1", "", nil, graph, nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	if result.Stats.Unmappable != 1 {
		t.Errorf("expected 1 unmappable edge, got %+v", result.Stats)
	}
	if result.Stats.Created != 2 {
		t.Errorf("remaining edges must still persist, got %+v", result.Stats)
	}
}

func TestSaveAnalysisInvalidLabelFallsBackToRelated(t *testing.T) {
	s := newTestGraphService(t)
	graph := testGraph()
	graph.Edges = []models.RawEdge{
		{From: "https://example.org/a", To: "https://example.org/b", Relationship: "besties"},
	}

	if _, err := s.SaveAnalysis(context.Background(), "user-1", "", nil, graph, nil); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	var relation models.Relation
	if err := s.DB.First(&relation).Error; err != nil {
		t.Fatalf("relation missing: %v", err)
	}
	if relation.Relationship != models.RelationshipRelated {
		t.Errorf("unknown label should fall back to related, got %q", relation.Relationship)
	}
}

func TestSaveAnalysisEmptyGraph(t *testing.T) {
	s := newTestGraphService(t)

	_, err := s.SaveAnalysis(context.Background(), "user-1", "", nil, &models.RawGraph{}, nil)
	if !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph, got %v", err)
	}
	_, err = s.SaveAnalysis(context.Background(), "user-1", "", nil, nil, nil)
	if !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph for nil graph, got %v", err)
	}
}

func TestUpdateSessionGraphReplacesRelations(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	saved, err := s.SaveAnalysis(ctx, "user-1", "Analyse", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	// Manuelle Bearbeitung: nur noch eine Kante, in Gegenrichtung
	edited := &models.RawGraph{
		Nodes: testGraph().Nodes,
		Edges: []models.RawEdge{
			{From: "https://example.org/b", To: "https://example.org/a", Relationship: "critiques", Strength: 0.5},
		},
	}
	result, err := s.UpdateSessionGraph(ctx, saved.Session.ID, "user-1", edited)
	if err != nil {
		t.Fatalf("UpdateSessionGraph failed: %v", err)
	}
	if result.Stats.Created != 1 {
		t.Errorf("expected 1 new relation, got %+v", result.Stats)
	}

	var relations []models.Relation
	s.DB.Find(&relations)
	if len(relations) != 1 {
		t.Fatalf("old relations must be replaced, got %d", len(relations))
	}
	if relations[0].Relationship != "critiques" {
		t.Errorf("expected critiques relation, got %+v", relations[0])
	}
}

func TestUpdateSessionGraphRemovesStaleAnalyses(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	saved, err := s.SaveAnalysis(ctx, "user-1", "", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	// Paper C aus dem Graphen entfernen
	smaller := &models.RawGraph{
		Nodes: testGraph().Nodes[:2],
		Edges: []models.RawEdge{
			{From: "https://example.org/a", To: "https://example.org/b", Relationship: "builds_on"},
		},
	}
	if _, err := s.UpdateSessionGraph(ctx, saved.Session.ID, "user-1", smaller); err != nil {
		t.Fatalf("UpdateSessionGraph failed: %v", err)
	}

	var analyses int64
	s.DB.Model(&models.Analysis{}).Where("session_id = ?", saved.Session.ID).Count(&analyses)
	if analyses != 2 {
		t.Errorf("analysis for removed paper should be gone, got %d rows", analyses)
	}
}

func TestUpdateSessionGraphOwnership(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	saved, err := s.SaveAnalysis(ctx, "user-1", "", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	_, err = s.UpdateSessionGraph(ctx, saved.Session.ID, "user-2", testGraph())
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	_, err = s.UpdateSessionGraph(ctx, 99999, "user-1", testGraph())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	_, err = s.UpdateSessionGraph(ctx, saved.Session.ID, "user-1", &models.RawGraph{})
	if !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph, got %v", err)
	}
}

func TestGetSessionGraphDataMergesAnalyses(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	saved, err := s.SaveAnalysis(ctx, "user-1", "", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	merged, err := s.GetSessionGraphData(ctx, saved.Session.ID)
	if err != nil {
		t.Fatalf("GetSessionGraphData failed: %v", err)
	}
	if merged == nil {
		t.Fatal("expected merged graph, got nil")
	}
	// Per-Paper-Subgraphen überlappen; der Merge dedupliziert per ID
	if len(merged.Nodes) != 3 {
		t.Errorf("expected 3 unique nodes, got %d", len(merged.Nodes))
	}
	if len(merged.Edges) != 2 {
		t.Errorf("expected 2 unique edges, got %d", len(merged.Edges))
	}

	again, err := s.GetSessionGraphData(ctx, saved.Session.ID)
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if len(again.Nodes) != len(merged.Nodes) || len(again.Edges) != len(merged.Edges) {
		t.Errorf("merge is not stable: %d/%d vs %d/%d",
			len(again.Nodes), len(again.Edges), len(merged.Nodes), len(merged.Edges))
	}
}

func TestGetSessionGraphDataFullGraphMode(t *testing.T) {
	s := newTestGraphService(t)
	s.FullGraphAnalyses = true
	ctx := context.Background()

	// Jede Analysis hält eine komplette Kopie; der Reader muss das tolerieren
	saved, err := s.SaveAnalysis(ctx, "user-1", "", nil, testGraph(), nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	merged, err := s.GetSessionGraphData(ctx, saved.Session.ID)
	if err != nil {
		t.Fatalf("GetSessionGraphData failed: %v", err)
	}
	if len(merged.Nodes) != 3 || len(merged.Edges) != 2 {
		t.Errorf("full-graph copies must still merge to 3/2, got %d/%d",
			len(merged.Nodes), len(merged.Edges))
	}
}

func TestGetSessionGraphDataWithoutAnalyses(t *testing.T) {
	s := newTestGraphService(t)

	merged, err := s.GetSessionGraphData(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetSessionGraphData failed: %v", err)
	}
	if merged != nil {
		t.Errorf("expected nil for session without analyses, got %+v", merged)
	}
}

func TestLinkReferencesWithoutSelfLoops(t *testing.T) {
	s := newTestGraphService(t)
	ctx := context.Background()

	if _, err := s.SaveAnalysis(ctx, "user-1", "", nil, testGraph(), nil); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	// Zweiter Lauf desselben Graphen darf die Verknüpfung nicht doppeln
	if _, err := s.SaveAnalysis(ctx, "user-1", "", nil, testGraph(), nil); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	var links int64
	s.DB.Table("paper_references").Count(&links)
	if links != 2 {
		t.Errorf("expected 2 reference links, got %d", links)
	}

	var paperA models.Paper
	if err := s.DB.Preload("References").First(&paperA, "url = ?", "https://example.org/a").Error; err != nil {
		t.Fatalf("paper A missing: %v", err)
	}
	for _, ref := range paperA.References {
		if ref.ID == paperA.ID {
			t.Error("paper must not reference itself")
		}
	}
}

func TestSaveAnalysisMergesExplicitPaperPayloads(t *testing.T) {
	s := newTestGraphService(t)
	graph := &models.RawGraph{
		Nodes: []models.GraphNode{{ID: "https://example.org/a", URL: "https://example.org/a"}},
	}
	papers := []models.GraphNode{
		{ID: "https://example.org/a", Title: "Schon im Graphen"},
		{ID: "https://example.org/extra", URL: "https://example.org/extra", Title: "Nur im Payload"},
	}

	result, err := s.SaveAnalysis(context.Background(), "user-1", "", papers, graph, nil)
	if err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	if len(result.Graph.Nodes) != 2 {
		t.Errorf("expected payload paper to be merged in, got %d nodes", len(result.Graph.Nodes))
	}
}

func TestDurableIDRoundTrip(t *testing.T) {
	for _, id := range []uint{1, 42, 100000} {
		if got := parseDurableID(durableID(id)); got != id {
			t.Errorf("round trip failed for %d: got %d", id, got)
		}
	}
	if parseDurableID("https://example.org/a") != 0 {
		t.Error("ephemeral ids must not parse as durable")
	}
	if parseDurableID(fmt.Sprintf("node-%d", 7)) != 0 {
		t.Error("synthetic ids must not parse as durable")
	}
}
