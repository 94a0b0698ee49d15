package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paper-graph/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Strukturelle Fehler, die als abgelehnter Aufruf an den Client gehen.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotOwner        = errors.New("session does not belong to user")
	ErrEmptyGraph      = errors.New("graph contains no usable nodes")
)

// RelationStats zählt die Kanten-Persistenz für die Observability:
// Duplikate und nicht abbildbare Kanten sind keine Fehler, nur Zahlen.
type RelationStats struct {
	Attempted        int `json:"attempted"`
	Created          int `json:"created"`
	DuplicateSkipped int `json:"duplicate_skipped"`
	Unmappable       int `json:"unmappable"`
	SelfSkipped      int `json:"self_skipped"`
}

// SaveResult bündelt das Ergebnis eines Persistenzaufrufs.
type SaveResult struct {
	Session  *models.Session   `json:"session"`
	Analyses []models.Analysis `json:"analyses"`
	Graph    *models.Graph     `json:"graph"`
	Stats    RelationStats     `json:"stats"`
}

// GraphService persistiert kanonische Graphen gegen den relationalen
// Store und ist der einzige Schreiber von Paper-, Relation- und
// Analysis-Zeilen. Reihenfolge innerhalb eines Aufrufs: Session vor
// Paper-Upserts vor Analyses vor Relations vor Knowledge-Graph-Linkage.
type GraphService struct {
	DB         *gorm.DB
	Logger     *zap.Logger
	Normalizer *GraphNormalizer

	// UpsertConcurrency begrenzt die parallelen Paper-Upserts.
	UpsertConcurrency int

	// FullGraphAnalyses speichert pro Analysis den kompletten Graphen
	// statt des Per-Paper-Subgraphen (Legacy-Verhalten).
	FullGraphAnalyses bool
}

// NewGraphService erstellt einen neuen GraphService.
func NewGraphService(db *gorm.DB, logger *zap.Logger) *GraphService {
	return &GraphService{
		DB:                db,
		Logger:            logger,
		Normalizer:        NewGraphNormalizer(logger),
		UpsertConcurrency: 5,
	}
}

// SaveAnalysis legt eine neue Session an und persistiert den Graphen:
// Snapshot, Paper-Upserts, Per-Paper-Analyses, deduplizierte Relations
// und die Paper-Referenz-Verknüpfung. Fehler in Schritt 2-4 brechen den
// Aufruf ab; Per-Kanten-Fehler in Schritt 5-6 werden übersprungen.
func (s *GraphService) SaveAnalysis(ctx context.Context, userID, title string, papers []models.GraphNode, graph *models.RawGraph, originalPapers []string) (*SaveResult, error) {
	if graph == nil {
		return nil, ErrEmptyGraph
	}

	merged := mergeNodePayloads(graph, papers)
	g := s.Normalizer.Normalize(merged)
	if len(g.Nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	if title == "" {
		title = "Paper Analysis " + time.Now().Format("2006-01-02")
	}
	session := models.Session{
		UserID:         userID,
		Title:          title,
		GraphSnapshot:  mustJSON(g),
		OriginalPapers: mustJSON(originalPapers),
	}
	if err := s.DB.WithContext(ctx).Create(&session).Error; err != nil {
		s.Logger.Error("Session konnte nicht angelegt werden", zap.Error(err))
		return nil, err
	}

	return s.persistGraph(ctx, &session, g)
}

// UpdateSessionGraph ersetzt den Graphen einer bestehenden Session
// vollständig: Ownership prüfen, Relations der bisherigen Paper-Menge
// löschen, dann dieselbe Pipeline wie beim Speichern erneut fahren.
// So ersetzen manuelle Graph-Edits die alte Beziehungsmenge komplett.
func (s *GraphService) UpdateSessionGraph(ctx context.Context, sessionID uint, userID string, graph *models.RawGraph) (*SaveResult, error) {
	var session models.Session
	if err := s.DB.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotOwner
	}
	if graph == nil {
		return nil, ErrEmptyGraph
	}

	g := s.Normalizer.Normalize(graph)
	if len(g.Nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	// Bisherige Paper-Menge der Session bestimmen und deren Relations
	// entfernen. Relations zu Papers, die erst mit diesem Update neu
	// dazukommen, erfasst der Delete nicht — beobachtetes Verhalten,
	// siehe DESIGN.md.
	var existingPaperIDs []uint
	if err := s.DB.WithContext(ctx).Model(&models.Analysis{}).
		Where("session_id = ?", session.ID).
		Pluck("paper_id", &existingPaperIDs).Error; err != nil {
		return nil, err
	}
	if len(existingPaperIDs) > 0 {
		if err := s.DB.WithContext(ctx).
			Where("from_paper_id IN ? AND to_paper_id IN ?", existingPaperIDs, existingPaperIDs).
			Delete(&models.Relation{}).Error; err != nil {
			return nil, err
		}
	}

	session.GraphSnapshot = mustJSON(g)
	if err := s.DB.WithContext(ctx).Save(&session).Error; err != nil {
		return nil, err
	}

	return s.persistGraph(ctx, &session, g)
}

// persistGraph fährt die Schritte nach der Session-Schreibung: Upserts,
// Analyses, Relations, Linkage.
func (s *GraphService) persistGraph(ctx context.Context, session *models.Session, g *models.Graph) (*SaveResult, error) {
	resolver := NewPaperResolver(s.DB, s.Logger, s.UpsertConcurrency)
	mapping, err := resolver.UpsertGraphPapers(ctx, g.Nodes)
	if err != nil {
		s.Logger.Error("Paper-Upserts fehlgeschlagen", zap.Error(err))
		return nil, err
	}

	remapped, stats := s.remapGraph(g, mapping)

	analyses, err := s.writeAnalyses(ctx, session.ID, remapped)
	if err != nil {
		s.Logger.Error("Analysis-Schreibung fehlgeschlagen", zap.Error(err))
		return nil, err
	}

	s.persistRelations(ctx, remapped, &stats)
	s.linkReferences(ctx, remapped)

	s.Logger.Info("Graph persistiert",
		zap.Uint("session_id", session.ID),
		zap.Int("nodes", len(remapped.Nodes)),
		zap.Int("edges_attempted", stats.Attempted),
		zap.Int("relations_created", stats.Created),
		zap.Int("duplicates_skipped", stats.DuplicateSkipped),
		zap.Int("edges_unmappable", stats.Unmappable))

	return &SaveResult{
		Session:  session,
		Analyses: analyses,
		Graph:    remapped,
		Stats:    stats,
	}, nil
}

// remapGraph übersetzt ephemere Knoten-IDs in dauerhafte Paper-IDs.
// Verschiedene ephemere IDs können auf dasselbe Paper zeigen; nach dem
// Remapping wird deshalb per dauerhafter ID dedupliziert. Kanten, deren
// Endpunkt nicht auflösbar ist, fallen mit Warnung raus; der Rest des
// Aufrufs läuft weiter.
func (s *GraphService) remapGraph(g *models.Graph, mapping *IDMapping) (*models.Graph, RelationStats) {
	stats := RelationStats{}
	remapped := &models.Graph{Nodes: make([]models.GraphNode, 0, len(g.Nodes))}

	seen := make(map[uint]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		paperID, ok := mapping.Resolve(node.ID)
		if !ok {
			// Darf nach einem erfolgreichen Upsert-Lauf nicht passieren
			s.Logger.Warn("Knoten ohne dauerhafte ID übersprungen", zap.String("node_id", node.ID))
			continue
		}
		if seen[paperID] {
			continue
		}
		seen[paperID] = true
		node.ID = durableID(paperID)
		remapped.Nodes = append(remapped.Nodes, node)
	}

	for _, edge := range g.Edges {
		stats.Attempted++
		fromID, okFrom := mapping.Resolve(edge.From)
		toID, okTo := mapping.Resolve(edge.To)
		if !okFrom || !okTo {
			s.Logger.Warn("Kante mit nicht abbildbarem Endpunkt verworfen",
				zap.String("from", edge.From),
				zap.String("to", edge.To),
				zap.String("edge_id", edge.ID))
			stats.Unmappable++
			continue
		}
		if fromID == toID {
			// Verschiedene ephemere IDs können auf dasselbe Paper zeigen
			s.Logger.Debug("Selbstreferenz nach Remapping verworfen", zap.Uint("paper_id", fromID))
			stats.SelfSkipped++
			continue
		}
		edge.From = durableID(fromID)
		edge.To = durableID(toID)
		remapped.Edges = append(remapped.Edges, edge)
	}

	return remapped, stats
}

// writeAnalyses schreibt pro dauerhaftem Paper die Analysis-Zeile:
// alle Knoten plus die Kanten, die das Paper berühren (oder den ganzen
// Graphen im Legacy-Modus). Upsert auf (session_id, paper_id).
func (s *GraphService) writeAnalyses(ctx context.Context, sessionID uint, g *models.Graph) ([]models.Analysis, error) {
	analyses := make([]models.Analysis, 0, len(g.Nodes))
	keepIDs := make([]uint, 0, len(g.Nodes))

	for _, node := range g.Nodes {
		paperID := parseDurableID(node.ID)
		if paperID == 0 {
			continue
		}
		keepIDs = append(keepIDs, paperID)

		edges := g.Edges
		if !s.FullGraphAnalyses {
			edges = edgesTouching(g.Edges, node.ID)
		}

		analysis := models.Analysis{
			SessionID: sessionID,
			PaperID:   paperID,
			Nodes:     mustJSON(g.Nodes),
			Edges:     mustJSON(edges),
		}
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "paper_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"nodes", "edges", "updated_at"}),
		}).Create(&analysis).Error
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}

	// Analyses zu Papers, die im neuen Graphen fehlen, aufräumen
	if len(keepIDs) > 0 {
		if err := s.DB.WithContext(ctx).
			Where("session_id = ? AND paper_id NOT IN ?", sessionID, keepIDs).
			Delete(&models.Analysis{}).Error; err != nil {
			return nil, err
		}
	}

	return analyses, nil
}

// persistRelations legt die deduplizierten Relation-Zeilen an. Pro Kante:
// Existenzprüfung auf das geordnete (from, to)-Paar, Insert nur wenn
// nicht vorhanden; der Unique-Index plus DoNothing fängt Races ab.
func (s *GraphService) persistRelations(ctx context.Context, g *models.Graph, stats *RelationStats) {
	for _, edge := range g.Edges {
		fromID := parseDurableID(edge.From)
		toID := parseDurableID(edge.To)
		if fromID == 0 || toID == 0 {
			stats.Unmappable++
			continue
		}

		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.Relation{}).
			Where("from_paper_id = ? AND to_paper_id = ?", fromID, toID).
			Count(&count).Error; err != nil {
			s.Logger.Warn("Existenzprüfung für Relation fehlgeschlagen",
				zap.Uint("from", fromID), zap.Uint("to", toID), zap.Error(err))
			continue
		}
		if count > 0 {
			stats.DuplicateSkipped++
			continue
		}

		relation := models.Relation{
			FromPaperID:  fromID,
			ToPaperID:    toID,
			Relationship: relationshipLabel(edge),
			Description:  edge.Description,
			Evidence:     edge.Evidence,
			Confidence:   edge.Strength,
			Weight:       1,
		}
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "from_paper_id"}, {Name: "to_paper_id"}},
			DoNothing: true,
		}).Create(&relation).Error
		if err != nil {
			s.Logger.Warn("Relation konnte nicht angelegt werden",
				zap.Uint("from", fromID), zap.Uint("to", toID), zap.Error(err))
			continue
		}
		stats.Created++
	}
}

// linkReferences pflegt die many-to-many Paper-Referenzen: pro Kante
// kommt das Ziel-Paper in die References-Collection der Quelle, sofern
// noch nicht vorhanden. Selbstreferenzen sind durch das Remapping
// bereits ausgeschlossen.
func (s *GraphService) linkReferences(ctx context.Context, g *models.Graph) {
	for _, edge := range g.Edges {
		fromID := parseDurableID(edge.From)
		toID := parseDurableID(edge.To)
		if fromID == 0 || toID == 0 || fromID == toID {
			continue
		}

		var count int64
		if err := s.DB.WithContext(ctx).Table("paper_references").
			Where("paper_id = ? AND reference_id = ?", fromID, toID).
			Count(&count).Error; err != nil {
			s.Logger.Warn("Referenz-Prüfung fehlgeschlagen", zap.Error(err))
			continue
		}
		if count > 0 {
			continue
		}

		source := models.Paper{ID: fromID}
		target := models.Paper{ID: toID}
		if err := s.DB.WithContext(ctx).Model(&source).Association("References").Append(&target); err != nil {
			s.Logger.Warn("Referenz-Verknüpfung fehlgeschlagen",
				zap.Uint("from", fromID), zap.Uint("to", toID), zap.Error(err))
		}
	}
}

// GetSessionGraphData rekonstruiert den Gesamtgraphen einer Session aus
// allen Analysis-Zeilen. Einzelne Analyses können überlappende Subgraphen
// oder komplette Kopien halten; der Merge dedupliziert Knoten und Kanten
// per ID und ist damit idempotent. Ohne Analyses: nil.
func (s *GraphService) GetSessionGraphData(ctx context.Context, sessionID uint) (*models.Graph, error) {
	var analyses []models.Analysis
	if err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("paper_id asc").
		Find(&analyses).Error; err != nil {
		return nil, err
	}
	if len(analyses) == 0 {
		return nil, nil
	}

	merged := &models.Graph{}
	seenNodes := make(map[string]bool)
	seenEdges := make(map[string]bool)

	for _, analysis := range analyses {
		var nodes []models.GraphNode
		if err := json.Unmarshal(analysis.Nodes, &nodes); err != nil {
			s.Logger.Warn("Analysis mit unlesbaren Knoten übersprungen",
				zap.Uint("analysis_id", analysis.ID), zap.Error(err))
			continue
		}
		var edges []models.GraphEdge
		if err := json.Unmarshal(analysis.Edges, &edges); err != nil {
			s.Logger.Warn("Analysis mit unlesbaren Kanten übersprungen",
				zap.Uint("analysis_id", analysis.ID), zap.Error(err))
			continue
		}

		for _, node := range nodes {
			if node.ID == "" || seenNodes[node.ID] {
				continue
			}
			seenNodes[node.ID] = true
			merged.Nodes = append(merged.Nodes, node)
		}
		for _, edge := range edges {
			key := edge.ID
			if key == "" {
				key = fmt.Sprintf("edge-%s-%s", edge.From, edge.To)
				edge.ID = key
			}
			if seenEdges[key] {
				continue
			}
			seenEdges[key] = true
			merged.Edges = append(merged.Edges, edge)
		}
	}

	return merged, nil
}

// mergeNodePayloads vereinigt explizit mitgegebene Paper-Payloads mit den
// Knoten des Graphen (Dedup nach ID, Fallback URL).
func mergeNodePayloads(graph *models.RawGraph, papers []models.GraphNode) *models.RawGraph {
	if len(papers) == 0 {
		return graph
	}
	seen := make(map[string]bool, len(graph.Nodes))
	for _, node := range graph.Nodes {
		if node.ID != "" {
			seen[node.ID] = true
		}
		if node.URL != "" {
			seen[node.URL] = true
		}
	}
	merged := &models.RawGraph{Nodes: graph.Nodes, Edges: graph.Edges}
	for _, paper := range papers {
		key := paper.ID
		if key == "" {
			key = paper.URL
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged.Nodes = append(merged.Nodes, paper)
	}
	return merged
}

// edgesTouching liefert die Kanten, die den Knoten berühren.
func edgesTouching(edges []models.GraphEdge, nodeID string) []models.GraphEdge {
	touched := []models.GraphEdge{}
	for _, edge := range edges {
		if edge.From == nodeID || edge.To == nodeID {
			touched = append(touched, edge)
		}
	}
	return touched
}

// relationshipLabel normalisiert das Kantenlabel auf das feste Vokabular.
func relationshipLabel(edge models.GraphEdge) string {
	if models.ValidRelationship(edge.Relationship) {
		return edge.Relationship
	}
	if models.ValidRelationship(edge.Label) {
		return edge.Label
	}
	return models.RelationshipRelated
}

// durableID formatiert eine Paper-ID als Graph-Knoten-ID.
func durableID(paperID uint) string {
	return strconv.FormatUint(uint64(paperID), 10)
}

// parseDurableID liest eine dauerhafte Paper-ID aus einer Knoten-ID.
func parseDurableID(s string) uint {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// mustJSON serialisiert für die jsonb-Spalten; Fehler sind hier nur bei
// nicht serialisierbaren Typen möglich und damit Programmierfehler.
func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}
