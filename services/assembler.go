package services

import (
	"strings"

	"paper-graph/models"

	"go.uber.org/zap"
)

// GraphAssembler baut aus Extraktions- und Klassifikationsergebnissen
// eines Batches den ephemeren Analyse-Graphen: ein Knoten pro Paper,
// eine Kante pro klassifizierter Beziehung.
type GraphAssembler struct {
	logger *zap.Logger
}

// NewGraphAssembler erstellt einen neuen Assembler.
func NewGraphAssembler(logger *zap.Logger) *GraphAssembler {
	return &GraphAssembler{logger: logger}
}

// Assemble dedupliziert die Papers (nach ID, Fallback URL) und übernimmt
// nur Beziehungen, deren beide Endpunkte auf bekannte Knoten zeigen.
// Unbekannte Endpunkte und Selbstkanten werden verworfen und geloggt —
// beides sind Per-Item-Ereignisse, kein Abbruch.
func (a *GraphAssembler) Assemble(papers []models.GraphNode, rels []models.InferredRelationship) *models.RawGraph {
	graph := &models.RawGraph{}
	known := make(map[string]bool)

	for _, paper := range papers {
		key := strings.TrimSpace(paper.ID)
		if key == "" {
			key = strings.TrimSpace(paper.URL)
		}
		if key == "" || known[key] {
			continue
		}
		known[key] = true
		if paper.ID == "" {
			paper.ID = key
		}
		graph.Nodes = append(graph.Nodes, paper)
	}

	dropped := 0
	for _, rel := range rels {
		if !known[rel.FromID] || !known[rel.ToID] {
			a.logger.Warn("Beziehung mit unbekanntem Endpunkt verworfen",
				zap.String("from", rel.FromID),
				zap.String("to", rel.ToID),
				zap.String("relationship", rel.Relationship))
			dropped++
			continue
		}
		if rel.FromID == rel.ToID {
			a.logger.Debug("Selbstkante verworfen", zap.String("node", rel.FromID))
			dropped++
			continue
		}
		graph.Edges = append(graph.Edges, models.RawEdge{
			From:         rel.FromID,
			To:           rel.ToID,
			Label:        rel.Relationship,
			Relationship: rel.Relationship,
			Strength:     rel.Strength,
			Evidence:     rel.Evidence,
			Description:  rel.Description,
		})
	}

	a.logger.Info("Graph assembliert",
		zap.Int("nodes", len(graph.Nodes)),
		zap.Int("edges", len(graph.Edges)),
		zap.Int("dropped_relationships", dropped))
	return graph
}
