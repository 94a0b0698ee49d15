package services

import (
	"fmt"
	"strings"

	"paper-graph/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GraphNormalizer überführt die heterogenen Kanten/Knoten-Formen an der
// Systemgrenze in die kanonische Graphform: jeder Knoten mit nicht-leerer
// String-ID und Label, jede Kante mit String-ID, from, to und Label.
// Der Schritt ist pur und idempotent; tiefer in der Persistenz wird nie
// mehr auf die historischen Feldvarianten verzweigt.
type GraphNormalizer struct {
	logger *zap.Logger
}

// NewGraphNormalizer erstellt einen neuen Normalizer.
func NewGraphNormalizer(logger *zap.Logger) *GraphNormalizer {
	return &GraphNormalizer{logger: logger}
}

// Normalize produziert den kanonischen Graphen. Die Eingabe wird nicht
// mutiert; ein bereits kanonischer Graph passiert unverändert.
func (n *GraphNormalizer) Normalize(raw *models.RawGraph) *models.Graph {
	g := &models.Graph{
		Nodes: make([]models.GraphNode, 0, len(raw.Nodes)),
		Edges: make([]models.GraphEdge, 0, len(raw.Edges)),
	}

	for _, node := range raw.Nodes {
		canonical := node
		canonical.ID = strings.TrimSpace(node.ID)
		if canonical.ID == "" {
			canonical.ID = strings.TrimSpace(node.URL)
		}
		if canonical.ID == "" {
			// Synthetische ID, falls weder id noch url vorhanden
			canonical.ID = "node-" + uuid.NewString()[:8]
		}
		if canonical.Label == "" {
			canonical.Label = node.Title
		}
		if canonical.Label == "" {
			canonical.Label = canonical.ID
		}
		g.Nodes = append(g.Nodes, canonical)
	}

	for i, edge := range raw.Edges {
		from := strings.TrimSpace(edge.From)
		if from == "" {
			from = endpointID(edge.Source)
		}
		to := strings.TrimSpace(edge.To)
		if to == "" {
			to = endpointID(edge.Target)
		}
		if from == "" || to == "" {
			n.logger.Warn("Kante ohne auflösbare Endpunkte verworfen",
				zap.Int("index", i),
				zap.String("edge_id", edge.ID))
			continue
		}

		id := strings.TrimSpace(edge.ID)
		if id == "" {
			id = fmt.Sprintf("edge-%s-%s-%d", from, to, i)
		}
		label := edge.Label
		if label == "" {
			label = edge.Relationship
		}

		g.Edges = append(g.Edges, models.GraphEdge{
			ID:           id,
			From:         from,
			To:           to,
			Label:        label,
			Relationship: edge.Relationship,
			Strength:     edge.Strength,
			Evidence:     edge.Evidence,
			Description:  edge.Description,
		})
	}

	return g
}

// endpointID löst einen Kanten-Endpunkt auf: entweder direkt eine
// String-ID oder ein Objekt mit id-Feld (Force-Layout-Artefakt).
func endpointID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if id, ok := t["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	case models.GraphNode:
		return strings.TrimSpace(t.ID)
	}
	return ""
}

// RawFromCanonical hebt einen kanonischen Graphen in die Rohform, z.B.
// für erneutes Normalisieren beim Session-Update.
func RawFromCanonical(g *models.Graph) *models.RawGraph {
	raw := &models.RawGraph{Nodes: g.Nodes}
	for _, e := range g.Edges {
		raw.Edges = append(raw.Edges, models.RawEdge{
			ID:           e.ID,
			From:         e.From,
			To:           e.To,
			Label:        e.Label,
			Relationship: e.Relationship,
			Strength:     e.Strength,
			Evidence:     e.Evidence,
			Description:  e.Description,
		})
	}
	return raw
}
