package models

import (
	"time"
)

// Gültige Beziehungslabels aus der Klassifikation.
const (
	RelationshipBuildsOn   = "builds_on"
	RelationshipExtends    = "extends"
	RelationshipApplies    = "applies"
	RelationshipCompares   = "compares"
	RelationshipCritiques  = "critiques"
	RelationshipReferences = "references"
	RelationshipRelated    = "related"
)

// ValidRelationship prüft, ob ein Label zum festen Vokabular gehört.
func ValidRelationship(label string) bool {
	switch label {
	case RelationshipBuildsOn, RelationshipExtends, RelationshipApplies,
		RelationshipCompares, RelationshipCritiques, RelationshipReferences,
		RelationshipRelated:
		return true
	}
	return false
}

// Relation modelliert eine gerichtete semantische Kante: From bezieht sich
// auf To. Pro geordnetem (From, To)-Paar existiert höchstens eine Zeile;
// der Unique-Index sichert das gegen Races ab, die Existenzprüfung vor dem
// Insert hält die Zähler für die Observability korrekt.
type Relation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FromPaperID uint `json:"from_paper_id" gorm:"index:idx_relations_unique_pair,unique;not null"`
	ToPaperID   uint `json:"to_paper_id" gorm:"index:idx_relations_unique_pair,unique;not null"`

	Relationship string  `json:"relationship" gorm:"index;not null"`
	Description  string  `json:"description,omitempty" gorm:"type:text"`
	Evidence     string  `json:"evidence,omitempty" gorm:"type:text"`
	Confidence   float64 `json:"confidence"`
	Weight       int     `json:"weight" gorm:"default:1"`
}

// TableName gibt explizit den Tabellennamen an.
func (Relation) TableName() string { return "relations" }
