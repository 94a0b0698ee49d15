package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session ist ein benannter Container für eine Analyse eines Nutzers.
// GraphSnapshot ist ein denormalisierter Cache des Gesamtgraphen für
// schnelles Neuladen und wird beim Speichern immer komplett überschrieben;
// Quelle der Wahrheit für Beziehungen bleiben Relation/Analysis.
type Session struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID string `json:"user_id" gorm:"index;not null"`
	Title  string `json:"title"`

	GraphSnapshot datatypes.JSON `json:"graph_snapshot,omitempty" gorm:"type:jsonb"`

	// URLs, die der Nutzer direkt eingereicht hat (im Gegensatz zu Papers,
	// die über Zitations-Expansion entdeckt wurden).
	OriginalPapers datatypes.JSON `json:"original_papers,omitempty" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (Session) TableName() string { return "sessions" }
