package models

import (
	"time"

	"gorm.io/datatypes"
)

// Analysis hält die Sicht eines Papers auf den Beziehungs-Subgraphen einer
// Session: alle Knoten plus die Kanten, die das Paper berühren. Historische
// Datensätze enthalten teils den kompletten Graphen; der Merge-Reader muss
// beide Formen tolerieren. Eindeutig pro (SessionID, PaperID).
type Analysis struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SessionID uint `json:"session_id" gorm:"index:idx_analyses_session_paper,unique;not null"`
	PaperID   uint `json:"paper_id" gorm:"index:idx_analyses_session_paper,unique;not null"`

	Nodes datatypes.JSON `json:"nodes" gorm:"type:jsonb"`
	Edges datatypes.JSON `json:"edges" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (Analysis) TableName() string { return "analyses" }
