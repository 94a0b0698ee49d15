package models

import (
	"time"

	"gorm.io/datatypes"
)

// Paper repräsentiert eine wissenschaftliche Studie als dauerhafte Entität.
// Die URL ist der natürliche Schlüssel: erneutes Einreichen derselben URL
// aktualisiert den bestehenden Datensatz, statt ein Duplikat anzulegen.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	URL      string         `json:"url" gorm:"uniqueIndex;not null;size:2048"`
	Title    string         `json:"title"`
	Authors  datatypes.JSON `json:"authors,omitempty" gorm:"type:jsonb"`
	Abstract string         `json:"abstract,omitempty" gorm:"type:text"`

	// Optionale Volltext-Felder aus der Extraktion
	Introduction string `json:"introduction,omitempty" gorm:"type:text"`
	FullText     string `json:"full_text,omitempty" gorm:"type:text"`

	DOI           string     `json:"doi,omitempty" gorm:"index"`
	ArxivID       string     `json:"arxiv_id,omitempty" gorm:"index"`
	PublishedDate *time.Time `json:"published_date,omitempty"`

	Tags datatypes.JSON `json:"tags,omitempty" gorm:"type:jsonb"`

	// Knowledge-Graph-Verknüpfung: Papers, die dieses Paper referenziert.
	// Getrennt von den per-Session Relation/Analysis-Datensätzen.
	References []*Paper `json:"-" gorm:"many2many:paper_references"`
}

// TableName gibt explizit den Tabellennamen an.
func (Paper) TableName() string {
	return "papers"
}
