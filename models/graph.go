package models

// GraphNode ist ein Paper-Knoten im Analyse-Graphen. Nach der
// Normalisierung sind ID und Label garantiert nicht-leere Strings.
type GraphNode struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	URL           string   `json:"url,omitempty"`
	Title         string   `json:"title,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	Abstract      string   `json:"abstract,omitempty"`
	Introduction  string   `json:"introduction,omitempty"`
	FullText      string   `json:"full_text,omitempty"`
	DOI           string   `json:"doi,omitempty"`
	ArxivID       string   `json:"arxiv_id,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// GraphEdge ist eine kanonische Kante: String-IDs, from/to, Label.
type GraphEdge struct {
	ID           string  `json:"id"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Label        string  `json:"label"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
	Evidence     string  `json:"evidence,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// Graph ist die kanonische Knoten/Kanten-Struktur nach dem Normalizer.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// RawEdge akzeptiert die historisch gewachsenen Kantenformen: Endpunkte
// als from/to oder source/target, letztere als String-ID oder als Objekt
// mit id-Feld (Artefakt clientseitiger Force-Layout-Mutation). Der
// Normalizer überführt das an der Systemgrenze in GraphEdge; tiefer in der
// Persistenz wird nie auf diese Varianten verzweigt.
type RawEdge struct {
	ID           string  `json:"id,omitempty"`
	From         string  `json:"from,omitempty"`
	To           string  `json:"to,omitempty"`
	Source       any     `json:"source,omitempty"`
	Target       any     `json:"target,omitempty"`
	Label        string  `json:"label,omitempty"`
	Relationship string  `json:"relationship,omitempty"`
	Strength     float64 `json:"strength,omitempty"`
	Evidence     string  `json:"evidence,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// RawGraph ist der ephemere, noch nicht normalisierte Graph einer Analyse.
type RawGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []RawEdge   `json:"edges"`
}
