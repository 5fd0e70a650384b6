package serpapi

import (
	"encoding/json"
	"strings"
)

type searchResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

type organicResult struct {
	Title             string `json:"title"`
	Snippet           string `json:"snippet"`
	PublicationNumber string `json:"publication_number"`
	PatentID          string `json:"patent_id"`
	Assignee          string `json:"assignee"`
	Inventor          string `json:"inventor"`
	FilingDate        string `json:"filing_date"`
	PublicationDate   string `json:"publication_date"`
}

type detailsResponse struct {
	Title                 string                   `json:"title"`
	Abstract              string                   `json:"abstract"`
	Assignee              string                   `json:"assignee"`
	Assignees             []text                   `json:"assignees"`
	Inventors             []text                   `json:"inventors"`
	FilingDate            string                   `json:"filing_date"`
	PublicationDate       string                   `json:"publication_date"`
	LegalStatus           string                   `json:"legal_status"`
	Claims                []text                   `json:"claims"`
	WorldwideApplications map[string][]application `json:"worldwide_applications"`
	FamilyMembers         []document               `json:"family_members"`
	AlsoPublishedAs       []document               `json:"also_published_as"`
	Citations             []document               `json:"citations"`
	PatentCitations       *citationBlock           `json:"patent_citations"`
	SimilarDocuments      []document               `json:"similar_documents"`
	PriorityDate          string                   `json:"priority_date"`
}

type citationBlock struct {
	Original []document `json:"original"`
}

type application struct {
	DocumentID      string `json:"document_id"`
	FilingDate      string `json:"filing_date"`
	PublicationDate string `json:"publication_date"`
	LegalStatus     string `json:"legal_status"`
	Status          string `json:"status"`
	Title           string `json:"title"`
}

// document is a reference that the API renders either as a bare string
// or as an object carrying document_id / publication_number
type document struct {
	DocumentID        string `json:"document_id"`
	PublicationNumber string `json:"publication_number"`
	Title             string `json:"title"`
}

func (d *document) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d.DocumentID = s
		return nil
	}
	type plain document
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = document(p)
	return nil
}

func (d document) id() string {
	if d.PublicationNumber != "" {
		return d.PublicationNumber
	}
	return d.DocumentID
}

// text is a value rendered either as a string or as {"name": ...} / {"text": ...}
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Name != "" {
		*t = text(strings.TrimSpace(obj.Name))
	} else {
		*t = text(strings.TrimSpace(obj.Text))
	}
	return nil
}

func texts(in []text) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t != "" {
			out = append(out, string(t))
		}
	}
	return out
}
