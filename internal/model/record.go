package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceKind identifies which family of source produced a record
type SourceKind string

const (
	SourceSearchEngine SourceKind = "search_engine" // General patent search engine
	SourcePatentOffice SourceKind = "patent_office" // A patent office's own search interface
	SourcePatentData   SourceKind = "patent_data"   // Structured patent-data API
)

// Fields holds the optional values one source knows about a publication.
// Empty values mean the source did not supply the field.
type Fields struct {
	Title           string                  `json:"title,omitempty"`
	Abstract        string                  `json:"abstract,omitempty"`
	Assignee        string                  `json:"assignee,omitempty"`
	FilingDate      string                  `json:"filing_date,omitempty"`      // YYYY-MM-DD
	PublicationDate string                  `json:"publication_date,omitempty"` // YYYY-MM-DD
	Status          string                  `json:"status,omitempty"`
	Inventors       []string                `json:"inventors,omitempty"`
	Claims          []string                `json:"claims,omitempty"`
	FamilyMembers   []PublicationIdentifier `json:"family_members,omitempty"`
}

// IsEmpty reports whether no field is populated
func (f Fields) IsEmpty() bool {
	return f.Title == "" && f.Abstract == "" && f.Assignee == "" &&
		f.FilingDate == "" && f.PublicationDate == "" && f.Status == "" &&
		len(f.Inventors) == 0 && len(f.Claims) == 0 && len(f.FamilyMembers) == 0
}

// PartialRecord is one source's contribution about one publication
type PartialRecord struct {
	Identifier PublicationIdentifier `json:"identifier"`
	Source     string                `json:"source"`
	SourceKind SourceKind            `json:"source_kind"`
	Fields     Fields                `json:"fields"`
	FetchedAt  time.Time             `json:"fetched_at"`
}

// Fingerprint identifies the record content independent of FetchedAt.
// Re-applying a record with the same fingerprint must be a no-op.
func (r PartialRecord) Fingerprint() string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	f := r.Fields
	write(r.Identifier.Key(), r.Source, string(r.SourceKind))
	write(f.Title, f.Abstract, f.Assignee, f.FilingDate, f.PublicationDate, f.Status)
	write(strings.Join(f.Inventors, "\x1f"), strings.Join(f.Claims, "\x1f"))
	for _, m := range f.FamilyMembers {
		write(m.Key())
	}

	return hex.EncodeToString(h.Sum(nil)[:16])
}
