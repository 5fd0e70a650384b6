package model

// CanonicalPatent is the merged view of every record sharing one identifier key.
// Set-valued fields are sorted and de-duplicated.
type CanonicalPatent struct {
	Identifier         PublicationIdentifier   `json:"identifier"`
	Title              string                  `json:"title,omitempty"`
	Abstract           string                  `json:"abstract,omitempty"`
	Inventors          []string                `json:"inventors,omitempty"`
	Assignee           string                  `json:"assignee,omitempty"`
	FilingDate         string                  `json:"filing_date,omitempty"`
	PublicationDate    string                  `json:"publication_date,omitempty"`
	Status             string                  `json:"status,omitempty"`
	Claims             []string                `json:"claims,omitempty"`
	FamilyMembers      []PublicationIdentifier `json:"family_members,omitempty"`
	SourcesContributed []string                `json:"sources_contributed"`
	Roots              []string                `json:"roots,omitempty"` // Root keys whose expansion reached this patent
}

// Jurisdiction returns the filing jurisdiction of the patent
func (p *CanonicalPatent) Jurisdiction() string {
	return p.Identifier.Jurisdiction
}

// Clone returns a deep copy
func (p *CanonicalPatent) Clone() *CanonicalPatent {
	if p == nil {
		return nil
	}
	c := *p
	c.Inventors = append([]string(nil), p.Inventors...)
	c.Claims = append([]string(nil), p.Claims...)
	c.FamilyMembers = append([]PublicationIdentifier(nil), p.FamilyMembers...)
	c.SourcesContributed = append([]string(nil), p.SourcesContributed...)
	c.Roots = append([]string(nil), p.Roots...)
	return &c
}

// HasSource reports whether the named source contributed to the patent
func (p *CanonicalPatent) HasSource(name string) bool {
	for _, s := range p.SourcesContributed {
		if s == name {
			return true
		}
	}
	return false
}
