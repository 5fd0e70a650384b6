// Package source defines the contract between the aggregation core and the
// patent data sources, plus the HTTP plumbing shared by the adapters.
package source

import (
	"context"

	"github.com/ppiankov/patfam/internal/model"
)

// Kind is the family a source belongs to
type Kind = model.SourceKind

const (
	KindSearchEngine = model.SourceSearchEngine
	KindPatentOffice = model.SourcePatentOffice
	KindPatentData   = model.SourcePatentData
)

// Client is one external patent data source.
// Implementations must be safe for concurrent use.
type Client interface {
	Name() string
	Kind() Kind
	Lookup(ctx context.Context, req Request) (*Response, error)
	SupportsFamilyExpansion() bool
}

// Request is either a free-text query or an identifier lookup
type Request struct {
	Query        string                      `json:"query,omitempty"`
	ID           model.PublicationIdentifier `json:"id"`
	Jurisdiction string                      `json:"jurisdiction,omitempty"` // Restricts query results
}

// QueryRequest builds a free-text lookup
func QueryRequest(term string) Request {
	return Request{Query: term}
}

// IDRequest builds an identifier lookup
func IDRequest(id model.PublicationIdentifier) Request {
	return Request{ID: id}
}

// IsQuery reports whether the request is a free-text query
func (r Request) IsQuery() bool {
	return r.ID.IsZero()
}

// Op names the request type for errors, logs and metrics
func (r Request) Op() string {
	if r.IsQuery() {
		return "query"
	}
	return "lookup"
}

// Target returns what the request is about: the query term or the identifier key
func (r Request) Target() string {
	if r.IsQuery() {
		return r.Query
	}
	return r.ID.Key()
}

// RelationType qualifies an edge between two publications
type RelationType string

const (
	RelationFamilyMember    RelationType = "family_member"
	RelationAlsoPublishedAs RelationType = "also_published_as"
	RelationCitation        RelationType = "citation"
	RelationSimilar         RelationType = "similar"
)

// Relation is an edge reported by a source
type Relation struct {
	From model.PublicationIdentifier `json:"from"`
	To   model.PublicationIdentifier `json:"to"`
	Type RelationType                `json:"type"`
}

// IsFamily reports whether the edge stays inside the patent family
func (r Relation) IsFamily() bool {
	return r.Type == RelationFamilyMember || r.Type == RelationAlsoPublishedAs
}

// Response is what one lookup yields. Responses may be shared between
// callers and must be treated as read-only.
type Response struct {
	Records []model.PartialRecord `json:"records"`
	Related []Relation            `json:"related,omitempty"`
}

// IsEmpty reports whether the lookup found nothing
func (r *Response) IsEmpty() bool {
	return r == nil || (len(r.Records) == 0 && len(r.Related) == 0)
}
