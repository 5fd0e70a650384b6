// Package epo adapts the EPO Open Patent Services (OPS) REST API to source.Client.
package epo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
)

// Name is the source name used for budgets, diagnostics and records
const Name = "epo"

const (
	apiVersion = "3.2"
	pageSize   = 100
)

// ErrNoCredentials is returned when the consumer key or secret is missing
var ErrNoCredentials = errors.New("missing OPS consumer key or secret")

// Client queries bibliographic and family data from OPS
type Client struct {
	fetcher *source.Fetcher
	baseURL string
	now     func() time.Time
	log     logging.Logger
}

var _ source.Client = (*Client)(nil)

// New creates the adapter. Requests are authorised with an OAuth2
// client-credentials token fetched from the OPS auth endpoint.
func New(cfg model.EPOConfig, fetcher *source.Fetcher, log logging.Logger) (*Client, error) {
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("epo: %w", ErrNoCredentials)
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	creds := clientcredentials.Config{
		ClientID:     cfg.Key,
		ClientSecret: cfg.Secret,
		TokenURL:     base + "/" + apiVersion + "/auth/accesstoken",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// Token requests share the fetcher's transport and timeout
	plain := fetcher.HTTPClient()
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, plain)
	authed := &http.Client{
		Timeout:       plain.Timeout,
		CheckRedirect: plain.CheckRedirect,
		Transport: &oauth2.Transport{
			Source: creds.TokenSource(tokenCtx),
			Base:   plain.Transport,
		},
	}

	return &Client{
		fetcher: fetcher.WithClient(authed),
		baseURL: base + "/" + apiVersion + "/rest-services",
		now:     time.Now,
		log:     log.Named(Name),
	}, nil
}

func (c *Client) Name() string                  { return Name }
func (c *Client) Kind() source.Kind             { return source.KindPatentData }
func (c *Client) SupportsFamilyExpansion() bool { return true }

// Lookup dispatches on the request type
func (c *Client) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	if req.IsQuery() {
		return c.search(ctx, req)
	}
	return c.publication(ctx, req)
}

func (c *Client) search(ctx context.Context, req source.Request) (*source.Response, error) {
	cql := fmt.Sprintf("txt=%q", strings.ReplaceAll(req.Query, `"`, ""))
	if req.Jurisdiction != "" {
		cql += " AND pn=" + req.Jurisdiction + "*"
	}
	params := url.Values{}
	params.Set("q", cql)
	params.Set("Range", fmt.Sprintf("1-%d", pageSize))

	var data searchEnvelope
	if err := c.get(ctx, req.Op(), "/published-data/search?"+params.Encode(), &data); err != nil {
		if source.StatusOf(err) == http.StatusNotFound {
			return &source.Response{}, nil
		}
		return nil, err
	}

	fetched := c.now()
	resp := &source.Response{}
	seen := make(map[string]bool)
	for _, ref := range data.WorldPatentData.BiblioSearch.SearchResult.References {
		id, ok := identifier(ref.DocumentID)
		if !ok || seen[id.Key()] {
			continue
		}
		if req.Jurisdiction != "" && id.Jurisdiction != req.Jurisdiction {
			continue
		}
		seen[id.Key()] = true
		resp.Records = append(resp.Records, c.record(id, fetched, model.Fields{}))
	}
	return resp, nil
}

// publication combines the biblio record of the id with its INPADOC family
func (c *Client) publication(ctx context.Context, req source.Request) (*source.Response, error) {
	ref := opsRef(req.ID)

	var biblio biblioEnvelope
	if err := c.get(ctx, req.Op(), "/published-data/publication/"+ref+"/biblio", &biblio); err != nil {
		if source.StatusOf(err) == http.StatusNotFound {
			return &source.Response{}, nil
		}
		return nil, err
	}

	fetched := c.now()
	var fields model.Fields
	if docs := biblio.WorldPatentData.ExchangeDocuments.Documents; len(docs) > 0 {
		fields = biblioFields(docs[0])
	}

	var family familyEnvelope
	if err := c.get(ctx, req.Op(), "/family/publication/"+ref, &family); err != nil {
		if source.StatusOf(err) != http.StatusNotFound {
			return nil, err
		}
		c.log.Debug("no family", logging.String("id", req.ID.Key()))
	}

	resp := &source.Response{}
	seen := map[string]bool{req.ID.Key(): true}
	var members []model.PublicationIdentifier
	for _, m := range family.WorldPatentData.Family.Members {
		doc, ok := m.PublicationReference.docdb()
		if !ok {
			continue
		}
		id, ok := identifier(doc)
		if !ok || seen[id.Key()] {
			continue
		}
		seen[id.Key()] = true
		members = append(members, id)

		var memberFields model.Fields
		memberFields.PublicationDate = model.NormalizeDate(doc.Date.Value)
		if app, ok := m.ApplicationReference.docdb(); ok {
			memberFields.FilingDate = model.NormalizeDate(app.Date.Value)
		}
		resp.Related = append(resp.Related, source.Relation{From: req.ID, To: id, Type: source.RelationFamilyMember})
		resp.Records = append(resp.Records, c.record(id, fetched, memberFields))
	}

	fields.FamilyMembers = members
	if !fields.IsEmpty() {
		resp.Records = append([]model.PartialRecord{c.record(req.ID, fetched, fields)}, resp.Records...)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, op, path string, dest interface{}) error {
	err := c.fetcher.GetJSON(ctx, Name, op, c.baseURL+path, dest)
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		// Rejected credentials do not heal on retry
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if status == http.StatusUnauthorized || status == http.StatusBadRequest || status == http.StatusForbidden {
			return source.NewError(source.Permanent, Name, op, fmt.Errorf("token: %w", re))
		}
	}
	return err
}

func biblioFields(doc exchangeDocument) model.Fields {
	b := doc.Biblio
	f := model.Fields{
		Title: strings.TrimSpace(pick(b.Titles)),
	}
	if pub, ok := b.PublicationReference.docdb(); ok {
		f.PublicationDate = model.NormalizeDate(pub.Date.Value)
	}
	if app, ok := b.ApplicationReference.docdb(); ok {
		f.FilingDate = model.NormalizeDate(app.Date.Value)
	}

	for _, abs := range doc.Abstracts {
		if f.Abstract != "" && abs.Lang != "en" {
			continue
		}
		var paras []string
		for _, p := range abs.Paragraphs {
			paras = append(paras, strings.TrimSpace(p.Value))
		}
		f.Abstract = strings.Join(paras, "\n")
		if abs.Lang == "en" {
			break
		}
	}

	applicants := preferOriginal(b.Parties.Applicants.Applicant)
	if len(applicants) > 0 {
		f.Assignee = strings.TrimSpace(applicants[0].Name.Name.Value)
	}
	for _, inv := range preferOriginal(b.Parties.Inventors.Inventor) {
		if name := strings.TrimSpace(inv.InventorName.Name.Value); name != "" {
			f.Inventors = append(f.Inventors, name)
		}
	}
	return f
}

// preferOriginal keeps the "original" data-format parties when present.
// OPS lists each party twice, once per format.
func preferOriginal(parties []party) []party {
	var original []party
	for _, p := range parties {
		if p.Format == "original" {
			original = append(original, p)
		}
	}
	if len(original) > 0 {
		return original
	}
	return parties
}

func identifier(d documentID) (model.PublicationIdentifier, bool) {
	cc := strings.TrimSpace(d.Country.Value)
	num := strings.TrimSpace(d.DocNumber.Value)
	if cc == "" || num == "" {
		return model.PublicationIdentifier{}, false
	}
	id, err := model.ParseIdentifier(cc + num + strings.TrimSpace(d.Kind.Value))
	if err != nil {
		return model.PublicationIdentifier{}, false
	}
	return id, true
}

// opsRef renders the id as a docdb reference when the kind is known, epodoc otherwise
func opsRef(id model.PublicationIdentifier) string {
	if id.Kind != "" {
		return "docdb/" + url.PathEscape(id.Jurisdiction+"."+id.Number+"."+id.Kind)
	}
	return "epodoc/" + url.PathEscape(id.Key())
}

func (c *Client) record(id model.PublicationIdentifier, fetched time.Time, f model.Fields) model.PartialRecord {
	return model.PartialRecord{
		Identifier: id,
		Source:     Name,
		SourceKind: source.KindPatentData,
		Fields:     f,
		FetchedAt:  fetched,
	}
}
