// Package serpapi adapts the SerpAPI Google Patents engines to source.Client.
package serpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
)

const (
	// Name is the source name used for budgets, diagnostics and records
	Name = "serpapi"

	maxAbstract  = 2000
	maxCitations = 30
	maxSimilar   = 20
)

// woInText finds WO publication and PCT application numbers in free text
var woInText = regexp.MustCompile(`(?i)\b(?:WO\s?-?\s?(?:\d{4}|\d{2})\s?[/\-]?\s?\d{5,6}|PCT/[A-Z]{2}(?:\d{4}|\d{2})/\d{5,6})`)

// Client queries google_patents for free-text hits and google_patents_details
// for the family of one publication
type Client struct {
	fetcher *source.Fetcher
	baseURL string
	keys    *KeyRing
	results int
	related string // Jurisdiction whose citations and similar documents become records
	now     func() time.Time
	log     logging.Logger
}

var _ source.Client = (*Client)(nil)

// New creates the adapter. At least one API key is required.
func New(cfg model.SerpAPIConfig, fetcher *source.Fetcher, log logging.Logger) (*Client, error) {
	keys := NewKeyRing(cfg.Keys)
	if keys.Len() == 0 {
		return nil, fmt.Errorf("serpapi: %w", ErrNoKeys)
	}
	results := cfg.Results
	if results <= 0 {
		results = 50
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{
		fetcher: fetcher,
		baseURL: cfg.BaseURL,
		keys:    keys,
		results: results,
		related: strings.ToUpper(strings.TrimSpace(cfg.RelatedJurisdiction)),
		now:     time.Now,
		log:     log.Named(Name),
	}, nil
}

func (c *Client) Name() string                  { return Name }
func (c *Client) Kind() source.Kind             { return source.KindSearchEngine }
func (c *Client) SupportsFamilyExpansion() bool { return true }

// Lookup dispatches on the request type
func (c *Client) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	if req.IsQuery() {
		return c.search(ctx, req)
	}
	return c.details(ctx, req)
}

func (c *Client) search(ctx context.Context, req source.Request) (*source.Response, error) {
	params := url.Values{}
	params.Set("engine", "google_patents")
	params.Set("q", req.Query)
	params.Set("num", strconv.Itoa(c.results))
	if req.Jurisdiction != "" {
		params.Set("country", req.Jurisdiction)
	}

	var data searchResponse
	if err := c.call(ctx, req.Op(), params, &data); err != nil {
		if errors.Is(err, errNoResults) {
			return &source.Response{}, nil
		}
		return nil, err
	}

	fetched := c.now()
	resp := &source.Response{}
	seen := make(map[string]bool)
	add := func(rec model.PartialRecord) {
		key := rec.Identifier.Key()
		if seen[key] {
			return
		}
		if req.Jurisdiction != "" && rec.Identifier.Jurisdiction != req.Jurisdiction {
			return
		}
		seen[key] = true
		resp.Records = append(resp.Records, rec)
	}

	for _, r := range data.OrganicResults {
		if id, ok := parseResultID(r); ok {
			add(c.record(id, fetched, model.Fields{
				Title:           strings.TrimSpace(r.Title),
				Assignee:        strings.TrimSpace(r.Assignee),
				FilingDate:      model.NormalizeDate(r.FilingDate),
				PublicationDate: model.NormalizeDate(r.PublicationDate),
				Inventors:       splitNames(r.Inventor),
			}))
		}
		for _, id := range extractWO(r.Title + " " + r.Snippet) {
			add(c.record(id, fetched, model.Fields{}))
		}
	}

	return resp, nil
}

func (c *Client) details(ctx context.Context, req source.Request) (*source.Response, error) {
	params := url.Values{}
	params.Set("engine", "google_patents_details")
	params.Set("patent_id", req.ID.String())

	var data detailsResponse
	if err := c.call(ctx, req.Op(), params, &data); err != nil {
		if errors.Is(err, errNoResults) {
			return nil, source.NewError(source.Permanent, Name, req.Op(), err)
		}
		return nil, err
	}

	fetched := c.now()
	root := req.ID
	resp := &source.Response{}
	members := make(map[string]model.PublicationIdentifier)
	var memberOrder []string
	recorded := make(map[string]bool)

	relate := func(raw string, typ source.RelationType, fields model.Fields) {
		id, err := model.ParseIdentifier(raw)
		if err != nil || id.SameAs(root) {
			return
		}
		resp.Related = append(resp.Related, source.Relation{From: root, To: id, Type: typ})
		if typ != source.RelationFamilyMember && typ != source.RelationAlsoPublishedAs {
			// Citations and similar documents only become records in the related jurisdiction
			if c.related != "" && id.Jurisdiction == c.related && !recorded[id.Key()] {
				recorded[id.Key()] = true
				resp.Records = append(resp.Records, c.record(id, fetched, fields))
			}
			return
		}
		recorded[id.Key()] = true
		if _, dup := members[id.Key()]; dup {
			if !fields.IsEmpty() {
				resp.Records = append(resp.Records, c.record(id, fetched, fields))
			}
			return
		}
		members[id.Key()] = id
		memberOrder = append(memberOrder, id.Key())
		resp.Records = append(resp.Records, c.record(id, fetched, fields))
	}

	for _, year := range sortedYears(data.WorldwideApplications) {
		for _, app := range data.WorldwideApplications[year] {
			status := app.LegalStatus
			if status == "" {
				status = app.Status
			}
			relate(app.DocumentID, source.RelationFamilyMember, model.Fields{
				Title:           strings.TrimSpace(app.Title),
				FilingDate:      model.NormalizeDate(app.FilingDate),
				PublicationDate: model.NormalizeDate(app.PublicationDate),
				Status:          strings.TrimSpace(status),
			})
		}
	}
	for _, m := range data.FamilyMembers {
		relate(m.id(), source.RelationFamilyMember, model.Fields{Title: strings.TrimSpace(m.Title)})
	}
	for _, m := range data.AlsoPublishedAs {
		relate(m.id(), source.RelationAlsoPublishedAs, model.Fields{})
	}

	citations := data.Citations
	if len(citations) == 0 && data.PatentCitations != nil {
		citations = data.PatentCitations.Original
	}
	for i, m := range citations {
		if i >= maxCitations {
			break
		}
		relate(m.id(), source.RelationCitation, model.Fields{})
	}
	for i, m := range data.SimilarDocuments {
		if i >= maxSimilar {
			break
		}
		relate(m.id(), source.RelationSimilar, model.Fields{})
	}

	family := make([]model.PublicationIdentifier, 0, len(memberOrder))
	for _, k := range memberOrder {
		family = append(family, members[k])
	}

	assignee := strings.TrimSpace(data.Assignee)
	if assignee == "" {
		if names := texts(data.Assignees); len(names) > 0 {
			assignee = names[0]
		}
	}

	rootRec := c.record(root, fetched, model.Fields{
		Title:           strings.TrimSpace(data.Title),
		Abstract:        truncate(strings.TrimSpace(data.Abstract), maxAbstract),
		Assignee:        assignee,
		FilingDate:      model.NormalizeDate(data.FilingDate),
		PublicationDate: model.NormalizeDate(data.PublicationDate),
		Status:          strings.TrimSpace(data.LegalStatus),
		Inventors:       texts(data.Inventors),
		Claims:          texts(data.Claims),
		FamilyMembers:   family,
	})
	resp.Records = append([]model.PartialRecord{rootRec}, resp.Records...)

	c.log.Debug("details fetched",
		logging.String("id", root.Key()),
		logging.Int("members", len(family)),
		logging.Int("relations", len(resp.Related)))

	return resp, nil
}

var errNoResults = errors.New("no results")

// call performs one API request and decodes it into dest, rotating to the
// next key when the API rejects the current one
func (c *Client) call(ctx context.Context, op string, params url.Values, dest interface{}) error {
	attempts := c.keys.Len()
	var lastErr error

	for i := 0; i < attempts; i++ {
		key, err := c.keys.Next()
		if err != nil {
			break
		}
		params.Set("api_key", key)

		body, err := c.fetcher.Get(ctx, Name, op, c.baseURL+"?"+params.Encode(), "application/json")
		if err != nil {
			if status := source.StatusOf(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
				c.keys.MarkExhausted(key)
				lastErr = err
				continue
			}
			return err
		}

		var envelope struct {
			Error string `json:"error"`
		}
		if err := source.DecodeJSON(Name, op, body, &envelope); err != nil {
			return err
		}

		switch msg := envelope.Error; {
		case msg == "":
			return source.DecodeJSON(Name, op, body, dest)
		case isNoResults(msg):
			return errNoResults
		case isKeyProblem(msg):
			c.log.Warn("api key rejected, rotating", logging.String("reason", msg))
			c.keys.MarkExhausted(key)
			lastErr = source.NewError(source.Permanent, Name, op, errors.New(msg))
		default:
			return source.NewError(source.Permanent, Name, op, errors.New(msg))
		}
	}

	if lastErr == nil {
		lastErr = source.NewError(source.Permanent, Name, op, ErrNoKeys)
	}
	return lastErr
}

func (c *Client) record(id model.PublicationIdentifier, fetched time.Time, f model.Fields) model.PartialRecord {
	return model.PartialRecord{
		Identifier: id,
		Source:     Name,
		SourceKind: source.KindSearchEngine,
		Fields:     f,
		FetchedAt:  fetched,
	}
}

func parseResultID(r organicResult) (model.PublicationIdentifier, bool) {
	raw := r.PublicationNumber
	if raw == "" {
		// patent_id looks like "patent/WO2011051540A1/en"
		raw = strings.TrimPrefix(r.PatentID, "patent/")
		if i := strings.Index(raw, "/"); i >= 0 {
			raw = raw[:i]
		}
	}
	if raw == "" {
		return model.PublicationIdentifier{}, false
	}
	id, err := model.ParseIdentifier(raw)
	return id, err == nil
}

func extractWO(text string) []model.PublicationIdentifier {
	var out []model.PublicationIdentifier
	for _, m := range woInText.FindAllString(text, -1) {
		if id, err := model.ParseIdentifier(m); err == nil && id.Jurisdiction == "WO" {
			out = append(out, id)
		}
	}
	return out
}

func splitNames(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func sortedYears(m map[string][]application) []string {
	years := make([]string, 0, len(m))
	for y := range m {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func isNoResults(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "hasn't returned any results")
}

func isKeyProblem(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "invalid api key") || strings.Contains(m, "run out of searches") ||
		strings.Contains(m, "account has been suspended")
}
