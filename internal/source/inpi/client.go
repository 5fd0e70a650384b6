// Package inpi adapts the Brazilian patent office (INPI) to source.Client.
// Free-text search goes through a crawler JSON endpoint, identifier lookups
// scrape the pePI detail page.
package inpi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/model"
	"github.com/ppiankov/patfam/internal/source"
)

// Name is the source name used for budgets, diagnostics and records
const Name = "inpi"

// Jurisdiction is the only jurisdiction INPI publishes
const Jurisdiction = "BR"

// ErrDisallowed is returned when robots.txt forbids the detail page
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Portuguese spellings of common INN suffixes
var ptSuffixes = [][2]string{
	{"ide", "ida"},
	{"ine", "ina"},
	{"ib", "ibe"},
	{"ab", "abe"},
	{"mab", "mabe"},
	{"nib", "nibe"},
}

// Client is the INPI adapter
type Client struct {
	fetcher    *source.Fetcher
	robots     *source.RobotsChecker
	crawlerURL string
	portalURL  string
	pacer      *rate.Limiter // Spaces the per-variant crawler requests of one lookup
	now        func() time.Time
	log        logging.Logger
}

var _ source.Client = (*Client)(nil)

// Option configures the client
type Option func(*Client)

// WithPacing spaces consecutive crawler requests inside one lookup
func WithPacing(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pacer = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithRobots enables the robots.txt gate for detail pages
func WithRobots(rc *source.RobotsChecker) Option {
	return func(c *Client) { c.robots = rc }
}

// New creates the adapter
func New(cfg model.INPIConfig, fetcher *source.Fetcher, log logging.Logger, opts ...Option) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &Client{
		fetcher:    fetcher,
		crawlerURL: strings.TrimRight(cfg.CrawlerURL, "/"),
		portalURL:  strings.TrimRight(cfg.PortalURL, "/"),
		now:        time.Now,
		log:        log.Named(Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string                  { return Name }
func (c *Client) Kind() source.Kind             { return source.KindPatentOffice }
func (c *Client) SupportsFamilyExpansion() bool { return false }

// Lookup dispatches on the request type. Requests outside BR yield an empty response.
func (c *Client) Lookup(ctx context.Context, req source.Request) (*source.Response, error) {
	if req.IsQuery() {
		if req.Jurisdiction != "" && req.Jurisdiction != Jurisdiction {
			return &source.Response{}, nil
		}
		return c.search(ctx, req)
	}
	if req.ID.Jurisdiction != Jurisdiction {
		return &source.Response{}, nil
	}
	return c.detail(ctx, req)
}

type crawlerResponse struct {
	Data []struct {
		Title       string `json:"title"` // Carries the BR number
		Applicant   string `json:"applicant"`
		DepositDate string `json:"depositDate"`
	} `json:"data"`
}

func (c *Client) search(ctx context.Context, req source.Request) (*source.Response, error) {
	resp := &source.Response{}
	seen := make(map[string]bool)
	variants := Variants(req.Query)
	var failures []error

	for i, term := range variants {
		if i > 0 && c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, source.TransportError(Name, req.Op(), err)
			}
		}

		endpoint := c.crawlerURL + "/api/data/inpi/patents?medicine=" + url.QueryEscape(term)
		var data crawlerResponse
		if err := c.fetcher.GetJSON(ctx, Name, req.Op(), endpoint, &data); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.log.Debug("variant failed", logging.String("term", term), logging.Err(err))
			failures = append(failures, err)
			continue
		}

		fetched := c.now()
		for _, hit := range data.Data {
			raw := strings.TrimSpace(hit.Title)
			if !strings.HasPrefix(strings.ToUpper(raw), Jurisdiction) {
				continue
			}
			id, err := model.ParseIdentifier(raw)
			if err != nil || seen[id.Key()] {
				continue
			}
			seen[id.Key()] = true
			resp.Records = append(resp.Records, c.record(id, fetched, model.Fields{
				Assignee:   strings.TrimSpace(hit.Applicant),
				FilingDate: model.NormalizeDate(hit.DepositDate),
			}))
		}
	}

	// Only fail when no variant could be searched
	if len(failures) > 0 && len(failures) == len(variants) {
		return nil, failures[0]
	}
	return resp, nil
}

func (c *Client) detail(ctx context.Context, req source.Request) (*source.Response, error) {
	pageURL := c.DetailURL(req.ID)

	if c.robots != nil {
		if allowed, _, _ := c.robots.CanFetch(ctx, pageURL); !allowed {
			return nil, source.NewError(source.Permanent, Name, req.Op(), ErrDisallowed)
		}
	}

	page, err := c.fetcher.Fetch(ctx, Name, req.Op(), pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	doc, err := parseHTML(page.Body, page.ContentType)
	if err != nil {
		return nil, source.NewError(source.Malformed, Name, req.Op(), err)
	}

	fields := parseDetail(doc)
	if fields.IsEmpty() {
		// pePI answers 200 with an empty form for unknown numbers
		return &source.Response{}, nil
	}

	return &source.Response{
		Records: []model.PartialRecord{c.record(req.ID, c.now(), fields)},
	}, nil
}

// DetailURL returns the pePI page of a BR publication
func (c *Client) DetailURL(id model.PublicationIdentifier) string {
	return fmt.Sprintf("%s/pePI/servlet/PatenteServletController?Action=detail&CodPedido=%s",
		c.portalURL, url.QueryEscape(pepiCode(id)))
}

// pepiCode renders the number the way pePI indexes it ("BR 11 2012 008823", "PI 0512345")
func pepiCode(id model.PublicationIdentifier) string {
	n := id.Number
	if len(n) == 12 && strings.Trim(n, "0123456789") == "" {
		return fmt.Sprintf("BR %s %s %s", n[:2], n[2:6], n[6:])
	}
	for _, prefix := range []string{"PI", "MU", "C1"} {
		if strings.HasPrefix(n, prefix) {
			return prefix + " " + n[len(prefix):]
		}
	}
	return id.Key()
}

// parseDetail reads the INID-coded rows of a pePI detail page
func parseDetail(doc *html.Node) model.Fields {
	var f model.Fields
	for _, row := range labeledRows(doc) {
		label, value := row[0], strings.TrimSpace(row[1])
		if value == "" || value == "-" {
			continue
		}
		switch {
		case strings.HasPrefix(label, "(54)"):
			f.Title = value
		case strings.HasPrefix(label, "(57)"):
			f.Abstract = value
		case strings.HasPrefix(label, "(71)"), strings.HasPrefix(label, "(73)"):
			if f.Assignee == "" {
				f.Assignee = value
			}
		case strings.HasPrefix(label, "(72)"):
			f.Inventors = splitInventors(value)
		case strings.HasPrefix(label, "(22)"):
			f.FilingDate = model.NormalizeDate(value)
		case strings.HasPrefix(label, "(43)"):
			f.PublicationDate = model.NormalizeDate(value)
		case strings.HasPrefix(strings.ToLower(label), "situação"), strings.HasPrefix(strings.ToLower(label), "status"):
			f.Status = value
		}
	}
	return f
}

func splitInventors(value string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == '/' || r == ';' }) {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (c *Client) record(id model.PublicationIdentifier, fetched time.Time, f model.Fields) model.PartialRecord {
	return model.PartialRecord{
		Identifier: id,
		Source:     Name,
		SourceKind: source.KindPatentOffice,
		Fields:     f,
		FetchedAt:  fetched,
	}
}

// Variants returns the term, its lowercase form and its Portuguese spellings, de-duplicated
func Variants(term string) []string {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	add(term)
	add(strings.ToLower(term))

	lower := strings.ToLower(term)
	for _, sx := range ptSuffixes {
		if strings.HasSuffix(lower, sx[0]) {
			pt := lower[:len(lower)-len(sx[0])] + sx[1]
			add(pt)
			add(strings.ToUpper(pt[:1]) + pt[1:])
		}
	}
	return out
}
