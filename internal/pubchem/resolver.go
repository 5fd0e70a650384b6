// Package pubchem resolves a molecule name to the development codes and CAS
// number PubChem lists among its synonyms.
package pubchem

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/patfam/internal/logging"
	"github.com/ppiankov/patfam/internal/source"
)

// Name is the budget and diagnostics name of the resolver
const Name = "pubchem"

const (
	maxScanned  = 200
	maxDevCodes = 30
	maxSynonyms = 80
)

var (
	devCodePattern = regexp.MustCompile(`(?i)^[A-Z]{2,5}-?\d{3,7}[A-Z]?$`)
	casPattern     = regexp.MustCompile(`^\d{2,7}-\d{2}-\d$`)
)

// Synonyms is what PubChem knows under other names
type Synonyms struct {
	DevCodes []string `json:"dev_codes,omitempty"`
	CAS      string   `json:"cas,omitempty"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// Terms returns the development codes followed by the CAS number, capped at limit (0 = all)
func (s *Synonyms) Terms(limit int) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, code := range s.DevCodes {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, code)
	}
	if s.CAS != "" {
		out = append(out, s.CAS)
	}
	return out
}

// Resolver queries the PUG REST synonyms endpoint
type Resolver struct {
	fetcher *source.Fetcher
	baseURL string
	log     logging.Logger
}

// NewResolver creates a resolver for baseURL (https://pubchem.ncbi.nlm.nih.gov)
func NewResolver(baseURL string, fetcher *source.Fetcher, log logging.Logger) *Resolver {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Resolver{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Named(Name),
	}
}

type synonymsResponse struct {
	InformationList struct {
		Information []struct {
			CID     int      `json:"CID"`
			Synonym []string `json:"Synonym"`
		} `json:"Information"`
	} `json:"InformationList"`
}

// Resolve looks the molecule up. Unknown names yield empty synonyms.
func (r *Resolver) Resolve(ctx context.Context, molecule string) (*Synonyms, error) {
	endpoint := r.baseURL + "/rest/pug/compound/name/" + url.PathEscape(strings.TrimSpace(molecule)) + "/synonyms/JSON"

	var data synonymsResponse
	if err := r.fetcher.GetJSON(ctx, Name, "synonyms", endpoint, &data); err != nil {
		if source.StatusOf(err) == http.StatusNotFound {
			return &Synonyms{}, nil
		}
		return nil, err
	}
	if len(data.InformationList.Information) == 0 {
		return &Synonyms{}, nil
	}

	syn := Classify(data.InformationList.Information[0].Synonym)
	r.log.Debug("resolved synonyms",
		logging.String("molecule", molecule),
		logging.Int("dev_codes", len(syn.DevCodes)),
		logging.String("cas", syn.CAS),
	)
	return syn, nil
}

// Classify scans the leading synonyms for development codes and the first CAS number
func Classify(synonyms []string) *Synonyms {
	out := &Synonyms{}
	seen := make(map[string]bool)
	for i, s := range synonyms {
		if i >= maxScanned {
			break
		}
		s = strings.TrimSpace(s)
		if devCodePattern.MatchString(s) && len(out.DevCodes) < maxDevCodes && !seen[strings.ToUpper(s)] {
			seen[strings.ToUpper(s)] = true
			out.DevCodes = append(out.DevCodes, s)
		}
		if out.CAS == "" && casPattern.MatchString(s) {
			out.CAS = s
		}
		if len(s) > 3 && len(s) < 100 && len(out.Synonyms) < maxSynonyms {
			out.Synonyms = append(out.Synonyms, s)
		}
	}
	return out
}
