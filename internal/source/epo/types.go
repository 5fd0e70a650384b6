package epo

import (
	"bytes"
	"encoding/json"
)

// oneOrMany decodes OPS JSON, where a list with a single element is
// serialised as a bare object
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = oneOrMany[T]{one}
	return nil
}

// textNode is the {"$": "..."} wrapper OPS uses for element text
type textNode struct {
	Value string `json:"$"`
}

type documentID struct {
	Type      string   `json:"@document-id-type"`
	Country   textNode `json:"country"`
	DocNumber textNode `json:"doc-number"`
	Kind      textNode `json:"kind"`
	Date      textNode `json:"date"`
}

type reference struct {
	DocumentID oneOrMany[documentID] `json:"document-id"`
}

// docdb returns the docdb-format id, falling back to the first one
func (r reference) docdb() (documentID, bool) {
	for _, d := range r.DocumentID {
		if d.Type == "docdb" {
			return d, true
		}
	}
	if len(r.DocumentID) > 0 {
		return r.DocumentID[0], true
	}
	return documentID{}, false
}

type searchEnvelope struct {
	WorldPatentData struct {
		BiblioSearch struct {
			Total        string `json:"@total-result-count"`
			SearchResult struct {
				References oneOrMany[struct {
					FamilyID   string     `json:"@family-id"`
					DocumentID documentID `json:"document-id"`
				}] `json:"ops:publication-reference"`
			} `json:"ops:search-result"`
		} `json:"ops:biblio-search"`
	} `json:"ops:world-patent-data"`
}

type langText struct {
	Lang  string `json:"@lang"`
	Value string `json:"$"`
}

type party struct {
	Format string `json:"@data-format"`
	Name   struct {
		Name textNode `json:"name"`
	} `json:"applicant-name"`
	InventorName struct {
		Name textNode `json:"name"`
	} `json:"inventor-name"`
}

type exchangeDocument struct {
	Country   string `json:"@country"`
	DocNumber string `json:"@doc-number"`
	Kind      string `json:"@kind"`
	FamilyID  string `json:"@family-id"`
	Biblio    struct {
		PublicationReference reference           `json:"publication-reference"`
		ApplicationReference reference           `json:"application-reference"`
		Titles               oneOrMany[langText] `json:"invention-title"`
		Parties              struct {
			Applicants struct {
				Applicant oneOrMany[party] `json:"applicant"`
			} `json:"applicants"`
			Inventors struct {
				Inventor oneOrMany[party] `json:"inventor"`
			} `json:"inventors"`
		} `json:"parties"`
	} `json:"bibliographic-data"`
	Abstracts oneOrMany[struct {
		Lang       string              `json:"@lang"`
		Paragraphs oneOrMany[textNode] `json:"p"`
	}] `json:"abstract"`
}

type biblioEnvelope struct {
	WorldPatentData struct {
		ExchangeDocuments struct {
			Documents oneOrMany[exchangeDocument] `json:"exchange-document"`
		} `json:"exchange-documents"`
	} `json:"ops:world-patent-data"`
}

type familyEnvelope struct {
	WorldPatentData struct {
		Family struct {
			FamilyID string `json:"@family-id"`
			Members  oneOrMany[struct {
				FamilyID             string    `json:"@family-id"`
				PublicationReference reference `json:"publication-reference"`
				ApplicationReference reference `json:"application-reference"`
			}] `json:"ops:family-member"`
		} `json:"ops:patent-family"`
	} `json:"ops:world-patent-data"`
}

// pick returns the English entry, else the first one
func pick(texts []langText) string {
	for _, t := range texts {
		if t.Lang == "en" {
			return t.Value
		}
	}
	if len(texts) > 0 {
		return texts[0].Value
	}
	return ""
}
