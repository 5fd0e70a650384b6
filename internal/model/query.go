package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is returned for queries without a primary molecule name
var ErrInvalidQuery = errors.New("invalid molecule query")

// MoleculeQuery is the immutable input of one aggregation run
type MoleculeQuery struct {
	PrimaryName string `json:"primary_name"`         // INN / generic name (required)
	BrandName   string `json:"brand_name,omitempty"` // Commercial name (optional)
}

// NewMoleculeQuery trims and validates the names
func NewMoleculeQuery(primary, brand string) (MoleculeQuery, error) {
	q := MoleculeQuery{
		PrimaryName: strings.TrimSpace(primary),
		BrandName:   strings.TrimSpace(brand),
	}
	if err := q.Validate(); err != nil {
		return MoleculeQuery{}, err
	}
	return q, nil
}

// Validate checks that the primary name is present
func (q MoleculeQuery) Validate() error {
	if strings.TrimSpace(q.PrimaryName) == "" {
		return fmt.Errorf("%w: primary name is required", ErrInvalidQuery)
	}
	return nil
}

// Terms returns the primary name followed by the brand name, if different
func (q MoleculeQuery) Terms() []string {
	terms := []string{q.PrimaryName}
	if q.BrandName != "" && !strings.EqualFold(q.BrandName, q.PrimaryName) {
		terms = append(terms, q.BrandName)
	}
	return terms
}
