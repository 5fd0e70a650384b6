package merge

import (
	"fmt"
	"strings"

	"github.com/ppiankov/patfam/internal/model"
)

// Precedence ranks source kinds for scalar overwrites
type Precedence struct {
	rank map[model.SourceKind]int
}

// NewPrecedence builds a policy from kinds listed highest first.
// Kinds missing from the list rank below every listed kind.
func NewPrecedence(order []model.SourceKind) *Precedence {
	p := &Precedence{rank: make(map[model.SourceKind]int, len(order))}
	for i, kind := range order {
		if _, dup := p.rank[kind]; !dup {
			p.rank[kind] = len(order) - i
		}
	}
	return p
}

// DefaultPrecedence is patent_data > patent_office > search_engine
func DefaultPrecedence() *Precedence {
	return NewPrecedence(model.DefaultConfig().Merge.Precedence)
}

// Rank returns the weight of kind; higher wins
func (p *Precedence) Rank(kind model.SourceKind) int {
	if p == nil {
		return 0
	}
	return p.rank[kind]
}

// ParseSourceKind converts a configured name into a SourceKind
func ParseSourceKind(s string) (model.SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patent_data", "data", "api":
		return model.SourcePatentData, nil
	case "patent_office", "office":
		return model.SourcePatentOffice, nil
	case "search_engine", "search", "engine":
		return model.SourceSearchEngine, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}
