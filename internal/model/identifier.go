package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidIdentifier is returned when a publication number cannot be normalized
var ErrInvalidIdentifier = errors.New("invalid publication identifier")

// KindClass classifies a kind code
type KindClass string

const (
	KindClassUnknown     KindClass = "unknown"
	KindClassApplication KindClass = "application"
	KindClassGrant       KindClass = "grant"
	KindClassUtility     KindClass = "utility_model"
)

// PublicationIdentifier is a normalized patent or application number.
// Two identifiers denote the same publication when their Key() values match;
// the kind code is informational.
type PublicationIdentifier struct {
	Jurisdiction string `json:"jurisdiction"` // 2-letter country code or "WO"/"EP"
	Number       string `json:"number"`       // Normalized serial, no separators
	Kind         string `json:"kind,omitempty"`
}

var (
	// PCT application numbers map onto the WO publication of the same year/serial
	pctPattern     = regexp.MustCompile(`^PCT([A-Z]{2})(\d{2}|\d{4})(\d{1,6})$`)
	woSeparated    = regexp.MustCompile(`^WO\s*-?\s*(\d{4}|\d{2})\s*[/\-\s]\s*(\d{1,6})\s*([A-Z]\d?)?$`)
	kindPattern    = regexp.MustCompile(`^(.*\d)([A-Z]\d?)$`)
	separatorStrip = strings.NewReplacer(" ", "", "\t", "", "-", "", "/", "", ",", "", ".", "", "_", "")
)

// ParseIdentifier normalizes a textual publication number.
// ParseIdentifier(id.String()) always returns id.
func ParseIdentifier(raw string) (PublicationIdentifier, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if m := woSeparated.FindStringSubmatch(upper); m != nil {
		return PublicationIdentifier{Jurisdiction: "WO", Number: expandYear(m[1]) + padSerial(m[2]), Kind: m[3]}, nil
	}

	s := separatorStrip.Replace(upper)
	if len(s) < 3 {
		return PublicationIdentifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}

	if m := pctPattern.FindStringSubmatch(s); m != nil {
		s = "WO" + expandYear(m[2]) + padSerial(m[3])
	}

	country := s[:2]
	if !isUpperAlpha(country) {
		return PublicationIdentifier{}, fmt.Errorf("%w: %q has no jurisdiction", ErrInvalidIdentifier, raw)
	}
	body := s[2:]

	kind := ""
	if m := kindPattern.FindStringSubmatch(body); m != nil {
		body, kind = m[1], m[2]
	}

	if country == "WO" {
		wo, ok := compactWO(body)
		if !ok {
			return PublicationIdentifier{}, fmt.Errorf("%w: %q is not a WO publication", ErrInvalidIdentifier, raw)
		}
		body = wo
	}

	if country == "BR" {
		body = dropBRCheckDigit(body)
	}

	if body == "" || !strings.ContainsAny(body, "0123456789") {
		return PublicationIdentifier{}, fmt.Errorf("%w: %q has no serial", ErrInvalidIdentifier, raw)
	}

	return PublicationIdentifier{Jurisdiction: country, Number: body, Kind: kind}, nil
}

// MustParseIdentifier is ParseIdentifier for literals; it panics on error
func MustParseIdentifier(raw string) PublicationIdentifier {
	id, err := ParseIdentifier(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// Key returns the identity of the publication (kind code stripped)
func (p PublicationIdentifier) Key() string {
	return p.Jurisdiction + p.Number
}

// String returns the normalized identifier including its kind code
func (p PublicationIdentifier) String() string {
	return p.Key() + p.Kind
}

// IsZero reports whether the identifier is unset
func (p PublicationIdentifier) IsZero() bool {
	return p.Jurisdiction == "" && p.Number == ""
}

// SameAs reports whether both identifiers denote the same publication
func (p PublicationIdentifier) SameAs(other PublicationIdentifier) bool {
	return p.Key() == other.Key()
}

// KindClass classifies the kind code
func (p PublicationIdentifier) KindClass() KindClass {
	if p.Kind == "" {
		return KindClassUnknown
	}
	switch p.Kind[0] {
	case 'A':
		return KindClassApplication
	case 'B', 'C':
		return KindClassGrant
	case 'U', 'Y':
		return KindClassUtility
	default:
		return KindClassUnknown
	}
}

// MarshalText implements encoding.TextMarshaler so identifiers can be map keys
func (p PublicationIdentifier) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *PublicationIdentifier) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = PublicationIdentifier{}
		return nil
	}
	id, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// expandYear turns 2-digit years into 4 digits (<50 is 20xx)
func expandYear(year string) string {
	if len(year) != 2 {
		return year
	}
	n, _ := strconv.Atoi(year)
	if n < 50 {
		return "20" + year
	}
	return "19" + year
}

// compactWO splits an unseparated WO body into year and serial.
// Current numbers are 4+6 digits, legacy ones 2+5 or 2+6.
func compactWO(body string) (string, bool) {
	if !isDigits(body) {
		return "", false
	}
	switch {
	case len(body) == 10:
		return body, true
	case len(body) == 7 || len(body) == 8:
		return expandYear(body[:2]) + padSerial(body[2:]), true
	case len(body) > 4 && len(body) < 10 && (strings.HasPrefix(body, "19") || strings.HasPrefix(body, "20")):
		return body[:4] + padSerial(body[4:]), true
	default:
		return "", false
	}
}

func padSerial(serial string) string {
	if len(serial) >= 6 {
		return serial
	}
	return strings.Repeat("0", 6-len(serial)) + serial
}

// dropBRCheckDigit removes the INPI verification digit.
// Modern numbers carry 2 type + 4 year + 6 serial digits; legacy PI/MU/C1
// numbers carry 7 digits. One extra trailing digit is the check digit.
func dropBRCheckDigit(body string) string {
	for _, prefix := range []string{"PI", "MU", "C1"} {
		if strings.HasPrefix(body, prefix) {
			digits := body[len(prefix):]
			if len(digits) == 8 && isDigits(digits) {
				return body[:len(body)-1]
			}
			return body
		}
	}
	if len(body) == 13 && isDigits(body) {
		return body[:12]
	}
	return body
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
