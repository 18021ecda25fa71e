package estimate

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/emissions-cli/internal/records"
)

// FieldMapping names the input columns that feed an estimate.
type FieldMapping struct {
	SearchTermColumns []string `yaml:"search_term_columns" json:"search_term_columns"`
	CategoryColumns   []string `yaml:"category_columns" json:"category_columns"`
	AmountColumn      string   `yaml:"amount_column" json:"amount_column"`
	CurrencyColumn    string   `yaml:"currency_column" json:"currency_column"`
	CountryCodeColumn string   `yaml:"country_code_column" json:"country_code_column"`
}

// LoadMapping reads a FieldMapping from a YAML file.
func LoadMapping(path string) (*FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "estimate: read mapping %s", path)
	}

	var m FieldMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "estimate: parse mapping")
	}
	return &m, nil
}

// Validate checks that every mandatory column is named.
func (m FieldMapping) Validate() error {
	var missing []string
	if len(m.SearchTermColumns) == 0 {
		missing = append(missing, "search term columns")
	}
	if m.AmountColumn == "" {
		missing = append(missing, "amount column")
	}
	if m.CurrencyColumn == "" {
		missing = append(missing, "currency column")
	}
	if m.CountryCodeColumn == "" {
		missing = append(missing, "country code column")
	}
	if len(missing) > 0 {
		return eris.Errorf("estimate: field mapping is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequiredColumns returns every column the mapping reads, deduplicated.
func (m FieldMapping) RequiredColumns() []string {
	return records.Columns(
		m.SearchTermColumns,
		m.CategoryColumns,
		[]string{m.AmountColumn, m.CurrencyColumn, m.CountryCodeColumn},
	)
}

// Fields is the per-record input extracted through a FieldMapping.
type Fields struct {
	SearchTerms []string
	Categories  []string
	Amount      string
	Currency    string
	CountryCode string
}

// Extract reads and normalises the mapped fields of rec.
func (m FieldMapping) Extract(rec records.Record) Fields {
	f := Fields{
		SearchTerms: make([]string, 0, len(m.SearchTermColumns)),
		Amount:      NormalizeAmount(rec[m.AmountColumn]),
		Currency:    strings.TrimSpace(rec[m.CurrencyColumn]),
		CountryCode: strings.TrimSpace(rec[m.CountryCodeColumn]),
	}
	for _, col := range m.SearchTermColumns {
		f.SearchTerms = append(f.SearchTerms, strings.TrimSpace(rec[col]))
	}
	for _, col := range m.CategoryColumns {
		f.Categories = append(f.Categories, strings.TrimSpace(rec[col]))
	}
	return f
}

// NormalizeAmount trims s and removes thousands separators. A comma followed
// by one or two trailing digits is treated as a decimal comma when no dot is
// present; when both separators appear, the last one is the decimal mark.
func NormalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma < 0:
		return s
	case lastDot > lastComma:
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0:
		// "1.234,50": dots group thousands, the comma is decimal.
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2:
		return strings.Replace(s, ",", ".", 1)
	default:
		return strings.ReplaceAll(s, ",", "")
	}
}
