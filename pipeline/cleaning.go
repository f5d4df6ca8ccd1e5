package pipeline

import (
	"fmt"
	"sort"
)

// CanonicalRule rewrites any of From to To for a single categorical field.
type CanonicalRule struct {
	Field string
	From  []string
	To    string
}

// CanonicalRules is the one rule table applied by both the trainer and the
// inference service before any vocabulary lookup.
var CanonicalRules = []CanonicalRule{
	{Field: FieldEthnicity, From: []string{"?", "others"}, To: "Others"},
	{Field: FieldRelation, From: []string{"?", "Relative", "Parent", "Health care professional"}, To: "Others"},
	{Field: FieldCountry, From: []string{"Viet Nam"}, To: "Vietnam"},
	{Field: FieldCountry, From: []string{"AmericanSamoa"}, To: "United States"},
	{Field: FieldCountry, From: []string{"Hong Kong"}, To: "China"},
}

var canonicalTable = mustBuildCanonicalTable(CanonicalRules)

func mustBuildCanonicalTable(rules []CanonicalRule) map[string]map[string]string {
	table, err := buildCanonicalTable(rules)
	if err != nil {
		panic(err)
	}
	return table
}

// buildCanonicalTable indexes rules by field and source value. A target that
// is also a source for the same field would make the rewrite non-idempotent,
// so it is rejected.
func buildCanonicalTable(rules []CanonicalRule) (map[string]map[string]string, error) {
	table := make(map[string]map[string]string)
	for _, rule := range rules {
		if !IsCategorical(rule.Field) {
			return nil, fmt.Errorf("canonical rule for non-categorical field %q", rule.Field)
		}
		fieldTable, ok := table[rule.Field]
		if !ok {
			fieldTable = make(map[string]string)
			table[rule.Field] = fieldTable
		}
		for _, from := range rule.From {
			if existing, dup := fieldTable[from]; dup && existing != rule.To {
				return nil, fmt.Errorf("conflicting canonical rules for %s=%q", rule.Field, from)
			}
			fieldTable[from] = rule.To
		}
	}
	for field, fieldTable := range table {
		for _, to := range fieldTable {
			if _, isSource := fieldTable[to]; isSource {
				return nil, fmt.Errorf("canonical target %q for %s is also a source", to, field)
			}
		}
	}
	return table, nil
}

// Canonicalize returns the vocabulary form of value for field. Values with no
// rule are returned unchanged.
func Canonicalize(field, value string) string {
	if to, ok := canonicalTable[field][value]; ok {
		return to
	}
	return value
}

// CleaningStats counts rewrites applied while canonicalizing a dataset.
type CleaningStats struct {
	TotalRows int            `json:"total_rows"`
	Corrected map[string]int `json:"corrected"`
}

// Fields returns the fields with at least one rewrite, sorted.
func (s CleaningStats) Fields() []string {
	fields := make([]string, 0, len(s.Corrected))
	for field := range s.Corrected {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// CanonicalizeRows applies the rule table to every categorical value in place.
func CanonicalizeRows(rows []Row) CleaningStats {
	stats := CleaningStats{TotalRows: len(rows), Corrected: make(map[string]int)}
	for i := range rows {
		for _, field := range CategoricalFields {
			raw := rows[i].Categorical[field]
			canonical := Canonicalize(field, raw)
			if canonical != raw {
				rows[i].Categorical[field] = canonical
				stats.Corrected[field]++
			}
		}
	}
	return stats
}
