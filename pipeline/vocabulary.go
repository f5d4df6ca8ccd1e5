package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CodeRuleLexicographic assigns code i to the i-th distinct value in byte-wise
// sorted order.
const CodeRuleLexicographic = "lexicographic"

// Vocabulary is the immutable ordered set of known values for one field.
type Vocabulary struct {
	values []string
	codes  map[string]int
}

// FitVocabulary builds a vocabulary from observed values.
func FitVocabulary(observed []string) *Vocabulary {
	seen := make(map[string]struct{}, len(observed))
	values := make([]string, 0)
	for _, v := range observed {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	sort.Strings(values)
	return newVocabulary(values)
}

func newVocabulary(sorted []string) *Vocabulary {
	codes := make(map[string]int, len(sorted))
	for i, v := range sorted {
		codes[v] = i
	}
	return &Vocabulary{values: sorted, codes: codes}
}

// Code returns the integer code of value.
func (v *Vocabulary) Code(value string) (int, bool) {
	code, ok := v.codes[value]
	return code, ok
}

// Values returns the vocabulary in code order.
func (v *Vocabulary) Values() []string {
	return append([]string(nil), v.values...)
}

// Len returns the number of known values.
func (v *Vocabulary) Len() int {
	return len(v.values)
}

// describe renders the valid set for client-facing errors.
func (v *Vocabulary) describe() string {
	quoted := make([]string, len(v.values))
	for i, value := range v.values {
		quoted[i] = "'" + value + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Encoders holds one Vocabulary per categorical field.
type Encoders struct {
	columns map[string]*Vocabulary
}

// FitEncoders builds a vocabulary for every categorical field from
// already-canonicalized rows.
func FitEncoders(rows []Row) (*Encoders, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit encoders: no rows")
	}
	columns := make(map[string]*Vocabulary, len(CategoricalFields))
	for _, field := range CategoricalFields {
		observed := make([]string, len(rows))
		for i, row := range rows {
			observed[i] = row.Categorical[field]
		}
		columns[field] = FitVocabulary(observed)
	}
	return &Encoders{columns: columns}, nil
}

// NewEncoders builds Encoders from explicit per-field value lists.
func NewEncoders(columns map[string][]string) (*Encoders, error) {
	enc := &Encoders{columns: make(map[string]*Vocabulary, len(columns))}
	for _, field := range CategoricalFields {
		values, ok := columns[field]
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("encoders: no vocabulary for %s", field)
		}
		if !sort.StringsAreSorted(values) {
			return nil, fmt.Errorf("encoders: vocabulary for %s is not in %s order", field, CodeRuleLexicographic)
		}
		for i := 1; i < len(values); i++ {
			if values[i] == values[i-1] {
				return nil, fmt.Errorf("encoders: duplicate value %q for %s", values[i], field)
			}
		}
		enc.columns[field] = newVocabulary(append([]string(nil), values...))
	}
	for field := range columns {
		if !IsCategorical(field) {
			return nil, fmt.Errorf("encoders: unexpected column %q", field)
		}
	}
	return enc, nil
}

// Vocabulary returns the vocabulary for field.
func (e *Encoders) Vocabulary(field string) (*Vocabulary, bool) {
	v, ok := e.columns[field]
	return v, ok
}

// Encode maps an already-canonicalized value to its code.
func (e *Encoders) Encode(field, value string) (int, error) {
	vocab, ok := e.columns[field]
	if !ok {
		return 0, fmt.Errorf("no encoder for %s", field)
	}
	code, ok := vocab.Code(value)
	if !ok {
		return 0, fmt.Errorf("value %q for %s is not in vocabulary", value, field)
	}
	return code, nil
}

type encodersArtifact struct {
	FeatureOrderVersion string              `json:"feature_order_version"`
	CodeRule            string              `json:"code_rule"`
	Columns             map[string][]string `json:"columns"`
}

// MarshalJSON renders the encoders artifact. Map keys are sorted by
// encoding/json, so the bytes are deterministic.
func (e *Encoders) MarshalJSON() ([]byte, error) {
	artifact := encodersArtifact{
		FeatureOrderVersion: FeatureOrderVersion,
		CodeRule:            CodeRuleLexicographic,
		Columns:             make(map[string][]string, len(e.columns)),
	}
	for field, vocab := range e.columns {
		artifact.Columns[field] = vocab.Values()
	}
	return json.MarshalIndent(artifact, "", "  ")
}

// Digest returns a hex sha256 of the serialized artifact.
func (e *Encoders) Digest() (string, error) {
	payload, err := e.MarshalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the encoders artifact to path.
func (e *Encoders) Save(path string) error {
	payload, err := e.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal encoders: %w", err)
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return fmt.Errorf("write encoders: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path via a temp file in the same directory so a
// reader never sees a partially written artifact.
func writeFileAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

const encodersSchema = `{
  "type": "object",
  "required": ["feature_order_version", "code_rule", "columns"],
  "properties": {
    "feature_order_version": {"type": "string"},
    "code_rule": {"type": "string", "enum": ["lexicographic"]},
    "columns": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "minItems": 1,
        "uniqueItems": true,
        "items": {"type": "string"}
      }
    }
  }
}`

// LoadEncoders reads and validates an encoders artifact.
func LoadEncoders(path string) (*Encoders, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoders: %w", err)
	}
	return ParseEncoders(payload)
}

// ParseEncoders validates payload against the artifact schema and builds
// Encoders from it.
func ParseEncoders(payload []byte) (*Encoders, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(encodersSchema),
		gojsonschema.NewBytesLoader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("encoders artifact: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("encoders artifact failed validation: %v", errs)
	}

	var artifact encodersArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("decode encoders: %w", err)
	}
	if artifact.FeatureOrderVersion != FeatureOrderVersion {
		return nil, fmt.Errorf("%w: encoders version %q, expected %q",
			ErrFeatureOrderMismatch, artifact.FeatureOrderVersion, FeatureOrderVersion)
	}
	return NewEncoders(artifact.Columns)
}
