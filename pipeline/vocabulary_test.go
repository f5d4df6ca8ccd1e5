package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEncoders(t testing.TB) *Encoders {
	t.Helper()
	enc, err := NewEncoders(map[string][]string{
		FieldGender:        {"f", "m"},
		FieldEthnicity:     {"Asian", "Black", "Hispanic", "Latino", "Middle Eastern ", "Others", "Pasifika", "South Asian", "Turkish", "White-European"},
		FieldJaundice:      {"no", "yes"},
		FieldAutismHistory: {"no", "yes"},
		FieldCountry:       {"Australia", "China", "India", "United States", "Vietnam"},
		FieldUsedAppBefore: {"no", "yes"},
		FieldRelation:      {"Others", "Self"},
	})
	require.NoError(t, err)
	return enc
}

func TestFitVocabularyLexicographic(t *testing.T) {
	vocab := FitVocabulary([]string{"m", "f", "m", "f", "f"})
	assert.Equal(t, []string{"f", "m"}, vocab.Values())

	code, ok := vocab.Code("m")
	require.True(t, ok)
	assert.Equal(t, 1, code)

	_, ok = vocab.Code("x")
	assert.False(t, ok)
}

func TestFitVocabularyByteOrder(t *testing.T) {
	// uppercase sorts before lowercase
	vocab := FitVocabulary([]string{"others", "Others", "Asian"})
	assert.Equal(t, []string{"Asian", "Others", "others"}, vocab.Values())
}

func TestFitEncoders(t *testing.T) {
	rows := []Row{
		sampleRow("m", "White-European", "India", "Self", 1),
		sampleRow("f", "Asian", "Vietnam", "Others", 0),
	}
	enc, err := FitEncoders(rows)
	require.NoError(t, err)

	vocab, ok := enc.Vocabulary(FieldCountry)
	require.True(t, ok)
	assert.Equal(t, []string{"India", "Vietnam"}, vocab.Values())

	code, err := enc.Encode(FieldEthnicity, "White-European")
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	_, err = enc.Encode(FieldEthnicity, "Martian")
	assert.Error(t, err)

	_, err = FitEncoders(nil)
	assert.Error(t, err)
}

func TestNewEncodersValidation(t *testing.T) {
	base := func() map[string][]string {
		return map[string][]string{
			FieldGender:        {"f", "m"},
			FieldEthnicity:     {"Others"},
			FieldJaundice:      {"no", "yes"},
			FieldAutismHistory: {"no", "yes"},
			FieldCountry:       {"India"},
			FieldUsedAppBefore: {"no", "yes"},
			FieldRelation:      {"Others", "Self"},
		}
	}

	_, err := NewEncoders(base())
	require.NoError(t, err)

	missing := base()
	delete(missing, FieldRelation)
	_, err = NewEncoders(missing)
	assert.Error(t, err)

	unsorted := base()
	unsorted[FieldGender] = []string{"m", "f"}
	_, err = NewEncoders(unsorted)
	assert.Error(t, err)

	dup := base()
	dup[FieldGender] = []string{"f", "f"}
	_, err = NewEncoders(dup)
	assert.Error(t, err)

	extra := base()
	extra[FieldAge] = []string{"1"}
	_, err = NewEncoders(extra)
	assert.Error(t, err)
}

func TestEncodersSaveLoadRoundTrip(t *testing.T) {
	enc := testEncoders(t)
	path := filepath.Join(t.TempDir(), "encoders.json")
	require.NoError(t, enc.Save(path))

	loaded, err := LoadEncoders(path)
	require.NoError(t, err)
	for _, field := range CategoricalFields {
		want, _ := enc.Vocabulary(field)
		got, ok := loaded.Vocabulary(field)
		require.True(t, ok, field)
		assert.Equal(t, want.Values(), got.Values(), field)
	}

	d1, err := enc.Digest()
	require.NoError(t, err)
	d2, err := loaded.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestEncodersSaveReplacesInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encoders.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, testEncoders(t).Save(path))
	_, err := LoadEncoders(path)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "encoders.json", entries[0].Name())
}

func TestParseEncodersRejectsBadArtifacts(t *testing.T) {
	tests := map[string]string{
		"not json":       `{`,
		"missing fields": `{"columns": {}}`,
		"bad rule":       `{"feature_order_version": "v1", "code_rule": "insertion", "columns": {}}`,
		"empty column":   `{"feature_order_version": "v1", "code_rule": "lexicographic", "columns": {"gender": []}}`,
		"old version":    `{"feature_order_version": "v0", "code_rule": "lexicographic", "columns": {"gender": ["f"]}}`,
		"incomplete":     `{"feature_order_version": "v1", "code_rule": "lexicographic", "columns": {"gender": ["f", "m"]}}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEncoders([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestLoadEncodersMissingFile(t *testing.T) {
	_, err := LoadEncoders(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
