package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactFormatVersion is bumped when the envelope layout changes.
const ArtifactFormatVersion = 1

var registry = map[string]func() Classifier{
	KindDecisionTree:     func() Classifier { return &DecisionTree{} },
	KindRandomForest:     func() Classifier { return &RandomForest{} },
	KindGradientBoosting: func() Classifier { return &GradientBoosting{} },
}

// Artifact is the persisted envelope around a trained model.
type Artifact struct {
	FormatVersion       int              `json:"format_version"`
	Kind                string           `json:"kind"`
	Name                string           `json:"name"`
	FeatureOrderVersion string           `json:"feature_order_version"`
	Features            []string         `json:"features"`
	EncodersDigest      string           `json:"encoders_digest"`
	Seed                int64            `json:"seed"`
	CVScores            []CandidateScore `json:"cv_scores,omitempty"`
	Model               json.RawMessage  `json:"model"`
}

// SaveModel writes model inside meta's envelope. Kind, FormatVersion and
// Model are filled in from model.
func SaveModel(path string, meta Artifact, model Classifier) error {
	body, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	meta.FormatVersion = ArtifactFormatVersion
	meta.Kind = model.Kind()
	meta.Model = body

	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path via a temp file in the same directory so a
// reader never sees a partially written model.
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

// LoadModel reads an artifact and decodes its model by kind.
func LoadModel(path string) (*Artifact, Classifier, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read model: %w", err)
	}
	return DecodeModel(payload)
}

func DecodeModel(payload []byte) (*Artifact, Classifier, error) {
	var artifact Artifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, nil, fmt.Errorf("decode artifact: %w", err)
	}
	if artifact.FormatVersion != ArtifactFormatVersion {
		return nil, nil, fmt.Errorf("unsupported artifact format %d", artifact.FormatVersion)
	}
	newModel, ok := registry[artifact.Kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, artifact.Kind)
	}
	model := newModel()
	if err := json.Unmarshal(artifact.Model, model); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", artifact.Kind, err)
	}
	if _, _, err := model.Predict(make([]float64, len(artifact.Features))); err != nil {
		return nil, nil, fmt.Errorf("%s artifact is unusable: %w", artifact.Kind, err)
	}
	return &artifact, model, nil
}
