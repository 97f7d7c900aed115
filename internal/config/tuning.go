package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ewilliams-labs/mend/internal/core/audio"
	"github.com/ewilliams-labs/mend/internal/core/domain"
)

// Tuning holds the heuristics that are adjusted per deployment without a
// rebuild. Omitted keys keep their defaults.
type Tuning struct {
	Detector       audio.DetectorConfig           `yaml:"detector"`
	TriggerPhrases []string                       `yaml:"trigger_phrases"`
	Keywords       []string                       `yaml:"keywords"`
	Messages       map[domain.FeedbackType]string `yaml:"messages"`
}

func DefaultTuning() Tuning {
	return Tuning{Detector: audio.DefaultDetectorConfig()}
}

// LoadTuning decodes a YAML tuning document over the defaults.
func LoadTuning(r io.Reader) (Tuning, error) {
	t := DefaultTuning()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("failed to parse tuning file: %w", err)
	}

	d := t.Detector
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return Tuning{}, fmt.Errorf("detector.confidence_threshold must be in [0, 1], got %v", d.ConfidenceThreshold)
	}
	if d.ZCRMin >= d.ZCRMax {
		return Tuning{}, fmt.Errorf("detector.zcr_min (%v) must be below zcr_max (%v)", d.ZCRMin, d.ZCRMax)
	}
	for ft := range t.Messages {
		if !ft.Known() {
			return Tuning{}, fmt.Errorf("messages: unknown feedback type %q", ft)
		}
	}
	return t, nil
}
