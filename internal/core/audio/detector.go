package audio

import (
	"github.com/ewilliams-labs/mend/internal/core/domain"
)

// DetectorConfig holds the heuristic thresholds and the partial credit each
// satisfied predicate adds to the confidence.
type DetectorConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	ZCRMin          float64 `yaml:"zcr_min"`
	ZCRMax          float64 `yaml:"zcr_max"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
	CentroidHz      float64 `yaml:"centroid_hz"`
	RolloffHz       float64 `yaml:"rolloff_hz"`

	ZCRWeight      float64 `yaml:"zcr_weight"`
	EnergyWeight   float64 `yaml:"energy_weight"`
	CentroidWeight float64 `yaml:"centroid_weight"`
	RolloffWeight  float64 `yaml:"rolloff_weight"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ConfidenceThreshold: 0.6,
		ZCRMin:              0.05,
		ZCRMax:              0.25,
		EnergyThreshold:     0.02,
		CentroidHz:          1000,
		RolloffHz:           2000,
		ZCRWeight:           0.3,
		EnergyWeight:        0.3,
		CentroidWeight:      0.2,
		RolloffWeight:       0.2,
	}
}

// Detector scores acoustic features for eating sounds.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the thresholds in use.
func (d *Detector) Config() DetectorConfig {
	return d.cfg
}

// Detect returns whether eating was detected and the confidence, which is the
// sum of the weights of the satisfied predicates clamped to [0, 1]. Missing
// feature values read as zero.
func (d *Detector) Detect(features domain.AcousticFeatures) (bool, float64) {
	if features.Empty() {
		return false, 0.0
	}

	confidence := 0.0

	// Moderate zero-crossing rate: rhythmic chewing.
	if zcr := features[domain.FeatureZCRMean]; d.cfg.ZCRMin < zcr && zcr < d.cfg.ZCRMax {
		confidence += d.cfg.ZCRWeight
	}
	if features[domain.FeatureRMSMean] > d.cfg.EnergyThreshold {
		confidence += d.cfg.EnergyWeight
	}
	// Utensil clinks push energy into higher frequencies.
	if features[domain.FeatureSpectralCentroid] > d.cfg.CentroidHz {
		confidence += d.cfg.CentroidWeight
	}
	if features[domain.FeatureSpectralRolloff] > d.cfg.RolloffHz {
		confidence += d.cfg.RolloffWeight
	}

	confidence = clamp01(confidence)
	return confidence >= d.cfg.ConfidenceThreshold, confidence
}

// Analyze wraps Detect into an EatingAnalysisResult.
func (d *Detector) Analyze(features domain.AcousticFeatures) domain.EatingAnalysisResult {
	detected, confidence := d.Detect(features)
	return domain.EatingAnalysisResult{
		EatingDetected: detected,
		Confidence:     confidence,
		Features:       features,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
