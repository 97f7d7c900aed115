package domain

// Feature names produced by the acoustic feature extractor.
const (
	FeatureZCRMean          = "zcr_mean"
	FeatureZCRStd           = "zcr_std"
	FeatureRMSMean          = "rms_mean"
	FeatureSpectralCentroid = "spectral_centroid"
	FeatureSpectralRolloff  = "spectral_rolloff"
)

// DefaultSampleRate is the rate Omi devices stream audio at.
const DefaultSampleRate = 16000

// AudioBuffer is one chunk of mono 16-bit PCM audio.
type AudioBuffer struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the chunk length in seconds.
func (b AudioBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// AcousticFeatures maps a feature name to its scalar value.
// An empty map means extraction failed and carries no signal.
type AcousticFeatures map[string]float64

// Empty reports whether the features are the "no signal" sentinel.
func (f AcousticFeatures) Empty() bool {
	return len(f) == 0
}

// EatingAnalysisResult is the outcome of analyzing one audio chunk.
type EatingAnalysisResult struct {
	EatingDetected bool             `json:"eating_detected"`
	Confidence     float64          `json:"confidence"`
	Features       AcousticFeatures `json:"audio_features,omitempty"`
}
