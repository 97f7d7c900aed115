// Package audio turns raw PCM audio into acoustic features and scores them
// for eating sounds (chewing rhythm, utensil clinks).
package audio

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ewilliams-labs/mend/internal/core/domain"
)

const (
	defaultFrameLength    = 2048
	defaultHopLength      = 512
	defaultRolloffPercent = 0.85

	// pcmScale maps int16 samples onto [-1, 1).
	pcmScale = 32768.0
	// Samples at or below this magnitude count as zero (positive) for ZCR.
	zeroThreshold = 1e-10
)

var (
	errEmptyBuffer = errors.New("audio: empty buffer")
	errSampleRate  = errors.New("audio: sample rate must be positive")
	errNonFinite   = errors.New("audio: non-finite feature")
)

// ExtractorConfig controls how the signal is framed.
type ExtractorConfig struct {
	FrameLength    int
	HopLength      int
	RolloffPercent float64
}

// DefaultExtractorConfig uses the common 2048/512 framing and an 85% rolloff.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		FrameLength:    defaultFrameLength,
		HopLength:      defaultHopLength,
		RolloffPercent: defaultRolloffPercent,
	}
}

// FeatureExtractor computes AcousticFeatures from PCM audio.
// It holds no mutable state and is safe for concurrent use.
type FeatureExtractor struct {
	cfg    ExtractorConfig
	logger zerolog.Logger
}

func NewFeatureExtractor(cfg ExtractorConfig, logger zerolog.Logger) *FeatureExtractor {
	def := DefaultExtractorConfig()
	if cfg.FrameLength < 2 {
		cfg.FrameLength = def.FrameLength
	}
	if cfg.HopLength <= 0 {
		cfg.HopLength = def.HopLength
	}
	if cfg.RolloffPercent <= 0 || cfg.RolloffPercent >= 1 {
		cfg.RolloffPercent = def.RolloffPercent
	}
	return &FeatureExtractor{
		cfg:    cfg,
		logger: logger.With().Str("component", "feature_extractor").Logger(),
	}
}

// ExtractPCM decodes little-endian 16-bit PCM bytes and extracts features.
func (e *FeatureExtractor) ExtractPCM(raw []byte, sampleRate int) domain.AcousticFeatures {
	samples, err := DecodePCM16(raw)
	if err != nil {
		e.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("discarding malformed audio chunk")
		return domain.AcousticFeatures{}
	}
	return e.Extract(samples, sampleRate)
}

// Extract returns the acoustic features of the buffer, or an empty map when
// the buffer cannot be analyzed.
func (e *FeatureExtractor) Extract(samples []int16, sampleRate int) domain.AcousticFeatures {
	features, err := e.extract(samples, sampleRate)
	if err != nil {
		e.logger.Warn().Err(err).Int("samples", len(samples)).Int("sample_rate", sampleRate).Msg("feature extraction failed")
		return domain.AcousticFeatures{}
	}
	return features
}

func (e *FeatureExtractor) extract(samples []int16, sampleRate int) (domain.AcousticFeatures, error) {
	if len(samples) == 0 {
		return nil, errEmptyBuffer
	}
	if sampleRate <= 0 {
		return nil, errSampleRate
	}

	y := make([]float64, len(samples))
	for i, s := range samples {
		y[i] = float64(s) / pcmScale
	}

	zcr := e.zeroCrossingRate(y)
	rms := e.rms(y)
	centroid, rolloff := e.spectral(y, sampleRate)

	zcrMean, zcrStd := stat.PopMeanStdDev(zcr, nil)
	features := domain.AcousticFeatures{
		domain.FeatureZCRMean:          zcrMean,
		domain.FeatureZCRStd:           zcrStd,
		domain.FeatureRMSMean:          stat.Mean(rms, nil),
		domain.FeatureSpectralCentroid: stat.Mean(centroid, nil),
		domain.FeatureSpectralRolloff:  stat.Mean(rolloff, nil),
	}
	for name, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s", errNonFinite, name)
		}
	}
	return features, nil
}

// frames slices a centered, padded copy of y into overlapping windows.
func (e *FeatureExtractor) frames(y []float64, edge bool) [][]float64 {
	padded := pad(y, e.cfg.FrameLength/2, edge)
	n := 1 + (len(padded)-e.cfg.FrameLength)/e.cfg.HopLength
	out := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		start := i * e.cfg.HopLength
		out = append(out, padded[start:start+e.cfg.FrameLength])
	}
	return out
}

func (e *FeatureExtractor) zeroCrossingRate(y []float64) []float64 {
	frames := e.frames(y, true)
	out := make([]float64, len(frames))
	for i, frame := range frames {
		crossings := 0
		prev := negative(frame[0])
		for _, v := range frame[1:] {
			cur := negative(v)
			if cur != prev {
				crossings++
			}
			prev = cur
		}
		out[i] = float64(crossings) / float64(len(frame))
	}
	return out
}

func (e *FeatureExtractor) rms(y []float64) []float64 {
	frames := e.frames(y, false)
	out := make([]float64, len(frames))
	for i, frame := range frames {
		out[i] = math.Sqrt(floats.Dot(frame, frame) / float64(len(frame)))
	}
	return out
}

// spectral returns per-frame spectral centroid and rolloff in Hz.
func (e *FeatureExtractor) spectral(y []float64, sampleRate int) (centroid, rolloff []float64) {
	n := e.cfg.FrameLength
	fft := fourier.NewFFT(n)

	win := periodicHann(n)

	bins := n/2 + 1
	freqs := make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * float64(sampleRate) / float64(n)
	}

	frames := e.frames(y, false)
	centroid = make([]float64, len(frames))
	rolloff = make([]float64, len(frames))

	buf := make([]float64, n)
	coeffs := make([]complex128, bins)
	mags := make([]float64, bins)
	for i, frame := range frames {
		floats.MulTo(buf, frame, win)
		coeffs = fft.Coefficients(coeffs, buf)
		for k, c := range coeffs {
			mags[k] = cmplx.Abs(c)
		}

		total := floats.Sum(mags)
		if total > 0 {
			centroid[i] = floats.Dot(freqs, mags) / total
		}

		threshold := e.cfg.RolloffPercent * total
		cum := 0.0
		for k, m := range mags {
			cum += m
			if cum >= threshold {
				rolloff[i] = freqs[k]
				break
			}
		}
	}
	return centroid, rolloff
}

// periodicHann returns the n-point periodic Hann window: the first n points
// of the symmetric n+1 point window.
func periodicHann(n int) []float64 {
	win := make([]float64, n+1)
	for i := range win {
		win[i] = 1
	}
	return window.Hann(win)[:n]
}

func negative(v float64) bool {
	if math.Abs(v) <= zeroThreshold {
		return false
	}
	return v < 0
}

// pad surrounds y with n samples on each side: copies of the edge values when
// edge is set, zeros otherwise.
func pad(y []float64, n int, edge bool) []float64 {
	out := make([]float64, len(y)+2*n)
	copy(out[n:], y)
	if edge {
		first, last := y[0], y[len(y)-1]
		for i := 0; i < n; i++ {
			out[i] = first
			out[len(out)-1-i] = last
		}
	}
	return out
}
