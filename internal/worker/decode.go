package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/ewilliams-labs/mend/internal/core/audio"
	"github.com/ewilliams-labs/mend/internal/core/domain"
)

// Format identifies the encoding of an audio payload.
type Format string

const (
	FormatPCM  Format = "pcm"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
)

// ErrUnsupportedFormat is returned for payload formats other than pcm, mp3 and flac.
var ErrUnsupportedFormat = errors.New("worker: unsupported audio format")

// ParseFormat maps a format name or MIME type onto a Format. Empty input is PCM.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pcm", "application/octet-stream", "audio/l16", "audio/pcm":
		return FormatPCM, nil
	case "mp3", "audio/mpeg", "audio/mp3":
		return FormatMP3, nil
	case "flac", "audio/flac", "audio/x-flac":
		return FormatFLAC, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Decode turns a payload into mono 16-bit samples. For mp3 and flac the
// stream's own sample rate wins over sampleRate.
func Decode(payload []byte, format Format, sampleRate int) (domain.AudioBuffer, error) {
	switch format {
	case FormatPCM, "":
		samples, err := audio.DecodePCM16(payload)
		if err != nil {
			return domain.AudioBuffer{}, fmt.Errorf("worker: decode pcm: %w", err)
		}
		if sampleRate <= 0 {
			sampleRate = domain.DefaultSampleRate
		}
		return domain.AudioBuffer{Samples: samples, SampleRate: sampleRate}, nil
	case FormatMP3:
		return DecodeMP3(bytes.NewReader(payload))
	case FormatFLAC:
		return DecodeFLAC(bytes.NewReader(payload))
	}
	return domain.AudioBuffer{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// DecodeMP3 decodes an mp3 stream and downmixes it to mono.
func DecodeMP3(r io.Reader) (domain.AudioBuffer, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return domain.AudioBuffer{}, fmt.Errorf("worker: mp3 decode failed: %w", err)
	}

	// go-mp3 always yields interleaved 16-bit little-endian stereo.
	var stereo bytes.Buffer
	if _, err := io.Copy(&stereo, decoder); err != nil {
		return domain.AudioBuffer{}, fmt.Errorf("worker: mp3 read failed: %w", err)
	}
	samples := downmix(stereo.Bytes())
	if len(samples) == 0 {
		return domain.AudioBuffer{}, fmt.Errorf("worker: mp3 contains no samples")
	}
	return domain.AudioBuffer{Samples: samples, SampleRate: decoder.SampleRate()}, nil
}

// DecodeFLAC decodes a flac stream, averaging channels and rescaling to 16 bits.
func DecodeFLAC(r io.Reader) (domain.AudioBuffer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return domain.AudioBuffer{}, fmt.Errorf("worker: flac decode failed: %w", err)
	}
	defer stream.Close()

	shift := int(stream.Info.BitsPerSample) - 16
	var samples []int16
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.AudioBuffer{}, fmt.Errorf("worker: flac frame: %w", err)
		}
		if len(f.Subframes) == 0 {
			continue
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			var sum int64
			for _, sub := range f.Subframes {
				sum += int64(sub.Samples[i])
			}
			v := sum / int64(len(f.Subframes))
			if shift > 0 {
				v >>= shift
			} else if shift < 0 {
				v <<= -shift
			}
			samples = append(samples, int16(v))
		}
	}
	if len(samples) == 0 {
		return domain.AudioBuffer{}, fmt.Errorf("worker: flac contains no samples")
	}
	return domain.AudioBuffer{Samples: samples, SampleRate: int(stream.Info.SampleRate)}, nil
}

func downmix(stereo []byte) []int16 {
	out := make([]int16, 0, len(stereo)/4)
	for i := 0; i+3 < len(stereo); i += 4 {
		l := int16(binary.LittleEndian.Uint16(stereo[i:]))
		r := int16(binary.LittleEndian.Uint16(stereo[i+2:]))
		out = append(out, int16((int32(l)+int32(r))/2))
	}
	return out
}
