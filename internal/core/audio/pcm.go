package audio

import (
	"encoding/binary"
	"errors"
)

// ErrOddPCMLength is returned for byte payloads that are not whole 16-bit samples.
var ErrOddPCMLength = errors.New("audio: pcm payload has odd length")

// DecodePCM16 converts little-endian signed 16-bit PCM bytes into samples.
func DecodePCM16(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}

// EncodePCM16 is the inverse of DecodePCM16.
func EncodePCM16(samples []int16) []byte {
	raw := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	return raw
}
