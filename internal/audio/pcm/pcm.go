// Package pcm holds the cgo-free pieces of the audio path: the frame stream
// contract and level metering.
package pcm

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate = 16000
	FloorDB    = -120.0
)

// Stream delivers mono float32 frames in [-1, 1] at SampleRate. Frames is
// closed when the stream ends; Err reports why.
type Stream interface {
	Frames() <-chan []float32
	Err() error
	Close() error
}

func FrameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// LevelDB converts an RMS amplitude to dBFS, floored at FloorDB.
func LevelDB(rms float64) float64 {
	if rms <= 0 {
		return FloorDB
	}
	return math.Max(20*math.Log10(rms), FloorDB)
}

// Int16LE encodes frames as linear16 little-endian bytes.
func Int16LE(f []float32) []byte {
	out := make([]byte, 2*len(f))
	for i, x := range f {
		v := math.Max(-1, math.Min(1, float64(x)))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(v*32767))))
	}
	return out
}
