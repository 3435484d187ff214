package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a file is not a readable RIFF/WAVE file.
var ErrInvalidWAV = errors.New("not a valid wav file")

const pcmFormat = 1

// WAVInfo describes a decoded WAV header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
	Size       int64
}

// InspectWAV validates the WAV file at path and returns its header details.
// Truncated or empty files are rejected.
func InspectWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if stat.Size() == 0 {
		return WAVInfo{}, fmt.Errorf("%w: %s is empty", ErrInvalidWAV, path)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return WAVInfo{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	duration, err := dec.Duration()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}

	return WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   duration,
		Size:       stat.Size(),
	}, nil
}

// WriteSilence writes a mono 16-bit PCM WAV of the given length to path.
func WriteSilence(path string, sampleRate int, length time.Duration) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	samples := int(length.Seconds() * float64(sampleRate))
	if samples < 1 {
		samples = 1
	}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return out.Close()
}
