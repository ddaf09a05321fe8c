// Package wavenc encodes mono float32 PCM as 16-bit PCM WAV via
// go-audio/wav, the one shared format both the Fingerprinter (for the
// fpcalc handoff) and the AudD provider (for its upload) need, so the
// RIFF/fmt/data chunk layout isn't hand-rolled once per caller.
package wavenc

import (
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth    = 16
	numChannels = 1
)

// EncodeTemp writes pcm as a WAV file to a new temp file matching
// pattern and returns it rewound to the start, ready to read back.
// Callers own the returned file and must Close and Remove it.
func EncodeTemp(pattern string, pcm []float32, sampleRate int) (*os.File, error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, err
	}
	if err := encode(tmp, pcm, sampleRate); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return tmp, nil
}

// EncodeTo writes pcm as WAV to w. go-audio/wav.Encoder needs a seekable
// destination to patch its chunk sizes after writing samples, so a
// plain io.Writer (a multipart upload field, in AudD's case) is fed
// through a temp file instead of encoding in place.
func EncodeTo(w io.Writer, pcm []float32, sampleRate int) error {
	tmp, err := EncodeTemp("wavenc-*.wav", pcm, sampleRate)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	_, err = io.Copy(w, tmp)
	return err
}

func encode(w *os.File, pcm []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, bitDepth, numChannels, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		Data:           make([]int, len(pcm)),
		SourceBitDepth: bitDepth,
	}
	for i, f := range pcm {
		if f > 1 {
			f = 1
		}
		if f < -1 {
			f = -1
		}
		buf.Data[i] = int(int16(f * 32767))
	}

	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
