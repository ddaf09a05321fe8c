// Package fingerprint implements the Fingerprinter (C3): a stable hash
// over a window's feature vector for exact local matching, plus an
// optional Chromaprint for fuzzy matching when the chromaprint tools
// are installed. Adapted from an FFT-based fingerprint
// package — the spectrogram machinery moved to internal/dsp, reused by
// both C2 and C3, while the hash scheme itself follows the spectral
// than Shazam-style anchor-hash pairs.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"

	"github.com/sodav/monitor-core/internal/analyzer"
	"github.com/sodav/monitor-core/internal/wavenc"
)

// roundPrecision controls rounding of feature values before hashing so
// capture jitter (slightly different window boundaries, resampling
// noise) doesn't shift the digest.
const roundPrecision = 1000.0

// Result is the output of Fingerprint: a primary hash for exact
// lookup, the raw bytes it was computed from (for debugging/storage),
// and an optional Chromaprint string.
type Result struct {
	Hash        string
	Raw         []byte
	Chromaprint string // empty if no chromaprint encoder is available
}

// Generate computes the primary hash from an already-analyzed
// feature vector (MFCC mean, chroma mean, spectral centroid mean),
// and attempts a Chromaprint via the external fpcalc tool when pcm is
// provided and fpcalc is on PATH.
func Generate(ctx context.Context, features *analyzer.Features, pcm []float32, sampleRate int) (*Result, error) {
	raw := canonicalBytes(features)
	sum := sha256.Sum256(raw)

	result := &Result{
		Hash: fmt.Sprintf("%x", sum),
		Raw:  raw,
	}

	if cp, err := generateChromaprint(ctx, pcm, sampleRate); err == nil {
		result.Chromaprint = cp
	}

	return result, nil
}

// canonicalBytes serializes the rounded MFCC mean, chroma mean, and
// spectral centroid mean into a fixed-layout byte buffer so the same
// audio always hashes identically regardless of capture jitter.
func canonicalBytes(f *analyzer.Features) []byte {
	var buf bytes.Buffer
	for _, v := range f.MFCCMean {
		binary.Write(&buf, binary.LittleEndian, round(v))
	}
	for _, v := range f.ChromaMean {
		binary.Write(&buf, binary.LittleEndian, round(v))
	}
	binary.Write(&buf, binary.LittleEndian, round(f.SpectralCentroid))
	return buf.Bytes()
}

func round(v float64) int64 {
	return int64(math.Round(v * roundPrecision))
}

// generateChromaprint shells out to fpcalc, the same tool the pack's
// AcoustID clients use to produce a Chromaprint, when it's installed.
func generateChromaprint(ctx context.Context, pcm []float32, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("no pcm available")
	}
	if _, err := exec.LookPath("fpcalc"); err != nil {
		return "", fmt.Errorf("fpcalc not installed: %w", err)
	}

	tmp, err := wavenc.EncodeTemp("fingerprint-*.wav", pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("write temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())
	tmp.Close()

	cmd := exec.CommandContext(ctx, "fpcalc", "-plain", tmp.Name())
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("fpcalc failed: %w", err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// Compare computes similarity in [0, 1]: Hamming similarity
// over the first 32 Chromaprint symbols when both fingerprints carry
// one, falling back to exact-hash equality (1.0 or 0.0) otherwise.
func Compare(a, b *Result) float64 {
	if a.Chromaprint != "" && b.Chromaprint != "" {
		return chromaprintSimilarity(a.Chromaprint, b.Chromaprint)
	}
	if a.Hash == b.Hash {
		return 1.0
	}
	return 0.0
}

const chromaprintCompareSymbols = 32

// ChromaprintIndexPrefix truncates a Chromaprint string to the same
// leading-symbol window Compare scores over, for use as a DB lookup key
// by callers that index fingerprints on a fixed-width prefix rather than
// the full string.
func ChromaprintIndexPrefix(s string) string {
	runes := []rune(s)
	if len(runes) <= chromaprintCompareSymbols {
		return s
	}
	return string(runes[:chromaprintCompareSymbols])
}

func chromaprintSimilarity(a, b string) float64 {
	runesA := []rune(a)
	runesB := []rune(b)
	n := chromaprintCompareSymbols
	if len(runesA) < n {
		n = len(runesA)
	}
	if len(runesB) < n {
		n = len(runesB)
	}
	if n == 0 {
		return 0.0
	}

	matches := 0
	for i := 0; i < n; i++ {
		if runesA[i] == runesB[i] {
			matches++
		}
	}
	return float64(matches) / float64(n)
}
