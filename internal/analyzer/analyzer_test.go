package analyzer

import (
	"math"
	"testing"

	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(freq float64, sampleRate, numSamples int, amplitude float32) []float32 {
	samples := make([]float32, numSamples)
	for i := range samples {
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

func TestAnalyzeEmptyBufferIsInvalidAudio(t *testing.T) {
	_, err := Analyze(nil, 44100)
	require.Error(t, err)
	pe, ok := detecterrors.As(err)
	require.True(t, ok)
	assert.Equal(t, detecterrors.KindInvalidAudio, pe.Kind)
}

func TestAnalyzeDCOnlyBufferIsInvalidAudio(t *testing.T) {
	pcm := make([]float32, 4096)
	for i := range pcm {
		pcm[i] = 0.5
	}
	_, err := Analyze(pcm, 44100)
	require.Error(t, err)
	pe, ok := detecterrors.As(err)
	require.True(t, ok)
	assert.Equal(t, detecterrors.KindInvalidAudio, pe.Kind)
}

func TestAnalyzeTooShortBuffer(t *testing.T) {
	pcm := sineWave(440, 44100, 100, 0.5)
	_, err := Analyze(pcm, 44100)
	require.Error(t, err)
	pe, ok := detecterrors.As(err)
	require.True(t, ok)
	assert.Equal(t, detecterrors.KindTooShort, pe.Kind)
}

func TestAnalyzeProducesFeatureVector(t *testing.T) {
	pcm := sineWave(220, 44100, 44100, 0.8)
	features, err := Analyze(pcm, 44100)
	require.NoError(t, err)
	require.NotNil(t, features)

	assert.Len(t, features.MFCCMean, numMFCC)
	assert.Len(t, features.ChromaMean, numChroma)
	assert.GreaterOrEqual(t, features.MusicLikelihood, 0.0)
	assert.LessOrEqual(t, features.MusicLikelihood, 100.0)
	assert.Greater(t, features.RMSEnergy, 0.0)
}

func TestIsMusicRequiresAllThresholds(t *testing.T) {
	f := &Features{MusicLikelihood: 70, LowEnergy: 0.3, MidEnergy: 0.2, RhythmStrength: 40}
	assert.True(t, IsMusic(f))

	low := &Features{MusicLikelihood: 70, LowEnergy: 0.1, MidEnergy: 0.2, RhythmStrength: 40}
	assert.False(t, IsMusic(low))

	weakRhythm := &Features{MusicLikelihood: 70, LowEnergy: 0.3, MidEnergy: 0.2, RhythmStrength: 10}
	assert.False(t, IsMusic(weakRhythm))
}
