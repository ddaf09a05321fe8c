// Package analyzer implements the Audio Analyzer (C2): derives a
// feature vector from a PCM window and scores how music-like it is,
// gating the rest of the recognition pipeline. Grounded on the
// FFT/spectrogram machinery (internal/dsp, adapted from its
// fingerprint package) for the spectral features, and on the
// bass-emphasis-filter + autocorrelation tempo estimator other pack
// repos (gvasels' BPM analyzer) used for beat detection.
package analyzer

import (
	"math"

	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/dsp"
)

const (
	fftSize     = 2048
	hopSize     = 512
	minSamples  = 1024
	numMFCC     = 13
	numChroma   = 12
	numMelBands = 26
)

// Features is the full feature vector derived from one PCM window.
type Features struct {
	MFCCMean          []float64
	ChromaMean        []float64
	SpectralCentroid  float64
	SpectralBandwidth float64
	SpectralRolloff   float64
	ZeroCrossingRate  float64
	RMSEnergy         float64
	Tempo             float64

	LowEnergy  float64 // fraction of total energy below ~250Hz
	MidEnergy  float64 // fraction between ~250Hz-4kHz
	HighEnergy float64 // fraction above ~4kHz

	RhythmStrength  float64 // 0-100, autocorrelation peak strength backing Tempo
	MusicLikelihood float64 // 0-100
}

// Analyze derives Features from a mono PCM window sampled at
// sampleRate. Fails with InvalidAudio on empty/DC-only/NaN buffers and
// TooShort if fewer than 1024 samples remain.
func Analyze(pcm []float32, sampleRate int) (*Features, error) {
	if err := validate(pcm); err != nil {
		return nil, err
	}

	frames := dsp.STFT(pcm, fftSize, hopSize)
	if len(frames) == 0 {
		return nil, detecterrors.TooShort("analyzer", len(pcm), minSamples)
	}

	numBins := fftSize / 2
	binHz := float64(sampleRate) / float64(fftSize)

	centroids := make([]float64, len(frames))
	low, mid, high := 0.0, 0.0, 0.0
	var fluxSum float64
	var prevMag []float64

	melEnergies := make([][]float64, len(frames))
	chromaSum := make([]float64, numChroma)

	for fi, frame := range frames {
		mag := frame.Magnitudes
		totalEnergy := 0.0
		weightedFreq := 0.0
		for bin, m := range mag {
			freq := float64(bin) * binHz
			totalEnergy += m
			weightedFreq += m * freq
			switch {
			case freq < 250:
				low += m
			case freq < 4000:
				mid += m
			default:
				high += m
			}

			if freq > 0 {
				pitchClass := int(math.Round(12*math.Log2(freq/440.0))) % 12
				if pitchClass < 0 {
					pitchClass += 12
				}
				chromaSum[pitchClass] += m
			}
		}
		if totalEnergy > 0 {
			centroids[fi] = weightedFreq / totalEnergy
		}

		if prevMag != nil {
			diff := 0.0
			for bin := range mag {
				d := mag[bin] - prevMag[bin]
				if d > 0 {
					diff += d
				}
			}
			fluxSum += diff
		}
		prevMag = mag

		melEnergies[fi] = melFilterbank(mag, sampleRate, fftSize, numMelBands)
	}
	_ = numBins

	totalBand := low + mid + high
	if totalBand == 0 {
		totalBand = 1
	}

	mfccMean := meanMFCC(melEnergies)
	chromaMean := make([]float64, numChroma)
	chromaTotal := 0.0
	for _, v := range chromaSum {
		chromaTotal += v
	}
	if chromaTotal == 0 {
		chromaTotal = 1
	}
	for i, v := range chromaSum {
		chromaMean[i] = v / chromaTotal
	}

	centroidMean, centroidVar := meanVar(centroids)
	bandwidth := math.Sqrt(centroidVar)
	rolloff := spectralRolloff(frames, binHz)
	zcr := zeroCrossingRate(pcm)
	rms := rmsEnergy(pcm)
	tempo, rhythmStrength := estimateTempo(pcm, sampleRate)

	flux := 0.0
	if len(frames) > 1 {
		flux = fluxSum / float64(len(frames)-1)
	}

	f := &Features{
		MFCCMean:          mfccMean,
		ChromaMean:        chromaMean,
		SpectralCentroid:  centroidMean,
		SpectralBandwidth: bandwidth,
		SpectralRolloff:   rolloff,
		ZeroCrossingRate:  zcr,
		RMSEnergy:         rms,
		Tempo:             tempo,
		LowEnergy:         low / totalBand,
		MidEnergy:         mid / totalBand,
		HighEnergy:        high / totalBand,
		RhythmStrength:    rhythmStrength,
	}
	f.MusicLikelihood = musicLikelihood(f, rhythmStrength, flux, centroidMean, sampleRate)

	return f, nil
}

// IsMusic reports whether Features describes a music-likely window,
// score > 60 and bass > 20 and mid > 15 and rhythm > 30.
func IsMusic(f *Features) bool {
	bassPct := f.LowEnergy * 100
	midPct := f.MidEnergy * 100
	return f.MusicLikelihood > 60 && bassPct > 20 && midPct > 15 && f.RhythmStrength > 30
}

func validate(pcm []float32) error {
	if len(pcm) == 0 {
		return detecterrors.InvalidAudio("analyzer", "empty buffer")
	}
	if len(pcm) < minSamples {
		return detecterrors.TooShort("analyzer", len(pcm), minSamples)
	}
	min, max := pcm[0], pcm[0]
	for _, s := range pcm {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return detecterrors.InvalidAudio("analyzer", "NaN or infinite sample")
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max-min < 1e-6 {
		return detecterrors.InvalidAudio("analyzer", "DC-only buffer")
	}
	return nil
}

// musicLikelihood implements the weighted-sum formula, blended with
// a frequency-balance penalty and a rhythm/balance boost, clamped to
// [0, 100].
func musicLikelihood(f *Features, rhythmStrength, flux, centroidMean float64, sampleRate int) float64 {
	bass := f.LowEnergy * 100
	mid := f.MidEnergy * 100
	highE := f.HighEnergy * 100

	nyquist := float64(sampleRate) / 2
	centroidVarScore := clamp(centroidMean/nyquist*100, 0, 100)
	fluxScore := clamp(flux*1000, 0, 100)

	weighted := 0.25*bass + 0.15*mid + 0.10*highE + 0.30*rhythmStrength + 0.10*fluxScore + 0.10*centroidVarScore

	ideal := 100.0 / 3
	imbalance := math.Abs(bass-ideal) + math.Abs(mid-ideal) + math.Abs(highE-ideal)
	balance := clamp(100-imbalance/2, 0, 100)
	balancePenalty := balance

	score := 0.7*weighted + 0.3*balancePenalty

	if rhythmStrength > 70 && balance > 60 {
		score *= 1.2
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanVar(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	sq := 0.0
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	variance = sq / float64(len(xs))
	return mean, variance
}

func zeroCrossingRate(pcm []float32) float64 {
	crossings := 0
	for i := 1; i < len(pcm); i++ {
		if (pcm[i-1] >= 0) != (pcm[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(pcm))
}

func rmsEnergy(pcm []float32) float64 {
	sum := 0.0
	for _, s := range pcm {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

func spectralRolloff(frames []dsp.Frame, binHz float64) float64 {
	if len(frames) == 0 {
		return 0
	}
	var rolloffs []float64
	for _, frame := range frames {
		total := 0.0
		for _, m := range frame.Magnitudes {
			total += m
		}
		if total == 0 {
			continue
		}
		threshold := total * 0.85
		cum := 0.0
		for bin, m := range frame.Magnitudes {
			cum += m
			if cum >= threshold {
				rolloffs = append(rolloffs, float64(bin)*binHz)
				break
			}
		}
	}
	if len(rolloffs) == 0 {
		return 0
	}
	mean, _ := meanVar(rolloffs)
	return mean
}

// melFilterbank projects a magnitude spectrum onto a small triangular
// mel filterbank, the standard front end to an MFCC.
func melFilterbank(mag []float64, sampleRate, fftSize, numBands int) []float64 {
	nyquist := float64(sampleRate) / 2
	melMax := hzToMel(nyquist)
	melPoints := make([]float64, numBands+2)
	for i := range melPoints {
		melPoints[i] = melMax * float64(i) / float64(numBands+1)
	}
	binPoints := make([]int, len(melPoints))
	for i, m := range melPoints {
		hz := melToHz(m)
		binPoints[i] = int(hz / nyquist * float64(len(mag)))
	}

	energies := make([]float64, numBands)
	for b := 0; b < numBands; b++ {
		start, center, end := binPoints[b], binPoints[b+1], binPoints[b+2]
		sum := 0.0
		for bin := start; bin < end && bin < len(mag); bin++ {
			if bin < 0 {
				continue
			}
			var weight float64
			if bin <= center && center > start {
				weight = float64(bin-start) / float64(center-start)
			} else if center < end {
				weight = float64(end-bin) / float64(end-center)
			}
			sum += mag[bin] * weight
		}
		energies[b] = math.Log(sum + 1e-10)
	}
	return energies
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// meanMFCC averages the mel-log-energies across frames then applies a
// DCT-II to produce numMFCC cepstral coefficients.
func meanMFCC(melEnergies [][]float64) []float64 {
	if len(melEnergies) == 0 {
		return make([]float64, numMFCC)
	}
	numBands := len(melEnergies[0])
	meanMel := make([]float64, numBands)
	for _, frame := range melEnergies {
		for i, v := range frame {
			meanMel[i] += v
		}
	}
	for i := range meanMel {
		meanMel[i] /= float64(len(melEnergies))
	}

	coeffs := make([]float64, numMFCC)
	for k := 0; k < numMFCC; k++ {
		sum := 0.0
		for n := 0; n < numBands; n++ {
			sum += meanMel[n] * math.Cos(math.Pi/float64(numBands)*(float64(n)+0.5)*float64(k))
		}
		coeffs[k] = sum
	}
	return coeffs
}

// estimateTempo applies a bass-emphasis filter then autocorrelates the
// onset envelope for a BPM estimate, the same technique as the pack's
// other BPM analyzers. Returns (bpm, rhythmStrength 0-100).
func estimateTempo(pcm []float32, sampleRate int) (float64, float64) {
	samples := make([]float64, len(pcm))
	for i, s := range pcm {
		samples[i] = float64(s)
	}
	filtered := bassEmphasisFilter(samples, sampleRate)

	windowSize := sampleRate / 20
	hop := windowSize / 2
	if windowSize < 1 || hop < 1 {
		return 0, 0
	}
	numWindows := (len(filtered) - windowSize) / hop
	if numWindows < 4 {
		return 0, 0
	}

	energy := make([]float64, numWindows)
	maxEnergy := 0.0
	for i := 0; i < numWindows; i++ {
		start := i * hop
		end := start + windowSize
		sum := 0.0
		for j := start; j < end; j++ {
			sum += filtered[j] * filtered[j]
		}
		e := math.Sqrt(sum / float64(windowSize))
		energy[i] = e
		if e > maxEnergy {
			maxEnergy = e
		}
	}
	if maxEnergy > 0 {
		for i := range energy {
			energy[i] /= maxEnergy
		}
	}

	onset := make([]float64, len(energy))
	for i := 1; i < len(energy); i++ {
		d := energy[i] - energy[i-1]
		if d > 0 {
			onset[i] = d
		}
	}

	framesPerSecond := float64(sampleRate) / float64(hop)
	minBPM, maxBPM := 60.0, 200.0
	minLag := int(60.0 / maxBPM * framesPerSecond)
	maxLag := int(60.0 / minBPM * framesPerSecond)
	if maxLag >= len(onset)/2 {
		maxLag = len(onset)/2 - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if maxLag <= minLag {
		return 0, 0
	}

	zeroLag := 0.0
	for _, v := range onset {
		zeroLag += v * v
	}
	if zeroLag == 0 {
		return 0, 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		sum := 0.0
		for i := 0; i+lag < len(onset); i++ {
			sum += onset[i] * onset[i+lag]
		}
		corr := sum / zeroLag
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, 0
	}

	bpm := 60.0 * framesPerSecond / float64(bestLag)
	return bpm, clamp(bestCorr*100, 0, 100)
}

func bassEmphasisFilter(samples []float64, sampleRate int) []float64 {
	fc := 200.0 / float64(sampleRate)
	q := 0.707

	w0 := 2.0 * math.Pi * fc
	alpha := math.Sin(w0) / (2.0 * q)

	b0 := (1 - math.Cos(w0)) / 2
	b1 := 1 - math.Cos(w0)
	b2 := (1 - math.Cos(w0)) / 2
	a0 := 1 + alpha
	a1 := -2 * math.Cos(w0)
	a2 := 1 - alpha

	b0 /= a0
	b1 /= a0
	b2 /= a0
	a1 /= a0
	a2 /= a0

	filtered := make([]float64, len(samples))
	x1, x2, y1, y2 := 0.0, 0.0, 0.0, 0.0
	for i, x := range samples {
		y := b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
		filtered[i] = y
		x2, x1 = x1, x
		y2, y1 = y1, y
	}
	return filtered
}
