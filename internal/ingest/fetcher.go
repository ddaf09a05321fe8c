// Package ingest implements the Stream Fetcher (C1): open a station's
// stream URL, decode it to mono float32 PCM via an ffmpeg subprocess,
// and yield fixed-size frames with a capture timestamp. Adapted from
// an ffmpeg-exec idiom (CommandContext,
// stderr capture, context-bound subprocess lifetime), redirected from
// encoding a local file to decoding a remote stream.
package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/telemetry"
	"go.uber.org/zap"
)

// FrameSamples is the fixed chunk size the Fetcher yields, per the
// "4096-sample chunks at 44.1 kHz" example.
const FrameSamples = 4096

const bytesPerSample = 4 // float32

// Frame is one fixed-size chunk of mono PCM plus the wall-clock time
// it was captured at.
type Frame struct {
	PCM        []float32
	CapturedAt time.Time
}

// Stream is a lazy sequence of Frames for one open station connection.
// The Fetcher performs no retries; a StreamDropped error on Errs()
// ends the stream and leaves reopening to the caller (the Supervisor).
type Stream struct {
	frames chan Frame
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	cmd    *exec.Cmd
	done   chan struct{}
}

func (s *Stream) Frames() <-chan Frame { return s.frames }
func (s *Stream) Errs() <-chan error   { return s.errs }

// Close terminates the ffmpeg subprocess and waits for the read loop
// to exit.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// Fetcher opens station audio streams at a fixed sample rate.
type Fetcher struct {
	sampleRate int
	httpClient *http.Client
	log        *zap.Logger
}

func NewFetcher(sampleRate int, log *zap.Logger) *Fetcher {
	return &Fetcher{
		sampleRate: sampleRate,
		httpClient: telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{
			ServiceName: "ingest",
			Timeout:     10 * time.Second,
		}),
		log: log,
	}
}

// Open connects to station.StreamURL and begins decoding it. The
// returned Stream is live until ctx is cancelled, Close is called, or
// a StreamDropped error arrives on Errs().
func (f *Fetcher) Open(ctx context.Context, station *models.Station) (stream *Stream, err error) {
	spanCtx, span := telemetry.TracePipelineStage(ctx, "fetch", station.ID.String())
	defer func() { telemetry.RecordStageResult(span, err) }()

	if err = f.preflight(spanCtx, station.StreamURL); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(streamCtx, "ffmpeg",
		"-loglevel", "error",
		"-i", station.StreamURL,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, perr := cmd.StdoutPipe()
	if perr != nil {
		cancel()
		err = detecterrors.StreamUnavailable("ingest", "could not attach ffmpeg stdout", perr)
		return nil, err
	}

	if serr := cmd.Start(); serr != nil {
		cancel()
		err = detecterrors.StreamUnavailable("ingest", "could not start ffmpeg", serr)
		return nil, err
	}

	s := &Stream{
		frames: make(chan Frame, 4),
		errs:   make(chan error, 1),
		ctx:    streamCtx,
		cancel: cancel,
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	f.log.Info("stream opened", zap.String("station", station.Name), zap.String("url", station.StreamURL))
	go f.readLoop(s, stdout, &stderr)

	return s, nil
}

// preflight rejects unreachable endpoints and non-audio content types
// before ever spawning ffmpeg: "Fails with StreamUnavailable
// if the endpoint is unreachable, returns non-2xx, or the Content-Type
// is not an audio MIME."
func (f *Fetcher) preflight(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return detecterrors.StreamUnavailable("ingest", "invalid stream url", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return detecterrors.StreamUnavailable("ingest", "stream endpoint unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return detecterrors.StreamUnavailable("ingest", fmt.Sprintf("stream endpoint returned status %d", resp.StatusCode), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isAudioMIME(contentType) {
		return detecterrors.StreamUnavailable("ingest", fmt.Sprintf("unexpected content-type %q", contentType), nil)
	}

	return nil
}

func isAudioMIME(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return true
	case mediaType == "application/ogg":
		return true
	case mediaType == "application/octet-stream":
		// Many icecast relays mislabel their MP3 stream this way; let
		// ffmpeg attempt to decode it rather than reject it up front.
		return true
	default:
		return false
	}
}

// readLoop pulls fixed-size frames from ffmpeg's stdout until the
// subprocess exits or streamCtx is cancelled, converting each chunk
// from little-endian float32 bytes.
func (f *Fetcher) readLoop(s *Stream, stdout io.Reader, stderr *bytes.Buffer) {
	defer close(s.done)
	defer close(s.frames)

	chunk := make([]byte, FrameSamples*bytesPerSample)

	for {
		if _, err := io.ReadFull(stdout, chunk); err != nil {
			if s.ctx.Err() != nil {
				// Close() was called; this is an intentional shutdown,
				// not a dropped stream.
				s.cmd.Wait()
				return
			}

			waitErr := s.cmd.Wait()
			if (err == io.EOF || err == io.ErrUnexpectedEOF) && waitErr == nil {
				// Clean end of stream (e.g. a finite test fixture).
				return
			}
			s.errs <- detecterrors.StreamDropped("ingest", fmt.Sprintf("ffmpeg stderr: %s", strings.TrimSpace(stderr.String())), err)
			return
		}

		pcm := make([]float32, FrameSamples)
		for i := 0; i < FrameSamples; i++ {
			bits := binary.LittleEndian.Uint32(chunk[i*4 : i*4+4])
			pcm[i] = math.Float32frombits(bits)
		}

		select {
		case s.frames <- Frame{PCM: pcm, CapturedAt: time.Now().UTC()}:
		case <-s.ctx.Done():
			s.cmd.Wait()
			return
		}
	}
}
