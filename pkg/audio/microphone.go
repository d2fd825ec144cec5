package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// ErrNoCaptureSource is returned by [DetectFrameSource] when no supported
// recording tool is installed.
var ErrNoCaptureSource = errors.New("audio: no capture source found")

// frameDuration is the VAD analysis frame length.
const frameDuration = 30 * time.Millisecond

// FrameSource opens a raw PCM16 mono input stream.
type FrameSource interface {
	// Start begins capture at the given sample rate. The returned reader
	// yields raw s16le bytes until closed.
	Start(ctx context.Context, sampleRate int) (io.ReadCloser, error)

	// Available reports whether the source can capture audio.
	Available() bool
}

// recorderSpec describes one system recording tool that writes raw s16le
// mono PCM to stdout.
type recorderSpec struct {
	bin  string
	args func(sampleRate int) []string
}

var recorderSpecs = []recorderSpec{
	{"arecord", func(rate int) []string {
		return []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(rate), "-c", "1", "-t", "raw"}
	}},
	{"rec", func(rate int) []string {
		return []string{"-q", "-t", "raw", "-r", strconv.Itoa(rate), "-e", "signed", "-b", "16", "-c", "1", "-"}
	}},
}

// ExecSource is a [FrameSource] backed by a system recording subprocess
// (arecord or sox rec).
type ExecSource struct {
	bin  string
	args func(sampleRate int) []string
	log  *slog.Logger
}

var _ FrameSource = (*ExecSource)(nil)

// DetectFrameSource probes the PATH for a supported recording tool.
func DetectFrameSource(log *slog.Logger) (*ExecSource, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, spec := range recorderSpecs {
		path, err := exec.LookPath(spec.bin)
		if err != nil {
			continue
		}
		log.Info("audio capture source detected", "tool", spec.bin, "path", path)
		return &ExecSource{bin: spec.bin, args: spec.args, log: log}, nil
	}
	return nil, ErrNoCaptureSource
}

// Start launches the recording subprocess and returns its stdout stream.
// Closing the returned reader terminates the subprocess.
func (s *ExecSource) Start(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.bin, s.args(sampleRate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", s.bin, err)
	}
	return &procReader{ReadCloser: stdout, cmd: cmd}, nil
}

// Available always reports true for a detected source.
func (s *ExecSource) Available() bool { return true }

// procReader closes the subprocess along with its stdout stream.
type procReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (r *procReader) Close() error {
	err := r.ReadCloser.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
	return err
}

// CaptureOptions holds the VAD parameters for one capture.
type CaptureOptions struct {
	// SampleRate of the capture stream. Default 16000.
	SampleRate int

	// ListenTimeout bounds how long to wait for speech onset.
	ListenTimeout time.Duration

	// SilenceThreshold is the normalized RMS level below which a frame
	// counts as silence. Default 0.01.
	SilenceThreshold float64

	// SilenceDuration is the trailing quiet period that ends recording.
	// Default 1.5s.
	SilenceDuration time.Duration

	// MaxDuration is the hard cap on recording length. Default 15s.
	MaxDuration time.Duration
}

func (o *CaptureOptions) applyDefaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.ListenTimeout <= 0 {
		o.ListenTimeout = 10 * time.Second
	}
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = 0.01
	}
	if o.SilenceDuration <= 0 {
		o.SilenceDuration = 1500 * time.Millisecond
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 15 * time.Second
	}
}

// Microphone captures speech from a [FrameSource] using two-phase
// energy-based voice activity detection.
type Microphone struct {
	source FrameSource
	log    *slog.Logger
}

// NewMicrophone wraps a frame source. source may be nil, in which case the
// microphone reports unavailable and captures return nothing.
func NewMicrophone(source FrameSource, log *slog.Logger) *Microphone {
	if log == nil {
		log = slog.Default()
	}
	return &Microphone{source: source, log: log}
}

// Available reports whether a capture source is present.
func (m *Microphone) Available() bool {
	return m.source != nil && m.source.Available()
}

// CaptureUntilSilence records one utterance. Phase 1 waits for speech onset
// (a frame whose RMS exceeds the threshold) within ListenTimeout; phase 2
// records until the signal has stayed below the threshold for
// SilenceDuration, or MaxDuration elapses. Returns the recorded PCM16
// bytes, or nil when no speech was detected or capture failed.
func (m *Microphone) CaptureUntilSilence(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	if !m.Available() {
		return nil, nil
	}
	opts.applyDefaults()

	stream, err := m.source.Start(ctx, opts.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio: open capture stream: %w", err)
	}
	defer stream.Close()

	// Unblock reads when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	frameBytes := opts.SampleRate * int(frameDuration.Milliseconds()) / 1000 * 2
	frame := make([]byte, frameBytes)

	// Phase 1: wait for onset.
	var elapsed time.Duration
	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(stream, frame); err != nil {
			return nil, nil
		}
		if RMS(frame) > opts.SilenceThreshold {
			buf = append(buf, frame...)
			break
		}
		elapsed += frameDuration
		if elapsed >= opts.ListenTimeout {
			return nil, nil
		}
	}

	// Phase 2: record until trailing silence or the hard cap.
	var silent, total time.Duration
	total = frameDuration
	for total < opts.MaxDuration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(stream, frame); err != nil {
			break
		}
		buf = append(buf, frame...)
		total += frameDuration

		if RMS(frame) < opts.SilenceThreshold {
			silent += frameDuration
			if silent >= opts.SilenceDuration {
				break
			}
		} else {
			silent = 0
		}
	}

	if len(buf) == 0 {
		return nil, nil
	}
	return buf, nil
}
