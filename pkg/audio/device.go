package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// ErrNoOutputDevice is returned by [DetectOutputDevice] when no supported
// playback tool is installed.
var ErrNoOutputDevice = errors.New("audio: no output device found")

// OutputDevice plays raw PCM16 mono audio.
type OutputDevice interface {
	// Play blocks until the buffer has been played, the context is
	// cancelled, or Abort is called.
	Play(ctx context.Context, pcm []byte) error

	// Abort stops any in-flight playback. Safe to call when idle.
	Abort()

	// Available reports whether the device can play audio.
	Available() bool
}

// playerSpec describes one system playback tool able to consume raw s16le
// mono PCM on stdin.
type playerSpec struct {
	bin  string
	args func(sampleRate int) []string
}

var playerSpecs = []playerSpec{
	{"aplay", func(rate int) []string {
		return []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(rate), "-c", "1", "-t", "raw", "-"}
	}},
	{"paplay", func(rate int) []string {
		return []string{"--raw", "--rate", strconv.Itoa(rate), "--channels", "1", "--format", "s16le"}
	}},
	{"play", func(rate int) []string {
		return []string{"-q", "-t", "raw", "-r", strconv.Itoa(rate), "-e", "signed", "-b", "16", "-c", "1", "-"}
	}},
	{"ffplay", func(rate int) []string {
		return []string{"-loglevel", "quiet", "-autoexit", "-nodisp",
			"-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", "1", "-i", "-"}
	}},
}

// ExecDevice is an [OutputDevice] backed by a system playback subprocess
// (aplay, paplay, sox play, or ffplay), one process per Play call.
type ExecDevice struct {
	bin  string
	args []string
	log  *slog.Logger

	mu  sync.Mutex
	cur *exec.Cmd
}

var _ OutputDevice = (*ExecDevice)(nil)

// DetectOutputDevice probes the PATH for a supported playback tool and
// returns a device bound to the first one found.
func DetectOutputDevice(sampleRate int, log *slog.Logger) (*ExecDevice, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, spec := range playerSpecs {
		path, err := exec.LookPath(spec.bin)
		if err != nil {
			continue
		}
		log.Info("audio output device detected", "tool", spec.bin, "path", path)
		return &ExecDevice{bin: spec.bin, args: spec.args(sampleRate), log: log}, nil
	}
	return nil, ErrNoOutputDevice
}

// Play feeds pcm to the playback subprocess and waits for it to exit.
func (d *ExecDevice) Play(ctx context.Context, pcm []byte) error {
	cmd := exec.CommandContext(ctx, d.bin, d.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audio: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audio: start %s: %w", d.bin, err)
	}

	d.mu.Lock()
	d.cur = cmd
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.cur == cmd {
			d.cur = nil
		}
		d.mu.Unlock()
	}()

	_, werr := stdin.Write(pcm)
	stdin.Close()
	if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		d.log.Debug("playback write interrupted", "tool", d.bin, "err", werr)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: %s: %w", d.bin, err)
	}
	return nil
}

// Abort kills the in-flight playback subprocess, if any.
func (d *ExecDevice) Abort() {
	d.mu.Lock()
	cmd := d.cur
	d.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Available always reports true for a detected device.
func (d *ExecDevice) Available() bool { return true }

// Tool returns the name of the playback binary in use.
func (d *ExecDevice) Tool() string { return d.bin }
