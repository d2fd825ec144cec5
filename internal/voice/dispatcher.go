package voice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// DispatchMethod names a keystroke-injection mechanism.
type DispatchMethod string

const (
	DispatchTmux        DispatchMethod = "tmux"
	DispatchAppleScript DispatchMethod = "applescript"
	DispatchXdotool     DispatchMethod = "xdotool"

	// DispatchNone means no mechanism is available; Dispatch always fails.
	DispatchNone DispatchMethod = "none"
)

type runFunc func(ctx context.Context, name string, args ...string) error

// Dispatcher injects a response plus a newline into the agent's foreground
// terminal via a subprocess.
type Dispatcher struct {
	method DispatchMethod
	log    *slog.Logger
	run    runFunc
}

// NewDispatcher selects a dispatch mechanism. An empty forced value
// auto-detects: tmux when inside a tmux session, osascript on macOS,
// xdotool under X11 when the binary is installed.
func NewDispatcher(forced DispatchMethod, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{log: log, run: runCommand}
	if forced != "" && forced != DispatchNone {
		d.method = forced
	} else {
		d.method = detectMethod()
	}
	log.Info("keystroke dispatch selected", "method", d.method)
	return d
}

func detectMethod() DispatchMethod {
	if os.Getenv("TMUX") != "" {
		return DispatchTmux
	}
	if runtime.GOOS == "darwin" {
		return DispatchAppleScript
	}
	if os.Getenv("DISPLAY") != "" {
		if _, err := exec.LookPath("xdotool"); err == nil {
			return DispatchXdotool
		}
	}
	return DispatchNone
}

// Method returns the selected mechanism.
func (d *Dispatcher) Method() DispatchMethod { return d.method }

// Available reports whether any mechanism was selected.
func (d *Dispatcher) Available() bool { return d.method != DispatchNone }

// Dispatch types text followed by Enter into the foreground terminal.
// Returns true iff every subprocess exited zero.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) bool {
	var err error
	switch d.method {
	case DispatchTmux:
		err = d.run(ctx, "tmux", "send-keys", text, "Enter")
	case DispatchAppleScript:
		err = d.run(ctx, "osascript",
			"-e", appleScriptKeystroke(text),
			"-e", "delay 0.1",
			"-e", `tell application "System Events" to keystroke return`)
	case DispatchXdotool:
		err = d.run(ctx, "xdotool", "type", "--delay", "0", text)
		if err == nil {
			err = d.run(ctx, "xdotool", "key", "Return")
		}
	default:
		d.log.Warn("no keystroke dispatch mechanism available")
		return false
	}
	if err != nil {
		d.log.Warn("keystroke dispatch failed", "method", d.method, "err", err)
		return false
	}
	return true
}

func appleScriptKeystroke(text string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text)
	return fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, esc)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
