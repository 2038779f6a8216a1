// Package wrapper implements the filesystem protocol between the
// controller and the remote wrapper script.
//
// Everything goes through one directory per wrapper job,
// <root>/commandtmp/<hostCommandId>/:
//
//   - pool_cmd.<id>.sh   command dispatched to the wrapper; written as
//     pool_cmd.tmp and renamed so the wrapper never
//     observes a partial script
//   - <id>.pool.exit     one trimmed integer, the command's exit code
//   - heartbeat          controller liveness; the wrapper deletes it and
//     exits if it stays absent across its tolerance
//   - stop               graceful stop request, content is request millis
//   - cmd.out, cmd.err   the wrapper's captured streams
//
// The controller side polls for exit files at ExitPoll cadence with an
// fsnotify watcher layered on top so most completions are observed within
// milliseconds; the ticker remains the fallback on filesystems that do not
// deliver events.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/logging"
)

// DefaultRootDir is the state directory the controller keeps under the
// pipeline working directory.
const DefaultRootDir = ".bpipe"

const commandTmpDirName = "commandtmp"

// ErrMalformedExit reports an exit file whose content did not parse as an
// integer. The command is surfaced as failed; the wrapper itself has
// completed it and may accept further work.
var ErrMalformedExit = errors.New("malformed exit code file")

// Intervals carries the protocol's timing constants. Zero values select
// the defaults; they are design constants exposed through configuration
// rather than inlined.
type Intervals struct {
	ExitPoll        time.Duration // controller poll for exit files (default 1s)
	Settle          time.Duration // delay between observing and reading an exit file (default 100ms)
	Heartbeat       time.Duration // controller heartbeat refresh (default 10s)
	HeartbeatMisses int           // wrapper tolerance before self-terminating (default 3)
	StopPoll        time.Duration // wrapper poll for stop/dispatch files (default 1s)
}

// WithDefaults returns a copy with zero fields replaced by defaults.
func (iv Intervals) WithDefaults() Intervals {
	if iv.ExitPoll <= 0 {
		iv.ExitPoll = time.Second
	}
	if iv.Settle <= 0 {
		iv.Settle = 100 * time.Millisecond
	}
	if iv.Heartbeat <= 0 {
		iv.Heartbeat = 10 * time.Second
	}
	if iv.HeartbeatMisses <= 0 {
		iv.HeartbeatMisses = 3
	}
	if iv.StopPoll <= 0 {
		iv.StopPoll = time.Second
	}
	return iv
}

// Protocol binds one wrapper job's command directory.
type Protocol struct {
	root   string
	hostID string
	iv     Intervals
}

// New returns the protocol handle for one wrapper job. root is the state
// directory (DefaultRootDir under the pipeline working directory).
func New(root, hostID string, iv Intervals) *Protocol {
	if root == "" {
		root = DefaultRootDir
	}
	return &Protocol{root: root, hostID: hostID, iv: iv.WithDefaults()}
}

// HostID returns the wrapper command id this protocol is bound to.
func (p *Protocol) HostID() string { return p.hostID }

// Intervals returns the timing constants in effect.
func (p *Protocol) Intervals() Intervals { return p.iv }

// Dir returns the wrapper's command directory.
func (p *Protocol) Dir() string {
	return filepath.Join(p.root, commandTmpDirName, p.hostID)
}

// EnsureDir creates the command directory if needed.
func (p *Protocol) EnsureDir() error {
	return os.MkdirAll(p.Dir(), 0o755)
}

// ScriptName returns the dispatch filename for a pipeline command id.
func ScriptName(cmdID string) string { return "pool_cmd." + cmdID + ".sh" }

// ExitName returns the exit filename for a pipeline command id.
func ExitName(cmdID string) string { return cmdID + ".pool.exit" }

func (p *Protocol) scriptPath(cmdID string) string { return filepath.Join(p.Dir(), ScriptName(cmdID)) }
func (p *Protocol) exitPath(cmdID string) string   { return filepath.Join(p.Dir(), ExitName(cmdID)) }

// HeartbeatPath returns the heartbeat file path.
func (p *Protocol) HeartbeatPath() string { return filepath.Join(p.Dir(), "heartbeat") }

// StopPath returns the stop file path.
func (p *Protocol) StopPath() string { return filepath.Join(p.Dir(), "stop") }

// OutPath returns the wrapper's captured stdout file.
func (p *Protocol) OutPath() string { return filepath.Join(p.Dir(), "cmd.out") }

// ErrPath returns the wrapper's captured stderr file.
func (p *Protocol) ErrPath() string { return filepath.Join(p.Dir(), "cmd.err") }

// Dispatch assigns a command script to the wrapper. The script is written
// to pool_cmd.tmp and renamed into place within the same directory, so the
// wrapper's directory scan only ever sees complete scripts.
func (p *Protocol) Dispatch(cmdID, script string) error {
	if err := p.EnsureDir(); err != nil {
		return fmt.Errorf("dispatch %s: %w", cmdID, err)
	}
	tmp := filepath.Join(p.Dir(), "pool_cmd.tmp")
	if err := os.WriteFile(tmp, []byte(script), 0o755); err != nil {
		return fmt.Errorf("dispatch %s: %w", cmdID, err)
	}
	if err := os.Rename(tmp, p.scriptPath(cmdID)); err != nil {
		return fmt.Errorf("dispatch %s: %w", cmdID, err)
	}
	logging.Op().Debug("command dispatched to wrapper",
		"host", p.hostID, "command", cmdID)
	return nil
}

// WaitForExit blocks until the exit file for cmdID appears, then reads and
// returns the exit code. A file that does not parse as an integer yields
// ErrMalformedExit with a non-zero code so the command surfaces as failed.
func (p *Protocol) WaitForExit(ctx context.Context, cmdID string) (int, error) {
	exitPath := p.exitPath(cmdID)

	// Best-effort watcher; the poll ticker below is the contract.
	var events chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(p.Dir()); err == nil {
			events = make(chan fsnotify.Event, 1)
			go func() {
				for ev := range w.Events {
					if ev.Name == exitPath && ev.Op.Has(fsnotify.Create|fsnotify.Write) {
						select {
						case events <- ev:
						default:
						}
					}
				}
			}()
			defer w.Close()
		} else {
			w.Close()
		}
	}

	ticker := time.NewTicker(p.iv.ExitPoll)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(exitPath); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		case <-events:
		}
	}

	// Let the writer finish before reading.
	time.Sleep(p.iv.Settle)

	data, err := os.ReadFile(exitPath)
	if err != nil {
		return 0, fmt.Errorf("read exit file for %s: %w", cmdID, err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 1, fmt.Errorf("%w: %q (command %s)", ErrMalformedExit,
			strings.TrimSpace(string(data)), cmdID)
	}
	return code, nil
}

// TouchHeartbeat creates the heartbeat file with the current time millis
// when it is absent. It reports whether a file was created; an existing
// heartbeat is left alone until the wrapper consumes it.
func (p *Protocol) TouchHeartbeat() (bool, error) {
	path := p.HeartbeatPath()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(domain.NowMs(), 10)), 0o644); err != nil {
		return false, fmt.Errorf("touch heartbeat for %s: %w", p.hostID, err)
	}
	return true, nil
}

// RemoveHeartbeat deletes the heartbeat file; missing is not an error.
func (p *Protocol) RemoveHeartbeat() error {
	err := os.Remove(p.HeartbeatPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteStop requests graceful wrapper exit. Content is the request millis;
// rewriting an existing stop file is harmless, which keeps Stop idempotent.
func (p *Protocol) WriteStop() error {
	if err := p.EnsureDir(); err != nil {
		return err
	}
	return os.WriteFile(p.StopPath(), []byte(strconv.FormatInt(domain.NowMs(), 10)), 0o644)
}
