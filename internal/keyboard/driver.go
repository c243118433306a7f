package keyboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"enginesound/server/internal/input"
	"enginesound/server/internal/logging"
)

// DefaultBrakePulse is how long a brake key press holds full brake.
const DefaultBrakePulse = 300 * time.Millisecond

// ErrNotTerminal reports that stdin cannot be switched to raw mode.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// Driver feeds keystrokes into the command queue.
type Driver struct {
	keymap *Keymap
	queue  *input.Queue
	logger *logging.Logger
	pulse  time.Duration
	after  func(time.Duration, func()) *time.Timer
}

// Option customises a Driver.
type Option func(*Driver)

// WithBrakePulse overrides DefaultBrakePulse.
func WithBrakePulse(d time.Duration) Option {
	return func(drv *Driver) {
		if d > 0 {
			drv.pulse = d
		}
	}
}

// WithLogger routes driver logs to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(drv *Driver) {
		if logger != nil {
			drv.logger = logger
		}
	}
}

// NewDriver binds a keymap to the queue.
func NewDriver(keymap *Keymap, queue *input.Queue, opts ...Option) *Driver {
	drv := &Driver{keymap: keymap, queue: queue, logger: logging.L(), pulse: DefaultBrakePulse, after: time.AfterFunc}
	for _, opt := range opts {
		if opt != nil {
			opt(drv)
		}
	}
	return drv
}

// MakeRaw switches stdin to raw mode and returns a function restoring the previous state.
func MakeRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	return func() { _ = term.Restore(fd, old) }, nil
}

// Run reads keys from r until a quit key, EOF or ctx cancellation. It returns nil on quit and
// EOF. Reads are blocking, so cancellation takes effect on the next keystroke.
func (d *Driver) Run(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if quit := d.handle(buf[0]); quit {
				d.logger.Info("keyboard quit requested")
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
	}
}

func (d *Driver) handle(key byte) bool {
	action := d.keymap.Translate(key)
	if action.Quit {
		return true
	}
	for _, cmd := range action.Commands {
		if err := d.queue.Push(cmd); err != nil {
			d.logger.Warn("keyboard command dropped", logging.String("kind", cmd.Kind.String()), logging.Error(err))
		}
	}
	if action.BrakePulse {
		//1.- Raw terminals report presses only, so the brake releases on a timer.
		d.after(d.pulse, func() {
			_ = d.queue.Push(input.Brake(0))
		})
	}
	return false
}

// Help is the key legend printed when the driver starts.
const Help = "w/s throttle  space idle  b brake  0-6 gear  +/- shift  c clutch  p preset  i ignition  r real vehicle  q quit"
