package mirrorserver

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

// Injector applies a decoded ControlEvent to the local device. The default
// implementation shells out to the Android `input`/`am` command-line tools,
// mirroring how internal/executor runs external processes with a bounded
// timeout.
type Injector interface {
	Inject(ctx context.Context, ev wireproto.ControlEvent) error
}

// shellInjector is the production Injector: it maps each control-event
// sub-type onto the corresponding `input`/`am`/`monkey` invocation.
type shellInjector struct {
	timeout time.Duration
}

// NewShellInjector builds an Injector that runs device shell commands with
// a bounded per-event timeout.
func NewShellInjector(timeout time.Duration) Injector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &shellInjector{timeout: timeout}
}

func (s *shellInjector) Inject(ctx context.Context, ev wireproto.ControlEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args, err := s.args(ev)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mirrorserver: inject %s failed: %w (%s)", ev.Subtype, err, out)
	}
	return nil
}

func (s *shellInjector) args(ev wireproto.ControlEvent) ([]string, error) {
	switch ev.Subtype {
	case wireproto.ControlTouchDown, wireproto.ControlTouchUp:
		return []string{"input", "tap", itoa(ev.X), itoa(ev.Y)}, nil
	case wireproto.ControlTouchMove:
		return []string{"input", "swipe", itoa(ev.X), itoa(ev.Y), itoa(ev.X), itoa(ev.Y)}, nil
	case wireproto.ControlKeyDown, wireproto.ControlKeyUp:
		return []string{"input", "keyevent", itoa(ev.KeyCode)}, nil
	case wireproto.ControlScroll:
		return []string{"input", "swipe", itoa(ev.X), itoa(ev.Y), itoa(ev.X + ev.DeltaX), itoa(ev.Y + ev.DeltaY)}, nil
	case wireproto.ControlAppLaunch:
		return []string{"monkey", "-p", ev.AppName, "-c", "android.intent.category.LAUNCHER", "1"}, nil
	case wireproto.ControlAppClose:
		return []string{"am", "force-stop", ev.AppName}, nil
	case wireproto.ControlSystemCommand:
		return []string{"am", "broadcast", "-a", ev.Command}, nil
	default:
		return nil, fmt.Errorf("mirrorserver: unknown control event subtype %q", ev.Subtype)
	}
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
