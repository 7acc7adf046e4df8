package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/flowd-sh/flowd/errors"
)

// nativeNotifier shows a desktop notification. Replaceable in tests.
type nativeNotifier func(ctx context.Context, title, body string) error

// defaultNativeNotifier uses the platform's notification tool:
// osascript on macOS, notify-send on Linux.
func defaultNativeNotifier(ctx context.Context, title, body string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd := exec.CommandContext(ctx, "osascript", "-e", script)
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Wrapf(err, "osascript failed: %s", string(out))
		}
		return nil
	case "linux":
		cmd := exec.CommandContext(ctx, "notify-send", title, body)
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Wrapf(err, "notify-send failed: %s", string(out))
		}
		return nil
	default:
		return errors.Newf("native notifications not supported on %s", runtime.GOOS)
	}
}
