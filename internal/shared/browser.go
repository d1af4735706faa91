package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the command that opens url on the given platform.
func browserCommand(goos, url string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return exec.Command("open", url), nil
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	default:
		return nil, fmt.Errorf("%w: cannot open browser on %s", ErrNotImplemented, goos)
	}
}

// OpenBrowser opens the default system browser to the specified URL without waiting for it to exit.
func OpenBrowser(url string) error {
	cmd, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return cmd.Process.Release()
}
