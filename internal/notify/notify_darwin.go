//go:build darwin

package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// send posts a notification via osascript.
func send(title, body string) error {
	script := fmt.Sprintf("display notification %q with title %q",
		sanitize(body), sanitize(title))
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("osascript: %w", err)
	}
	return nil
}

// sanitize strips quote characters so text cannot escape the
// AppleScript string literal.
func sanitize(s string) string {
	return strings.NewReplacer(`"`, "'", "\\", "").Replace(s)
}
