//go:build linux

package notify

import (
	"fmt"
	"os/exec"
)

// send posts a notification via notify-send.
func send(title, body string) error {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return fmt.Errorf("notify-send not found: %w", err)
	}
	if err := exec.Command(path, title, body).Run(); err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}
