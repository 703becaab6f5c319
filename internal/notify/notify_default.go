//go:build !darwin && !linux

package notify

import "log"

// send logs the notification on platforms without a desktop mechanism.
func send(title, body string) error {
	log.Printf("notification: %s: %s", title, body)
	return nil
}
