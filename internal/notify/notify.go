// Package notify delivers error reports to the user. The desktop
// notifier posts to the freedesktop notification service over the
// session bus; the terminal notifier writes to stderr for headless use.
package notify

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/diskrescue/imgmount/internal/log"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyMethod    = "org.freedesktop.Notifications.Notify"
	urgencyCritical = byte(2)
)

// Desktop reports errors as desktop notifications. Delivery is
// fire-and-forget: a missing or broken session bus only logs a warning.
type Desktop struct {
	appName string
}

// NewDesktop creates a desktop notifier reporting under the given
// application name.
func NewDesktop(appName string) *Desktop {
	return &Desktop{appName: appName}
}

// ReportError posts the message as a critical-urgency notification.
func (n *Desktop) ReportError(msg string) {
	conn, err := dbus.SessionBus()
	if err != nil {
		log.Warn("no session bus for notifications", "error", err)
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		return
	}

	obj := conn.Object(notifyService, notifyPath)
	call := obj.Call(notifyMethod, 0,
		n.appName,
		uint32(0), // no notification to replace
		"",        // no icon
		n.appName,
		msg,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(urgencyCritical),
		},
		int32(-1), // server-default expiry
	)
	if call.Err != nil {
		log.Warn("failed to deliver notification", "error", call.Err)
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	}
}

// Terminal reports errors on stderr.
type Terminal struct{}

// NewTerminal creates a terminal notifier.
func NewTerminal() *Terminal {
	return &Terminal{}
}

// ReportError writes the message to stderr.
func (n *Terminal) ReportError(msg string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", msg)
}
