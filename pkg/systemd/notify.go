// Package systemd reports service state to systemd through the notify socket.
// Outside systemd (no NOTIFY_SOCKET) every call is a silent no-op.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states.
type Notifier interface {
	Ready() error
	Stopping() error
	Watchdog() error
	// WatchdogInterval is the configured WatchdogSec, or 0 when disabled.
	WatchdogInterval() time.Duration
}

// Daemon is the real notify-socket client.
type Daemon struct{}

var _ Notifier = Daemon{}

func (Daemon) Ready() error    { return send(daemon.SdNotifyReady) }
func (Daemon) Stopping() error { return send(daemon.SdNotifyStopping) }
func (Daemon) Watchdog() error { return send(daemon.SdNotifyWatchdog) }

func (Daemon) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

func send(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// Nop is a Notifier that does nothing.
type Nop struct{}

func (Nop) Ready() error                    { return nil }
func (Nop) Stopping() error                 { return nil }
func (Nop) Watchdog() error                 { return nil }
func (Nop) WatchdogInterval() time.Duration { return 0 }
