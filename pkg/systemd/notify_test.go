package systemd

import "testing"

func TestDaemonWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	var n Notifier = Daemon{}
	if err := n.Ready(); err != nil {
		t.Fatalf("Ready without socket: %v", err)
	}
	if err := n.Watchdog(); err != nil {
		t.Fatalf("Watchdog without socket: %v", err)
	}
	if d := n.WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval = %v, want 0", d)
	}
}
