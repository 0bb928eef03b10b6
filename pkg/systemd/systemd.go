// Package systemd reports service state to systemd via sd_notify. Every
// call is a no-op when the process was not started by systemd.
package systemd

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "newsbot/pkg/logx"
)

type Notifier struct {
	enabled  atomic.Bool
	log      logx.Logger
	watchdog time.Duration
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log.With(logx.String("comp", "systemd"))}
	n.enabled.Store(enabled)
	if enabled {
		if d, err := daemon.SdWatchdogEnabled(false); err == nil {
			n.watchdog = d
		}
	}
	return n
}

// WatchdogInterval is WATCHDOG_USEC, or 0 when the unit has no watchdog.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil {
		return 0
	}
	return n.watchdog
}

func (n *Notifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Watchdog() { n.notify(daemon.SdNotifyWatchdog) }

// Status sets the one-line status shown by systemctl status.
func (n *Notifier) Status(s string) { n.notify("STATUS=" + s) }

func (n *Notifier) notify(state string) {
	if n == nil || !n.enabled.Load() {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		// NOTIFY_SOCKET unset: not running under systemd.
		n.enabled.Store(false)
	}
}
