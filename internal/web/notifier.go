package web

import (
	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Notifier shows toasts in the browser and records diagnostics in the log
// and on the status stream.
type Notifier struct {
	b *StatusBroadcaster
}

func NewNotifier(b *StatusBroadcaster) *Notifier {
	return &Notifier{b: b}
}

func (n *Notifier) Toast(msg string) {
	debug.Toast(msg)
	n.b.Publish(StatusEvent{Kind: KindToast, Msg: msg})
}

func (n *Notifier) Log(tag string, err error) {
	debug.Diagnostic(tag, err)
	n.b.Publish(StatusEvent{Kind: KindError, Tag: tag, Msg: err.Error()})
}
