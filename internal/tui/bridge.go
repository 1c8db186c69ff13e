package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ivlev/papeterie/internal/asset"
)

// toastMsg carries a toast from the façade into the update loop.
type toastMsg asset.Toast

// confirmMsg asks the user a yes/no question; the answer goes to reply.
type confirmMsg struct {
	text  string
	reply chan bool
}

// changedMsg means the façade state moved and the view should redraw.
type changedMsg struct{}

// Bridge implements asset.Notifier and optimize.Confirmer by posting
// messages to the running program.
type Bridge struct {
	msgs chan tea.Msg
	done chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{msgs: make(chan tea.Msg, 64), done: make(chan struct{})}
}

func (b *Bridge) Notify(t asset.Toast) {
	select {
	case b.msgs <- toastMsg(t):
	case <-b.done:
	}
}

// Confirm blocks until the user answers or ctx ends. A closed UI answers no.
func (b *Bridge) Confirm(ctx context.Context, text string) bool {
	reply := make(chan bool, 1)
	select {
	case b.msgs <- confirmMsg{text: text, reply: reply}:
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	}
}

// Changed requests a redraw. Redraws coalesce when the queue is busy.
func (b *Bridge) Changed() {
	select {
	case b.msgs <- changedMsg{}:
	default:
	}
}

// Close releases anyone blocked on the bridge.
func (b *Bridge) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// wait delivers the next bridge message to the update loop.
func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.msgs:
			return msg
		case <-b.done:
			return nil
		}
	}
}
