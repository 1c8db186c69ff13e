package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/optimize"
	"github.com/ivlev/papeterie/internal/remote"
	"github.com/ivlev/papeterie/internal/scene"
)

var (
	ErrNoAsset   = errors.New("no asset open")
	ErrWrongKind = errors.New("operation not available for this asset kind")
	// ErrBusy is returned when a flag is toggled again before its first request settled.
	ErrBusy = errors.New("change already in flight")
	// ErrDeclined means the user answered no to a confirmation.
	ErrDeclined = optimize.ErrDeclined

	errUnchanged = errors.New("unchanged")
)

// NetworkErrorMessage replaces transport-level failure text in toasts.
const NetworkErrorMessage = "Network error: connection lost"

// Level is the severity of a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is a short user-facing message.
type Toast struct {
	Level   Level
	Message string
}

// Notifier shows toasts.
type Notifier interface {
	Notify(Toast)
}

// Message turns an error into toast text.
func Message(err error) string {
	var (
		verr *model.ValidationError
		rerr *remote.Error
	)
	switch {
	case remote.IsNetwork(err):
		return NetworkErrorMessage
	case errors.As(err, &rerr) && rerr.Kind == remote.KindHTTP:
		if rerr.Detail != "" {
			return rerr.Detail
		}
		return fmt.Sprintf("Request failed with status %d", rerr.Status)
	case errors.As(err, &verr):
		return "Invalid change: " + verr.Problems[0]
	case errors.Is(err, scene.ErrNoSelection):
		return "Select a sprite first"
	}
	return err.Error()
}

// fail reports err to the user and returns it. A declined confirmation or a
// canceled context is not an error worth showing.
func (c *Controller) fail(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeclined) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	level := LevelError
	if errors.Is(err, scene.ErrAlreadyExists) {
		level = LevelWarning
	}
	c.logger.Printf("[!] %s: %v", what, err)
	c.notifier.Notify(Toast{Level: level, Message: Message(err)})
	return err
}
