// Package channel implements the chat destinations items are broadcast to.
package channel

import (
	"context"
	"errors"
	"fmt"

	"newsbot/internal/news"
)

// ErrPermanent marks failures that a retry cannot fix (unknown chat, missing
// permission, rejected token).
var ErrPermanent = errors.New("permanent channel error")

// Client is the transport contract every channel implements.
type Client interface {
	Validate(ctx context.Context, chatID string) error
	Send(ctx context.Context, chatID, text string) error
}

// Renderer formats an item for one channel's markup.
type Renderer func(news.Item) string

// Target is a configured destination: a client, a chat on it and its markup.
type Target struct {
	Name   string
	ChatID string
	Client Client
	Render Renderer
}

// Text renders it for this target, falling back to plain text.
func (t Target) Text(it news.Item) string {
	if t.Render != nil {
		return t.Render(it)
	}
	return RenderPlain(it)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() []error {
	return []error{ErrPermanent, e.err}
}

// Permanent wraps err so IsPermanent reports true while keeping err matchable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Permanentf is Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }
