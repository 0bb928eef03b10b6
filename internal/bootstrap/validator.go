// Package bootstrap checks every configured channel before the loop starts.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsbot/internal/channel"
	logx "newsbot/pkg/logx"
)

const DefaultProbeTimeout = 15 * time.Second

// ErrNoTargets means no channel is enabled.
var ErrNoTargets = errors.New("no channels configured")

// ValidationError names the channel that failed its startup probe.
type ValidationError struct {
	Channel string
	ChatID  string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("channel %s (chat %s) failed validation: %v", e.Channel, e.ChatID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type Validator struct {
	ProbeTimeout time.Duration
	Log          logx.Logger
}

// Validate probes targets in order and stops at the first failure.
func (v Validator) Validate(ctx context.Context, targets []channel.Target) error {
	log := v.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := v.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if len(targets) == 0 {
		return ErrNoTargets
	}

	for _, t := range targets {
		if t.Client == nil {
			return &ValidationError{Channel: t.Name, ChatID: t.ChatID, Err: errors.New("no client")}
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := t.Client.Validate(pctx, t.ChatID)
		cancel()
		if err != nil {
			log.Error("channel validation failed",
				logx.String("channel", t.Name),
				logx.String("chat_id", t.ChatID),
				logx.Err(err),
			)
			return &ValidationError{Channel: t.Name, ChatID: t.ChatID, Err: err}
		}
		log.Info("channel validated", logx.String("channel", t.Name), logx.String("chat_id", t.ChatID))
	}
	return nil
}
