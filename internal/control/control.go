// Package control maps text commands from the control socket and the bus
// onto session machine operations.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"theravox/internal/domain"
)

var ErrUnknownCommand = errors.New("unknown command")

// Session is the part of the session machine commands can drive.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	SetTTS(ctx context.Context, enabled bool) error
	SetProvider(ctx context.Context, id domain.ProviderID) error
	Status(ctx context.Context) (domain.Status, error)
}

// Handler runs one command and reports the resulting status.
type Handler func(ctx context.Context, cmd, arg string) (domain.Status, error)

// NewHandler returns the Handler for s.
func NewHandler(s Session) Handler {
	return func(ctx context.Context, cmd, arg string) (domain.Status, error) {
		if err := run(ctx, s, strings.ToLower(strings.TrimSpace(cmd)), strings.TrimSpace(arg)); err != nil {
			return domain.Status{}, err
		}
		return s.Status(ctx)
	}
}

func run(ctx context.Context, s Session, cmd, arg string) error {
	switch cmd {
	case "start":
		return s.Start(ctx)
	case "stop":
		return s.Stop(ctx)
	case "toggle":
		return s.Toggle(ctx)
	case "status":
		return nil
	case "tts":
		switch strings.ToLower(arg) {
		case "on", "true", "1":
			return s.SetTTS(ctx, true)
		case "off", "false", "0":
			return s.SetTTS(ctx, false)
		}
		return fmt.Errorf("tts expects on or off, got %q", arg)
	case "provider":
		if arg == "" {
			return errors.New("provider expects an id")
		}
		return s.SetProvider(ctx, domain.ProviderID(arg))
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// Split parses "tts on" style lines into command and argument.
func Split(line string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return cmd, strings.TrimSpace(arg)
}
