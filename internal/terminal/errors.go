package terminal

import (
	"errors"
	"fmt"

	"github.com/zktools/zk-tools/models"
)

var (
	// ErrUnreachable marks failures to reach the terminal at all.
	ErrUnreachable = errors.New("terminal unreachable")
	// ErrDevice marks failures after the socket was open: rejected
	// commands, bad credentials, malformed replies, timeouts mid-session.
	ErrDevice = errors.New("terminal error")
)

// DeviceError reports a failed terminal operation.
type DeviceError struct {
	Op       string
	Terminal models.Terminal
	Kind     error
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Terminal, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func (e *DeviceError) Is(target error) bool {
	return target == e.Kind
}
