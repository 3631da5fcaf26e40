// Package zk speaks the binary TCP protocol used by ZKTeco attendance
// terminals.
//
// A Client wraps one TCP connection and one device session. It is not safe
// for concurrent use: the protocol is strictly request/response and the
// device keeps per-session state.
package zk

import (
	"errors"
	"fmt"
	"time"
)

// DefaultPort is the port the terminals listen on.
const DefaultPort = 4370

const (
	cmdDBRRQ         = 7
	cmdUserWRQ       = 8
	cmdUserTempRRQ   = 9
	cmdOptionsRRQ    = 11
	cmdDeleteUser    = 18
	cmdGetFreeSizes  = 50
	cmdGetTime       = 201
	cmdSetTime       = 202
	cmdConnect       = 1000
	cmdExit          = 1001
	cmdEnableDevice  = 1002
	cmdDisableDevice = 1003
	cmdRefreshData   = 1013
	cmdTestVoice     = 1017
	cmdGetVersion    = 1100
	cmdAuth          = 1102
	cmdPrepareData   = 1500
	cmdData          = 1501
	cmdFreeData      = 1502
	cmdDataWRRQ      = 1503
	cmdReadBuffer    = 1504
	cmdAckOK         = 2000
	cmdAckError      = 2001
	cmdAckData       = 2002
	cmdAckUnauth     = 2005

	fctFingerTmp = 2
	fctUser      = 5

	ushrtMax = 65535

	// TCP framing magic.
	machinePrepareData1 = 20560
	machinePrepareData2 = 32130

	// Largest chunk requested per buffered read.
	maxChunk = 0xFFC0
	// Upper bound on a single frame to protect against garbage lengths.
	maxFrame = 16 << 20
)

var (
	// ErrProtocol reports a response that does not follow the wire format.
	ErrProtocol = errors.New("zk: malformed response")
	// ErrUnauthorized reports a rejected comm key.
	ErrUnauthorized = errors.New("zk: unauthorized")
	// ErrCommandFailed reports a command the device answered with an error.
	ErrCommandFailed = errors.New("zk: command rejected by device")
	// ErrClosed is returned when the client has already been closed.
	ErrClosed = errors.New("zk: connection closed")
)

// CommandError carries the command and reply codes of a rejected command.
type CommandError struct {
	Command uint16
	Reply   uint16
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("zk: command %d rejected with reply %d", e.Command, e.Reply)
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Options tune how a Client connects.
type Options struct {
	// Timeout bounds dialing and every request/response round trip.
	Timeout time.Duration
	// Password is the numeric comm key configured on the device (0 if none).
	Password int
	// Retries is the number of connection attempts.
	Retries int
	// RetryDelay is the pause between connection attempts.
	RetryDelay time.Duration
	// UserRecordSize is the user record layout (28 or 72 bytes) to write
	// before a user download has revealed it, as on an empty terminal.
	// Zero keeps the 28 byte layout.
	UserRecordSize int
}

// DefaultOptions mirrors the settings operators have used against the fleet:
// three attempts, two seconds apart, ten second timeout.
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		Retries:    3,
		RetryDelay: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Retries <= 0 {
		o.Retries = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.UserRecordSize != userPacketOld && o.UserRecordSize != userPacketNew {
		o.UserRecordSize = 0
	}
	return o
}
