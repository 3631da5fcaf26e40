package models

import (
	"net"
	"strconv"
	"time"
)

// DefaultPort is the TCP port terminals listen on out of the box.
const DefaultPort = 4370

// Terminal identifies a device on the network.
type Terminal struct {
	Host  string `json:"host" yaml:"host"`
	Port  int    `json:"port" yaml:"port"`
	Label string `json:"label,omitempty" yaml:"name"`
}

// Address returns the dialable host:port pair.
func (t Terminal) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// String renders the terminal the way operators type it: the bare host when
// the default port is used, host:port otherwise.
func (t Terminal) String() string {
	if t.Host == "" {
		return ""
	}
	if t.Port == 0 || t.Port == DefaultPort {
		return t.Host
	}
	return t.Address()
}

// TerminalStatus is the information shown by the status action.
type TerminalStatus struct {
	Terminal     Terminal  `json:"terminal"`
	SerialNumber string    `json:"serial_number,omitempty"`
	DeviceName   string    `json:"device_name,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	Firmware     string    `json:"firmware,omitempty"`
	MAC          string    `json:"mac,omitempty"`
	Time         time.Time `json:"time,omitempty"`
	Users        int       `json:"users"`
	Fingers      int       `json:"fingers"`
	Records      int       `json:"records"`
	Errors       []string  `json:"errors,omitempty"`
}
