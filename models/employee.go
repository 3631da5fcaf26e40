package models

import (
	"strconv"
	"strings"
)

// Privilege levels understood by the terminals. Bit 0 of the raw byte marks a
// disabled user and is carried separately in Employee.Enabled.
const (
	PrivilegeUser     = 0
	PrivilegeEnroller = 2
	PrivilegeManager  = 6
	PrivilegeAdmin    = 14
)

// Employee is an enrollment record as stored on a terminal.
type Employee struct {
	UID        int        `json:"uid"`
	Name       string     `json:"name"`
	UserID     string     `json:"user_id"`
	Card       string     `json:"card"`
	Privilege  int        `json:"privilege"`
	GroupID    string     `json:"group_id"`
	Enabled    bool       `json:"enabled"`
	Password   string     `json:"-"`
	Biometrics []Template `json:"biometrics"`
}

// Template summarises a fingerprint template enrolled for a user.
type Template struct {
	UID   int `json:"-"`
	FID   int `json:"fid"`
	Valid int `json:"valid"`
	Size  int `json:"size"`
}

// HasCard reports whether the employee carries a usable card number.
func (e Employee) HasCard() bool {
	return ValidCard(e.Card)
}

// ValidCard reports whether a card value is set. Empty, "0", "none" and "null"
// all mean no card.
func ValidCard(card string) bool {
	s := strings.TrimSpace(card)
	switch strings.ToLower(s) {
	case "", "0", "none", "null":
		return false
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil && n == 0 {
		return false
	}
	return true
}

// PrivilegeLabel returns a short display name for a privilege level.
func PrivilegeLabel(privilege int) string {
	switch privilege &^ 1 {
	case PrivilegeAdmin:
		return "Admin"
	case PrivilegeManager:
		return "Manager"
	case PrivilegeEnroller:
		return "Enroller"
	default:
		return "User"
	}
}

// ParsePrivilege converts an imported privilege value into a known level.
// Unknown values fall back to PrivilegeUser.
func ParsePrivilege(value string) int {
	text := strings.ToLower(strings.TrimSpace(value))
	switch text {
	case "", "user", "default":
		return PrivilegeUser
	case "admin", "superadmin":
		return PrivilegeAdmin
	case "manager":
		return PrivilegeManager
	case "enroller":
		return PrivilegeEnroller
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return PrivilegeUser
	}
	switch n &^ 1 {
	case PrivilegeUser, PrivilegeEnroller, PrivilegeManager, PrivilegeAdmin:
		return n &^ 1
	}
	return PrivilegeUser
}
