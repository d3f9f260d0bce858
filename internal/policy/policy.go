// Package policy implements the consent and permission checks a host
// applies to an incoming SessionInitRequest before issuing a ticket.
package policy

import (
	"errors"
	"time"
)

// ConsentMode selects how a host decides whether to approve a session.
type ConsentMode int

const (
	// AlwaysRequire raises an interactive prompt for every request.
	AlwaysRequire ConsentMode = iota
	// UnattendedAllowed auto-approves requests from pairings that were
	// granted the Unattended permission bit.
	UnattendedAllowed
	// TrustedOperatorsOnly auto-approves requests from operators in the
	// configured trusted set, regardless of the Unattended bit.
	TrustedOperatorsOnly
)

func (m ConsentMode) String() string {
	switch m {
	case AlwaysRequire:
		return "AlwaysRequire"
	case UnattendedAllowed:
		return "UnattendedAllowed"
	case TrustedOperatorsOnly:
		return "TrustedOperatorsOnly"
	default:
		return "Unknown"
	}
}

// Permission bits granted to a pairing and requested by a session.
const (
	PermView uint64 = 1 << iota
	PermControl
	PermClipboard
	PermFileTransfer
	PermAudio
	PermUnattended

	// AllPermissions is the unrestricted Limits value: every bit defined
	// above. Callers that do not want to cap the pairing's own grant
	// should set Engine.Limits to AllPermissions rather than leave it at
	// its zero value, which permits nothing.
	AllPermissions = PermView | PermControl | PermClipboard | PermFileTransfer | PermAudio | PermUnattended
)

var (
	ErrConsentDenied    = errors.New("policy: consent denied")
	ErrTimeRestricted   = errors.New("policy: outside allowed time window")
	ErrPolicyViolation  = errors.New("policy: requested permissions exceed pairing grant")
)

// TimeWindow restricts approval to a set of hours (0-23, inclusive both
// ends) on a set of weekdays. An empty Weekdays means all days; StartHour
// and EndHour both 0 means all hours.
type TimeWindow struct {
	StartHour int
	EndHour   int
	Weekdays  []time.Weekday
}

func (w TimeWindow) allows(now time.Time) bool {
	if w.StartHour == 0 && w.EndHour == 0 && len(w.Weekdays) == 0 {
		return true
	}
	if len(w.Weekdays) > 0 {
		allowed := false
		for _, d := range w.Weekdays {
			if d == now.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if w.StartHour == 0 && w.EndHour == 0 {
		return true
	}
	h := now.Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h <= w.EndHour
	}
	// Window wraps past midnight, e.g. StartHour=22, EndHour=6.
	return h >= w.StartHour || h <= w.EndHour
}

// Engine evaluates SessionInitRequests against a host's consent policy.
type Engine struct {
	Mode           ConsentMode
	TrustedOperators map[[32]byte]struct{}
	Limits         uint64
	Window         TimeWindow

	// Prompt is invoked for AlwaysRequire (and for UnattendedAllowed/
	// TrustedOperatorsOnly requests that do not qualify for
	// auto-approval) to obtain an interactive consent decision. It
	// returns true if the user approved the request.
	Prompt func(operatorID [32]byte, requested uint64) bool
}

// Decide evaluates a request and returns the effective permission set the
// session may use, or an error if the request is denied.
func (e *Engine) Decide(operatorID [32]byte, requested uint64, pairingPermissions uint64, now time.Time) (effective uint64, err error) {
	if requested&^pairingPermissions != 0 {
		return 0, ErrPolicyViolation
	}
	if !e.Window.allows(now) {
		return 0, ErrTimeRestricted
	}

	approved := false
	switch e.Mode {
	case UnattendedAllowed:
		approved = pairingPermissions&PermUnattended != 0
	case TrustedOperatorsOnly:
		_, approved = e.TrustedOperators[operatorID]
	}

	if !approved {
		if e.Prompt == nil {
			return 0, ErrConsentDenied
		}
		approved = e.Prompt(operatorID, requested)
	}
	if !approved {
		return 0, ErrConsentDenied
	}

	effective = requested & pairingPermissions & e.Limits
	return effective, nil
}
