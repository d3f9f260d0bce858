// Package audit implements the append-only, cryptographically signed
// security event log (spec §4.13): every entry signs its own canonical
// JSON representation so a log can be verified offline against the
// issuer's public key.
package audit

import "encoding/json"

// EventType enumerates the security-relevant occurrences the log records.
type EventType string

const (
	EventAuthenticationAttempt EventType = "authentication_attempt"
	EventPairingRequest        EventType = "pairing_request"
	EventPairingApproved       EventType = "pairing_approved"
	EventPairingRevoked        EventType = "pairing_revoked"
	EventSessionStarted        EventType = "session_started"
	EventSessionEnded          EventType = "session_ended"
	EventPermissionEscalation  EventType = "permission_escalation"
	EventIdentityMismatch      EventType = "identity_mismatch"
	EventReplayAttempt         EventType = "replay_attempt"
	EventRateLimitExceeded     EventType = "rate_limit_exceeded"
)

// Event describes one occurrence to be logged. Actor and Target are
// free-form identifiers (hex-encoded IDs, session IDs, source addresses)
// specific to the event type; Details carries the type-specific payload
// that will be embedded verbatim as the entry's details field.
type Event struct {
	Type    EventType
	Actor   string
	Target  string
	Details any
}

func (e Event) detailsJSON() json.RawMessage {
	if e.Details == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// AuthenticationAttempt builds the details payload for EventAuthenticationAttempt.
func AuthenticationAttempt(success bool, source string) Event {
	return Event{
		Type:   EventAuthenticationAttempt,
		Actor:  source,
		Target: "",
		Details: struct {
			Success bool   `json:"success"`
			Source  string `json:"source"`
		}{success, source},
	}
}

// PairingRequest builds the details payload for EventPairingRequest.
func PairingRequest(operatorID, deviceID string) Event {
	return Event{
		Type:   EventPairingRequest,
		Actor:  operatorID,
		Target: deviceID,
		Details: struct {
			OperatorID string `json:"operator_id"`
			DeviceID   string `json:"device_id"`
		}{operatorID, deviceID},
	}
}

// PairingApproved builds the details payload for EventPairingApproved.
func PairingApproved(operatorID, deviceID string) Event {
	return Event{
		Type:   EventPairingApproved,
		Actor:  operatorID,
		Target: deviceID,
		Details: struct {
			OperatorID string `json:"operator_id"`
			DeviceID   string `json:"device_id"`
		}{operatorID, deviceID},
	}
}

// PairingRevoked builds the details payload for EventPairingRevoked.
func PairingRevoked(operatorID, deviceID, reason string) Event {
	return Event{
		Type:   EventPairingRevoked,
		Actor:  operatorID,
		Target: deviceID,
		Details: struct {
			OperatorID string `json:"operator_id"`
			DeviceID   string `json:"device_id"`
			Reason     string `json:"reason"`
		}{operatorID, deviceID, reason},
	}
}

// SessionStarted builds the details payload for EventSessionStarted.
func SessionStarted(sessionID, operatorID, deviceID string) Event {
	return Event{
		Type:   EventSessionStarted,
		Actor:  operatorID,
		Target: sessionID,
		Details: struct {
			SessionID  string `json:"session_id"`
			OperatorID string `json:"operator_id"`
			DeviceID   string `json:"device_id"`
		}{sessionID, operatorID, deviceID},
	}
}

// SessionEnded builds the details payload for EventSessionEnded.
func SessionEnded(sessionID, reason string) Event {
	return Event{
		Type:   EventSessionEnded,
		Actor:  "",
		Target: sessionID,
		Details: struct {
			SessionID string `json:"session_id"`
			Reason    string `json:"reason"`
		}{sessionID, reason},
	}
}

// PermissionEscalation builds the details payload for EventPermissionEscalation.
func PermissionEscalation(sessionID string, newPermissions uint64) Event {
	return Event{
		Type:   EventPermissionEscalation,
		Actor:  sessionID,
		Target: sessionID,
		Details: struct {
			SessionID      string `json:"session_id"`
			NewPermissions uint64 `json:"new_permissions"`
		}{sessionID, newPermissions},
	}
}

// IdentityMismatch builds the details payload for EventIdentityMismatch.
func IdentityMismatch(peerID string) Event {
	return Event{
		Type:   EventIdentityMismatch,
		Actor:  peerID,
		Target: peerID,
		Details: struct {
			PeerID string `json:"peer_id"`
		}{peerID},
	}
}

// ReplayAttempt builds the details payload for EventReplayAttempt.
func ReplayAttempt(sequence uint64) Event {
	return Event{
		Type:   EventReplayAttempt,
		Actor:  "",
		Target: "",
		Details: struct {
			Sequence uint64 `json:"sequence"`
		}{sequence},
	}
}

// RateLimitExceeded builds the details payload for EventRateLimitExceeded.
func RateLimitExceeded(source, operation string) Event {
	return Event{
		Type:   EventRateLimitExceeded,
		Actor:  source,
		Target: operation,
		Details: struct {
			Source    string `json:"source"`
			Operation string `json:"operation"`
		}{source, operation},
	}
}
