package models

// Status is the integration lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusError    Status = "ERROR"
	StatusInactive Status = "INACTIVE"
)

// SyncableStatuses are picked up by the pending sync pass.
var SyncableStatuses = []Status{StatusActive, StatusError}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusError, StatusInactive:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusInactive
}

// CanTransitionTo encodes the lifecycle:
//
//	PENDING -> ACTIVE | ERROR   (first sync outcome)
//	ACTIVE <-> ERROR            (later sync outcomes)
//	any non-terminal -> INACTIVE (explicit deactivation)
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	switch next {
	case StatusActive, StatusError, StatusInactive:
		return true
	}
	return false
}
