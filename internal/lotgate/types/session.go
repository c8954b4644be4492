package types

import "time"

type PaymentStatus int

const (
	PaymentNone PaymentStatus = iota
	PaymentUnpaid
	PaymentPaid
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentUnpaid:
		return "UNPAID"
	case PaymentPaid:
		return "PAID"
	default:
		return "NONE"
	}
}

type ActionType string

const (
	ActionEntry            ActionType = "ENTRY"
	ActionExit             ActionType = "EXIT"
	ActionUnauthorizedExit ActionType = "UNAUTHORIZED_EXIT"
)

type Lane string

const (
	LaneEntry Lane = "entry"
	LaneExit  Lane = "exit"
)

// Presence is the per-plate admission state derived from the ledger.
type Presence int

const (
	NotPresent Presence = iota
	PresentUnpaid
	PresentPaid
)

func (p Presence) String() string {
	switch p {
	case PresentUnpaid:
		return "PRESENT_UNPAID"
	case PresentPaid:
		return "PRESENT_PAID"
	default:
		return "NOT_PRESENT"
	}
}

// Session is the ledger's view of a vehicle currently in the lot.
type Session struct {
	Plate     string
	Status    PaymentStatus
	EntryTime time.Time
	// SettledAt is the exit time of the latest transaction for this stay;
	// zero while unpaid.
	SettledAt time.Time
}

func (s Session) Presence() Presence {
	if s.Status == PaymentPaid {
		return PresentPaid
	}
	return PresentUnpaid
}

// LogRecord is one plates_log row.
type LogRecord struct {
	Plate         string     `json:"plate_number"`
	PaymentStatus int        `json:"payment_status"`
	EntryTime     time.Time  `json:"entry_timestamp"`
	ExitTime      *time.Time `json:"exit_timestamp"`
	Action        ActionType `json:"action_type"`
	Reason        string     `json:"reason,omitempty"`
}

// Transaction is an immutable billing record.
type Transaction struct {
	ID            string    `json:"id"`
	Plate         string    `json:"plate_number"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	DurationHours float64   `json:"duration_hr"`
	Amount        int64     `json:"amount"`
	PaymentStatus int       `json:"payment_status"`
}

// Decision is the audit row for one admission decision.
type Decision struct {
	Lane      Lane
	Plate     string
	Granted   bool
	Reason    string
	DecidedAt time.Time
}
