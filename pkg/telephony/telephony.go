// Package telephony provides outbound SIP dialing: trunk provisioning,
// call placement with answer detection, and idempotent room teardown.
package telephony

import "time"

// TrunkConfig describes an outbound SIP trunk.
type TrunkConfig struct {
	Name         string
	Address      string
	CallerNumber string
	Username     string
	Password     string
}

// DialParams describes a single outbound call attempt.
type DialParams struct {
	TrunkID             string
	CallerNumber        string
	CalleeNumber        string
	RoomName            string
	ParticipantIdentity string
	WaitUntilAnswered   time.Duration
}

// Participant is the answered remote party.
type Participant struct {
	CallSID    string
	Identity   string
	RoomName   string
	AnsweredAt time.Time
}

// Call status values reported by the carrier.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// DefaultAnswerWait bounds how long a dial waits for the callee to pick up.
const DefaultAnswerWait = 45 * time.Second

func terminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}
