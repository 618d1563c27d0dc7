// Package model holds the shared data types for the sync core: the
// Transaction a user's mutation is captured as, its conflict-detection
// Metadata, and the small enums (Status, Priority, Type) that constrain
// both.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a Transaction's position in the queue state machine.
type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusSynced    Status = "synced"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Priority is an ordering tiebreaker within equal timestamps; otherwise
// purely informational.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Type classifies a Transaction's payload action by substring match on the
// lowercased action string.
type Type string

const (
	TypeCreate Type = "create"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
	TypeCustom Type = "custom"
)

// ClassifyType infers a Type from a raw action string.
func ClassifyType(action string) Type {
	lower := strings.ToLower(action)
	switch {
	case strings.Contains(lower, "create"):
		return TypeCreate
	case strings.Contains(lower, "update"):
		return TypeUpdate
	case strings.Contains(lower, "delete"):
		return TypeDelete
	default:
		return TypeCustom
	}
}

// transitions is the authoritative state-machine table, kept explicit
// rather than scattered across conditionals. Keys are the current status;
// values are the set of statuses reachable in one UpdateStatus/retry/cancel
// call.
var transitions = map[Status]map[Status]bool{
	StatusNew:       {StatusPending: true, StatusCancelled: true},
	StatusPending:   {StatusSyncing: true, StatusCancelled: true},
	StatusSyncing:   {StatusSynced: true, StatusFailed: true},
	StatusFailed:    {StatusPending: true}, // retry
	StatusSynced:    {},                    // terminal
	StatusCancelled: {},                    // terminal
}

// CanTransition reports whether moving from `from` to `to` is legal per the
// state machine above.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Payload is the opaque, canonically serializable body of a mutation. It is
// represented as a struct with an opaque Data field rather than a raw byte
// envelope so metadata generation can hash it directly.
type Payload struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Data     any    `json:"data"`
}

// Transaction is a single unit of intent to mutate a server-side resource.
type Transaction struct {
	ID       string `json:"id"`
	Payload  Payload `json:"payload"`
	Status   Status  `json:"status"`
	Type     Type    `json:"type"`
	Priority Priority `json:"priority"`

	CreatedAt        time.Time  `json:"createdAt"`
	QueuedAt         time.Time  `json:"queuedAt"`
	SyncStartedAt    *time.Time `json:"syncStartedAt,omitempty"`
	SyncCompletedAt  *time.Time `json:"syncCompletedAt,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	LastError           string `json:"lastError,omitempty"`
	ServerTransactionID string `json:"serverTransactionId,omitempty"`

	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`

	RelatedTransactionIDs []string `json:"relatedTransactionIds,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// NewID returns a collision-resistant, client-generated transaction id.
func NewID() string {
	return uuid.NewString()
}

// EnqueueOptions customizes Transaction creation at enqueue time.
type EnqueueOptions struct {
	Priority              Priority
	MaxAttempts           int
	UserID                string
	DeviceID              string
	RelatedTransactionIDs []string
}
