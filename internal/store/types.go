package store

import "database/sql"

// TaskMessage is the durable record of one author utterance in one task
// thread.
type TaskMessage struct {
	ID               string
	TaskID           string
	AuthorSessionKey string
	Content          string
	Mentions         []string
	CreatedAt        int64 // epoch milliseconds
}

// AgentAlias maps a human-typed handle to a canonical session key.
type AgentAlias struct {
	Alias      string
	SessionKey string
	CreatedAt  int64
	UpdatedAt  int64
}

// Notification is one delivery obligation produced by fan-out.
type Notification struct {
	ID                string
	MessageID         string
	TaskID            string
	MentionAlias      string
	TargetSessionKey  string
	State             State
	Attempts          int
	RetryAt           *int64
	NextCheckAt       *int64
	SLADueAt          *int64
	ActorSessionKey   *string
	BusyReason        *string
	ETAAt             *int64
	Error             *string
	CreatedAt         int64
	UpdatedAt         int64
	QueuedAt          *int64
	DeliveringAt      *int64
	DeliveredAt       *int64
	SeenAt            *int64
	AcceptedAt        *int64
	InProgressAt      *int64
	CompletedAt       *int64
	DeferredBusyAt    *int64
	FailedAt          *int64
	TimeoutAt         *int64
	ReassignedAt      *int64
	DeclinedAt        *int64
	DeadLetterAt      *int64
}

// NotificationWithMessage is a Notification joined with the text and
// creation time of the message that produced it.
type NotificationWithMessage struct {
	Notification
	MessageContent   string
	MessageCreatedAt int64
}

// ThreadReadState is a per-(task, viewer) unread cursor.
type ThreadReadState struct {
	TaskID             string
	SessionKey         string
	LastReadMessageID  *string
	LastReadAt         *int64
	UpdatedAt          int64
}

// ResolvedMention pairs a mention token with the session key it resolved to.
type ResolvedMention struct {
	Alias      string
	SessionKey string
}

// ListNotificationsFilter filters listNotifications.
type ListNotificationsFilter struct {
	TaskID string
	State  State
	Limit  int
}

// TransitionParams carries the arguments to transitionNotificationState.
// Pointer fields distinguish "omitted" (nil — preserve prior value) from
// "explicitly set" (non-nil — the pointed-to value is written, even if it is
// empty or zero). Only retry_at and error can be set back to NULL, through
// ClearRetryAt and ClearError; the other nullable fields have no way to be
// cleared once set.
type TransitionParams struct {
	ID              string
	State           State
	ExpectedState   *State // if set, the transition only applies if the row's current state equals this; otherwise TransitionInvalid (a lost race)
	Attempts        *int
	RetryAt         *int64
	ClearRetryAt    bool
	Error           *string
	ClearError      bool
	ActorSessionKey *string
	BusyReason      *string
	ETAAt           *int64
	NextCheckAt     *int64
	SLADueAt        *int64
	Force           bool
}

// TransitionStatus tags the result of a transition attempt without
// conflating it with ambient exceptions.
type TransitionStatus int

const (
	// TransitionUpdated means the row was found and moved to the new state
	// (or the call was a same-state no-op).
	TransitionUpdated TransitionStatus = iota
	// TransitionNotFound means no notification with the given id exists.
	TransitionNotFound
	// TransitionInvalid means the from->to pair is not legal and force
	// was not set, or the row's state was not ExpectedState, or another
	// writer changed the row's state before the update (a lost race).
	TransitionInvalid
)

// TransitionResult is the tagged outcome of transitionNotificationState.
type TransitionResult struct {
	Status       TransitionStatus
	Notification *Notification
}

// strPtr/int64Ptr and nullStr/nullInt64 convert between sql.Null* and *T, used by
// the row-scanning helpers in messages.go/notifications.go/readstate.go.

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
