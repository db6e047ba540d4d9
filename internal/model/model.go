// Package model holds the persistent entities of the outreach engine:
// sending accounts, tasks, per-task targets, and the append-only send log.
//
// Identifiers are typed so a TaskID can never be passed where an AccountID
// is expected. Statuses and the send variant are closed enums; the zero
// value of each enum is its natural default.
package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

type (
	AccountID int64
	TaskID    int64
	TargetID  int64
)

// AccountStatus tracks the usability of a sending identity.
//
// An account never heals from Limited or Banned on its own; an operator or
// an external health check has to set it back to Active.
type AccountStatus int

const (
	AccountActive AccountStatus = iota
	AccountLimited
	AccountBanned
	AccountInactive
)

var accountStatusNames = map[AccountStatus]string{
	AccountActive:   "active",
	AccountLimited:  "limited",
	AccountBanned:   "banned",
	AccountInactive: "inactive",
}

func (s AccountStatus) String() string {
	if n, ok := accountStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("account_status(%d)", int(s))
}

func ParseAccountStatus(raw string) (AccountStatus, error) {
	for s, n := range accountStatusNames {
		if n == raw {
			return s, nil
		}
	}
	return AccountActive, fmt.Errorf("unknown account status %q", raw)
}

func (s AccountStatus) Value() (driver.Value, error) { return s.String(), nil }

func (s *AccountStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseAccountStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TaskStatus is the task lifecycle state machine:
// pending -> running -> {paused | completed | failed}, paused -> running.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskPaused
	TaskCompleted
	TaskFailed
)

var taskStatusNames = map[TaskStatus]string{
	TaskPending:   "pending",
	TaskRunning:   "running",
	TaskPaused:    "paused",
	TaskCompleted: "completed",
	TaskFailed:    "failed",
}

func (s TaskStatus) String() string {
	if n, ok := taskStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("task_status(%d)", int(s))
}

func ParseTaskStatus(raw string) (TaskStatus, error) {
	for s, n := range taskStatusNames {
		if n == raw {
			return s, nil
		}
	}
	return TaskPending, fmt.Errorf("unknown task status %q", raw)
}

func (s TaskStatus) Value() (driver.Value, error) { return s.String(), nil }

func (s *TaskStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseTaskStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// VariantKind selects the delivery mechanism for a task's message.
type VariantKind int

const (
	// VariantDirect composes the message from the task template and sends
	// it, optionally with an attached media file.
	VariantDirect VariantKind = iota
	// VariantTemplatedProxy delegates message construction to an external
	// templating service identified by an opaque code.
	VariantTemplatedProxy
	// VariantChannelForward forwards a referenced source message, keeping
	// the origin visible.
	VariantChannelForward
	// VariantChannelForwardHidden re-sends the referenced source content
	// without the origin attribution.
	VariantChannelForwardHidden
)

var variantKindNames = map[VariantKind]string{
	VariantDirect:               "direct",
	VariantTemplatedProxy:       "templated_proxy",
	VariantChannelForward:       "channel_forward",
	VariantChannelForwardHidden: "channel_forward_hidden",
}

func (k VariantKind) String() string {
	if n, ok := variantKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("variant_kind(%d)", int(k))
}

func ParseVariantKind(raw string) (VariantKind, error) {
	for k, n := range variantKindNames {
		if n == raw {
			return k, nil
		}
	}
	return VariantDirect, fmt.Errorf("unknown send variant %q", raw)
}

func (k VariantKind) Value() (driver.Value, error) { return k.String(), nil }

func (k *VariantKind) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseVariantKind(raw)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MediaKind qualifies the attachment of a direct send.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaImage
	MediaVideo
	MediaVoice
	MediaDocument
)

var mediaKindNames = map[MediaKind]string{
	MediaNone:     "none",
	MediaImage:    "image",
	MediaVideo:    "video",
	MediaVoice:    "voice",
	MediaDocument: "document",
}

func (k MediaKind) String() string {
	if n, ok := mediaKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("media_kind(%d)", int(k))
}

func ParseMediaKind(raw string) (MediaKind, error) {
	for k, n := range mediaKindNames {
		if n == raw {
			return k, nil
		}
	}
	return MediaNone, fmt.Errorf("unknown media kind %q", raw)
}

func (k MediaKind) Value() (driver.Value, error) { return k.String(), nil }

func (k *MediaKind) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseMediaKind(raw)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// SendVariant is the tagged union describing how a task delivers its
// message. Only the fields relevant to Kind are meaningful:
//
//	Direct:               MediaKind, MediaRef (empty MediaRef = text only)
//	TemplatedProxy:       ProxyCode
//	ChannelForward*:      SourceRef
type SendVariant struct {
	Kind      VariantKind `db:"variant_kind"`
	MediaKind MediaKind   `db:"media_kind"`
	MediaRef  string      `db:"media_ref"`
	ProxyCode string      `db:"proxy_code"`
	SourceRef string      `db:"source_ref"`
}

// Account is one sending identity with its own daily quota and rate-limit
// exposure. CredentialRef is opaque; the credential import pipeline owns it.
type Account struct {
	ID            AccountID     `db:"id"`
	Label         string        `db:"label"`
	CredentialRef string        `db:"credential_ref"`
	Status        AccountStatus `db:"status"`
	DailyQuota    int           `db:"daily_quota"`
	SentToday     int           `db:"sent_today"`
	TotalSent     int           `db:"total_sent"`
	LastUsedAt    *time.Time    `db:"last_used_at"`
	CreatedAt     time.Time     `db:"created_at"`
}

// QuotaExhausted reports whether the account has no sends left today.
func (a Account) QuotaExhausted() bool { return a.SentToday >= a.DailyQuota }

// Task is one outreach campaign.
type Task struct {
	ID              TaskID     `db:"id"`
	Name            string     `db:"name"`
	Status          TaskStatus `db:"status"`
	MessageTemplate string     `db:"message_template"`
	ParseMode       string     `db:"parse_mode"`
	SendVariant
	MinInterval     int  `db:"min_interval"` // seconds
	MaxInterval     int  `db:"max_interval"` // seconds
	ThreadCount     int  `db:"thread_count"`
	PinMessage      bool `db:"pin_message"`
	DeleteDialog    bool `db:"delete_dialog"`
	TotalTargets    int  `db:"total_targets"`
	SentCount       int  `db:"sent_count"`
	FailedCount     int  `db:"failed_count"`

	CreatedAt   time.Time  `db:"created_at"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// Target is one outreach destination within a task. Identifier is either a
// handle (sigil stripped, lower-cased) or a numeric platform reference.
type Target struct {
	ID           TargetID   `db:"id"`
	TaskID       TaskID     `db:"task_id"`
	Identifier   string     `db:"identifier"`
	FirstName    string     `db:"first_name"`
	LastName     string     `db:"last_name"`
	IsSent       bool       `db:"is_sent"`
	IsValid      bool       `db:"is_valid"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	SentAt       *time.Time `db:"sent_at"`
}

// SendLogEntry is an append-only audit record of one delivery attempt.
type SendLogEntry struct {
	ID           int64     `db:"id"`
	TaskID       TaskID    `db:"task_id"`
	AccountID    AccountID `db:"account_id"`
	TargetID     TargetID  `db:"target_id"`
	MessageText  string    `db:"message_text"`
	Success      bool      `db:"success"`
	ErrorMessage *string   `db:"error_message"`
	Category     string    `db:"category"`
	SentAt       time.Time `db:"sent_at"`
}

// Progress is a point-in-time view of a task used by the control surface.
type Progress struct {
	TaskID  TaskID
	Name    string
	Status  TaskStatus
	Total   int
	Sent    int
	Failed  int
	Pending int
	Percent float64
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("cannot scan %T into enum", src)
	}
}
