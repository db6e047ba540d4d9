// Package platform defines the boundary to the messaging platform client.
//
// The engine never talks wire protocol; it resolves identities and sends
// composed messages through a Client and classifies the errors coming back.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blastbot/internal/model"
)

// Identity is a resolved outreach destination.
type Identity struct {
	ID        int64
	Handle    string // public handle without sigil, may be empty
	FirstName string
	LastName  string
}

// Message is the fully prepared payload for one send. Text is the composed
// message for direct sends; for forward and proxy variants the adapter
// follows Variant instead.
type Message struct {
	Variant   model.SendVariant
	Text      string
	ParseMode string // "", "markdown" or "html"
}

// Receipt references a delivered message.
type Receipt struct {
	MessageID int
}

// Client is the external platform collaborator. PinMessage and DeleteDialog
// are optional capabilities; adapters that cannot provide them return
// ErrUnsupported.
type Client interface {
	ResolveIdentity(ctx context.Context, identifier string) (Identity, error)
	Send(ctx context.Context, to Identity, msg Message) (Receipt, error)
	PinMessage(ctx context.Context, to Identity, r Receipt) error
	DeleteDialog(ctx context.Context, to Identity) error
}

// ErrUnsupported marks an optional capability the adapter does not provide.
var ErrUnsupported = errors.New("capability not supported by platform adapter")

// PermanentKind classifies failures after which retrying the same target is
// pointless.
type PermanentKind int

const (
	PermanentUnknown PermanentKind = iota
	PermanentPrivacyRestricted
	PermanentBlocked
	PermanentWriteForbidden
	PermanentNotMutualContact
	PermanentNotFound
)

func (k PermanentKind) String() string {
	switch k {
	case PermanentPrivacyRestricted:
		return "privacy_restricted"
	case PermanentBlocked:
		return "blocked"
	case PermanentWriteForbidden:
		return "write_forbidden"
	case PermanentNotMutualContact:
		return "not_mutual_contact"
	case PermanentNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// PermanentError is a target-level failure; the target is never retried for
// this task.
type PermanentError struct {
	Kind PermanentKind
	Msg  string
}

func (e *PermanentError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

// RateLimitError is an account-level throttle signal. Wait is the
// platform-mandated pause (0 when the platform gave no duration, e.g. an
// aggregate flood signal).
type RateLimitError struct {
	Wait  time.Duration
	Flood bool // aggregate flood signal rather than an explicit wait
}

func (e *RateLimitError) Error() string {
	if e.Flood {
		return "peer flood: too many requests"
	}
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// AsPermanent unwraps err into a PermanentError, if it is one.
func AsPermanent(err error) (*PermanentError, bool) {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsRateLimit unwraps err into a RateLimitError, if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
