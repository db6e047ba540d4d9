// Package telegram adapts the Bot API to the platform.Client boundary.
//
// The adapter is send-only: it never polls for updates. Identity resolution
// and the delivery variants map onto plain Bot API calls; capabilities the
// Bot API does not offer surface as typed errors the engine already knows
// how to classify.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"blastbot/internal/model"
	"blastbot/internal/platform"
	logx "blastbot/pkg/logx"
)

type Config struct {
	Token string
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, log: log}, nil
}

// ResolveIdentity looks up a normalized identifier: all-digit identifiers
// are treated as chat ids, everything else as a public handle.
func (a *Adapter) ResolveIdentity(ctx context.Context, identifier string) (platform.Identity, error) {
	var (
		chat *tele.Chat
		err  error
	)
	if id, numErr := strconv.ParseInt(identifier, 10, 64); numErr == nil {
		chat, err = a.bot.ChatByID(id)
	} else {
		chat, err = a.bot.ChatByUsername("@" + identifier)
	}
	if err != nil {
		return platform.Identity{}, mapError(err)
	}
	return platform.Identity{
		ID:        chat.ID,
		Handle:    chat.Username,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
	}, nil
}

func (a *Adapter) Send(ctx context.Context, to platform.Identity, msg platform.Message) (platform.Receipt, error) {
	rec := tele.ChatID(to.ID)
	opts := &tele.SendOptions{ParseMode: parseMode(msg.ParseMode)}

	var (
		sent *tele.Message
		err  error
	)
	switch msg.Variant.Kind {
	case model.VariantDirect:
		sent, err = a.sendDirect(rec, msg, opts)
	case model.VariantTemplatedProxy:
		// Proxied templating needs a user-session inline query, which the
		// Bot API cannot issue.
		return platform.Receipt{}, fmt.Errorf("proxy code %s: inline query delivery: %w",
			msg.Variant.ProxyCode, platform.ErrUnsupported)
	case model.VariantChannelForward, model.VariantChannelForwardHidden:
		sent, err = a.sendForward(rec, msg, opts)
	default:
		return platform.Receipt{}, fmt.Errorf("unhandled send variant %s", msg.Variant.Kind)
	}
	if err != nil {
		return platform.Receipt{}, mapError(err)
	}
	return platform.Receipt{MessageID: sent.ID}, nil
}

func (a *Adapter) sendDirect(rec tele.Recipient, msg platform.Message, opts *tele.SendOptions) (*tele.Message, error) {
	switch msg.Variant.MediaKind {
	case model.MediaNone:
		return a.bot.Send(rec, msg.Text, opts)
	case model.MediaImage:
		return a.bot.Send(rec, &tele.Photo{File: mediaFile(msg.Variant.MediaRef), Caption: msg.Text}, opts)
	case model.MediaVideo:
		return a.bot.Send(rec, &tele.Video{File: mediaFile(msg.Variant.MediaRef), Caption: msg.Text}, opts)
	case model.MediaVoice:
		return a.bot.Send(rec, &tele.Voice{File: mediaFile(msg.Variant.MediaRef), Caption: msg.Text}, opts)
	case model.MediaDocument:
		return a.bot.Send(rec, &tele.Document{File: mediaFile(msg.Variant.MediaRef), Caption: msg.Text}, opts)
	default:
		return nil, fmt.Errorf("unhandled media kind %s", msg.Variant.MediaKind)
	}
}

func (a *Adapter) sendForward(rec tele.Recipient, msg platform.Message, opts *tele.SendOptions) (*tele.Message, error) {
	handle, messageID, err := parseSourceRef(msg.Variant.SourceRef)
	if err != nil {
		return nil, err
	}
	chat, err := a.bot.ChatByUsername("@" + handle)
	if err != nil {
		return nil, fmt.Errorf("resolve source channel %s: %w", handle, err)
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chat.ID}
	if msg.Variant.Kind == model.VariantChannelForwardHidden {
		// Copy re-sends the content without the "forwarded from" header.
		return a.bot.Copy(rec, stored, opts)
	}
	return a.bot.Forward(rec, stored, opts)
}

func (a *Adapter) PinMessage(ctx context.Context, to platform.Identity, r platform.Receipt) error {
	stored := tele.StoredMessage{MessageID: strconv.Itoa(r.MessageID), ChatID: to.ID}
	if err := a.bot.Pin(stored); err != nil {
		return mapError(err)
	}
	return nil
}

// DeleteDialog would wipe the conversation on the sender's side, which only
// user sessions can do.
func (a *Adapter) DeleteDialog(ctx context.Context, to platform.Identity) error {
	return fmt.Errorf("delete dialog: %w", platform.ErrUnsupported)
}

// parseSourceRef accepts "https://t.me/<handle>/<id>", "t.me/<handle>/<id>"
// or a bare "<handle>/<id>" pair.
func parseSourceRef(ref string) (handle string, messageID int, err error) {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "@")
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("source reference %q is not <channel>/<message id>", ref)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("source reference %q has a non-numeric message id", ref)
	}
	return parts[0], id, nil
}

func parseMode(mode string) tele.ParseMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "markdown":
		return tele.ModeMarkdown
	case "html":
		return tele.ModeHTML
	default:
		return tele.ModeDefault
	}
}

func mediaFile(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.FromDisk(ref)
}

// mapError folds Bot API errors into the typed taxonomy the engine handles.
func mapError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &platform.RateLimitError{Wait: time.Duration(flood.RetryAfter) * time.Second}
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return &platform.PermanentError{Kind: platform.PermanentBlocked, Msg: err.Error()}
	case errors.Is(err, tele.ErrNotStartedByUser):
		return &platform.PermanentError{Kind: platform.PermanentWriteForbidden, Msg: err.Error()}
	case errors.Is(err, tele.ErrUserIsDeactivated):
		return &platform.PermanentError{Kind: platform.PermanentNotFound, Msg: err.Error()}
	case errors.Is(err, tele.ErrChatNotFound):
		return &platform.PermanentError{Kind: platform.PermanentNotFound, Msg: err.Error()}
	}
	return err
}
