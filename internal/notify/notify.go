// Package notify delivers completion reports to the operator chat. Delivery
// is strictly best-effort: a notification failure never affects task state.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"blastbot/internal/model"
	"blastbot/internal/report"
	logx "blastbot/pkg/logx"
)

type Config struct {
	Token          string
	OperatorChatID int64
}

// Operator pushes run summaries and the report documents to one chat.
type Operator struct {
	bot    *tele.Bot
	chatID tele.ChatID
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Operator, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.OperatorChatID == 0 {
		return nil, errors.New("operator chat id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Operator{bot: b, chatID: tele.ChatID(cfg.OperatorChatID), log: log}, nil
}

// TaskFinished sends the run summary followed by the three report files.
func (o *Operator) TaskFinished(ctx context.Context, task model.Task, rep report.Report) {
	summary := fmt.Sprintf(
		"task %q finished with status %s\ndelivered: %d\nfailed: %d\ntargets: %d",
		task.Name, task.Status, rep.SentCount, rep.FailedCount, task.TotalTargets)
	if _, err := o.bot.Send(o.chatID, summary); err != nil {
		o.log.Warn("operator summary not delivered",
			logx.Int64("task", int64(task.ID)), logx.Err(err))
		return
	}

	stem := fmt.Sprintf("task-%d", task.ID)
	docs := []struct {
		name string
		body []byte
	}{
		{stem + "-delivered.txt", rep.SuccessManifest},
		{stem + "-failed.txt", rep.FailureManifest},
		{stem + "-report.txt", rep.DetailLog},
	}
	for _, d := range docs {
		if len(d.body) == 0 {
			continue
		}
		doc := &tele.Document{
			File:     tele.FromReader(bytes.NewReader(d.body)),
			FileName: d.name,
		}
		if _, err := o.bot.Send(o.chatID, doc); err != nil {
			o.log.Warn("report document not delivered",
				logx.Int64("task", int64(task.ID)),
				logx.String("file", d.name),
				logx.Err(err))
		}
	}
}
