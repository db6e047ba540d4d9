// Package report builds the completion artifacts of a finished task run:
// a success manifest, a failure manifest with categorized reasons, and a
// detailed per-account execution log.
package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"blastbot/internal/classify"
	"blastbot/internal/model"
	"blastbot/internal/store"
	logx "blastbot/pkg/logx"
)

// Report is one task's completion package. The three documents are
// self-contained text files ready for export or operator delivery.
type Report struct {
	TaskID      model.TaskID
	TaskName    string
	GeneratedAt time.Time

	SentCount   int
	FailedCount int

	SuccessManifest []byte
	FailureManifest []byte
	DetailLog       []byte

	AccountStats []AccountStat
}

// AccountStat aggregates one account's contribution to the run.
type AccountStat struct {
	AccountID model.AccountID
	Label     string
	Success   int
	Failed    int
	// Categories histograms the failure categories seen on this account.
	Categories map[string]int
}

// Generator reads a task's targets and audit trail and renders reports.
type Generator struct {
	store *store.Store
	log   logx.Logger
}

func NewGenerator(st *store.Store, log logx.Logger) *Generator {
	return &Generator{store: st, log: log}
}

const previewRunes = 50

// Build assembles the report for a task from its current persisted state.
// It works for finished and in-flight tasks alike; for the latter it is a
// snapshot.
func (g *Generator) Build(ctx context.Context, taskID model.TaskID) (Report, error) {
	task, err := g.store.GetTask(ctx, taskID)
	if err != nil {
		return Report{}, err
	}
	sent, err := g.store.SentTargets(ctx, taskID)
	if err != nil {
		return Report{}, err
	}
	failed, err := g.store.FailedTargets(ctx, taskID)
	if err != nil {
		return Report{}, err
	}
	logs, err := g.store.SendLogsForTask(ctx, taskID)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		TaskID:      task.ID,
		TaskName:    task.Name,
		GeneratedAt: time.Now().UTC(),
		SentCount:   len(sent),
		FailedCount: len(failed),
	}
	rep.AccountStats = g.accountStats(ctx, logs)
	rep.SuccessManifest = renderSuccessManifest(task, sent, rep.GeneratedAt)
	rep.FailureManifest = renderFailureManifest(task, failed, rep.GeneratedAt)
	rep.DetailLog = renderDetailLog(task, rep, logs)

	g.log.Debug("report built",
		logx.Int64("task", int64(taskID)),
		logx.Int("sent", rep.SentCount),
		logx.Int("failed", rep.FailedCount),
		logx.Int("log_entries", len(logs)))
	return rep, nil
}

func (g *Generator) accountStats(ctx context.Context, logs []model.SendLogEntry) []AccountStat {
	byAccount := make(map[model.AccountID]*AccountStat)
	for _, e := range logs {
		st, ok := byAccount[e.AccountID]
		if !ok {
			st = &AccountStat{AccountID: e.AccountID, Categories: make(map[string]int)}
			byAccount[e.AccountID] = st
		}
		if e.Success {
			st.Success++
			continue
		}
		st.Failed++
		cat := e.Category
		if cat == "" {
			cat = string(classify.CategoryUnknown)
		}
		st.Categories[cat]++
	}

	out := make([]AccountStat, 0, len(byAccount))
	for id, st := range byAccount {
		if a, err := g.store.GetAccount(ctx, id); err == nil {
			st.Label = a.Label
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func renderSuccessManifest(task model.Task, sent []model.Target, at time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# delivered targets\n")
	fmt.Fprintf(&b, "# task: %s (id %d)\n", task.Name, task.ID)
	fmt.Fprintf(&b, "# generated: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "# count: %d\n\n", len(sent))
	for _, t := range sent {
		fmt.Fprintln(&b, t.Identifier)
	}
	return b.Bytes()
}

func renderFailureManifest(task model.Task, failed []model.Target, at time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# failed targets\n")
	fmt.Fprintf(&b, "# task: %s (id %d)\n", task.Name, task.ID)
	fmt.Fprintf(&b, "# generated: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "# count: %d\n\n", len(failed))
	for _, t := range failed {
		reason := ""
		if t.ErrorMessage != nil {
			reason = string(classify.Categorize(*t.ErrorMessage))
		}
		fmt.Fprintf(&b, "%s | %s\n", t.Identifier, reason)
	}
	return b.Bytes()
}

func renderDetailLog(task model.Task, rep Report, logs []model.SendLogEntry) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "execution report: %s (task %d)\n", task.Name, task.ID)
	fmt.Fprintf(&b, "generated: %s\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "status: %s\n", task.Status)
	if task.StartedAt != nil {
		fmt.Fprintf(&b, "started: %s\n", task.StartedAt.UTC().Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(&b, "completed: %s\n", task.CompletedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "targets: %d total, %d delivered, %d failed\n",
		task.TotalTargets, rep.SentCount, rep.FailedCount)

	fmt.Fprintf(&b, "\n== account statistics ==\n")
	for _, st := range rep.AccountStats {
		label := st.Label
		if label == "" {
			label = fmt.Sprintf("account %d", st.AccountID)
		}
		fmt.Fprintf(&b, "%s: %d delivered, %d failed\n", label, st.Success, st.Failed)
		cats := make([]string, 0, len(st.Categories))
		for c := range st.Categories {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(&b, "    %s: %d\n", c, st.Categories[c])
		}
	}

	fmt.Fprintf(&b, "\n== attempt log ==\n")
	for _, e := range logs {
		mark := "ok  "
		detail := preview(e.MessageText)
		if !e.Success {
			mark = "fail"
			detail = e.Category
			if e.ErrorMessage != nil {
				detail = fmt.Sprintf("%s (%s)", e.Category, preview(*e.ErrorMessage))
			}
		}
		fmt.Fprintf(&b, "%s %s account=%d target=%d %s\n",
			e.SentAt.UTC().Format("2006-01-02 15:04:05"), mark, e.AccountID, e.TargetID, detail)
	}
	return b.Bytes()
}

func preview(s string) string {
	rs := []rune(s)
	if len(rs) <= previewRunes {
		return s
	}
	return string(rs[:previewRunes]) + "..."
}
