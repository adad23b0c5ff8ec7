// Package digest implements the daily aggregation summary (SPEC_FULL.md
// supplement 3): a robfig/cron/v3 job that reads the aggregation keys
// §4.11/§4.12 maintain and emails a summary. Grounded directly on the
// teacher's ReportServersInformation cronjob in cmd/server-service/main.go
// and internal/server-service/service/server_service.go's text/HTML body
// generation, generalized from server uptime records to check aggregates.
// This package only reads aggregation state — internal/aggregate.Prune
// remains the only writer that deletes aggregate keys.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"eventserver/pkg/mail"
)

// Store is the subset of store.Store the digest needs to read
// aggregation state.
type Store interface {
	SMembers(ctx context.Context, key string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Logger is the narrow logging surface the digest needs.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

type checkSummary struct {
	Name     string
	OK       int
	Warning  int
	Critical int
	Unknown  int
	Total    int
}

type Digest struct {
	store  Store
	mailer mail.Sender
	to     []string
	log    Logger
	now    func() time.Time
	cron   *cron.Cron
}

func New(store Store, mailer mail.Sender, to []string, log Logger) *Digest {
	return &Digest{store: store, mailer: mailer, to: to, log: log, now: time.Now}
}

// Start schedules RunDaily on the given cron expression (default
// "0 0 * * *", i.e. @daily) and begins running it in the background.
func (d *Digest) Start(expr string) error {
	if expr == "" {
		expr = "0 0 * * *"
	}
	d.cron = cron.New()
	_, err := d.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.RunDaily(ctx); err != nil {
			d.log.Errorw("daily aggregation digest failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("digest.Start: %w", err)
	}
	d.cron.Start()
	return nil
}

func (d *Digest) Stop() {
	if d.cron != nil {
		d.cron.Stop()
	}
}

// RunDaily summarizes every check's aggregation rollups from the last 24
// hours and emails the result. Safe to call directly (e.g. from an admin
// trigger) as well as from the scheduled cron job.
func (d *Digest) RunDaily(ctx context.Context) error {
	end := d.now()
	start := end.Add(-24 * time.Hour)

	names, err := d.store.SMembers(ctx, "aggregates")
	if err != nil {
		return fmt.Errorf("digest.RunDaily: %w", err)
	}

	var summaries []checkSummary
	for _, name := range names {
		summary, err := d.summarizeCheck(ctx, name, start, end)
		if err != nil {
			d.log.Errorw("digest failed to summarize check", "check", name, "error", err)
			continue
		}
		if summary.Total > 0 {
			summaries = append(summaries, summary)
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	if len(d.to) == 0 {
		d.log.Infow("digest has no recipients configured, skipping send")
		return nil
	}

	subject := fmt.Sprintf("Aggregation digest from %s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	if err := d.mailer.SendMail(d.to, subject, htmlBody(summaries, start, end), textBody(summaries, start, end), nil); err != nil {
		return fmt.Errorf("digest.RunDaily: %w", err)
	}
	return nil
}

func (d *Digest) summarizeCheck(ctx context.Context, name string, start, end time.Time) (checkSummary, error) {
	issuedRaw, err := d.store.SMembers(ctx, "aggregates:"+name)
	if err != nil {
		return checkSummary{}, err
	}

	summary := checkSummary{Name: name}
	for _, v := range issuedRaw {
		issued, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		ts := time.Unix(issued, 0)
		if ts.Before(start) || ts.After(end) {
			continue
		}
		counts, err := d.store.HGetAll(ctx, fmt.Sprintf("aggregate:%s:%d", name, issued))
		if err != nil {
			return checkSummary{}, err
		}
		summary.OK += atoi(counts["ok"])
		summary.Warning += atoi(counts["warning"])
		summary.Critical += atoi(counts["critical"])
		summary.Unknown += atoi(counts["unknown"])
		summary.Total += atoi(counts["total"])
	}
	return summary, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func textBody(summaries []checkSummary, start, end time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- AGGREGATION DIGEST (%s to %s) ---\n\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	if len(summaries) == 0 {
		b.WriteString("No aggregated checks in this window.\n")
		return b.String()
	}
	for _, s := range summaries {
		fmt.Fprintf(&b, "%s: total=%d ok=%d warning=%d critical=%d unknown=%d\n",
			s.Name, s.Total, s.OK, s.Warning, s.Critical, s.Unknown)
	}
	return b.String()
}

func htmlBody(summaries []checkSummary, start, end time.Time) string {
	var rows strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&rows,
			`<tr><td style="border:1px solid #ddd;padding:8px;">%s</td><td style="border:1px solid #ddd;padding:8px;">%d</td><td style="border:1px solid #ddd;padding:8px;">%d</td><td style="border:1px solid #ddd;padding:8px;">%d</td><td style="border:1px solid #ddd;padding:8px;">%d</td></tr>`,
			s.Name, s.OK, s.Warning, s.Critical, s.Unknown)
	}
	return fmt.Sprintf(`<body>
<h3>Aggregation digest from %s to %s</h3>
<table style="width:100%%;border-collapse:collapse;">
<tr><th>Check</th><th>OK</th><th>Warning</th><th>Critical</th><th>Unknown</th></tr>
%s
</table>
</body>`, start.Format(time.RFC3339), end.Format(time.RFC3339), rows.String())
}
