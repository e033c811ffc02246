package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/wsx/internal/models"
)

// Report formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// Report pairs a run with its per-user outcomes.
type Report struct {
	Run      *models.RunJob
	Outcomes []*models.UserOutcome
}

// Counts sums the item tallies of every user.
func (r Report) Counts() models.ItemCounts {
	var total models.ItemCounts
	for _, o := range r.Outcomes {
		total = total.Add(o.Counts())
	}
	return total
}

// FormatReport renders r in the named format.
func FormatReport(r Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatText, "txt":
		return ReportToText(r)
	case FormatMarkdown, "md":
		return ReportToMarkdown(r)
	case FormatCSV:
		return ReportToCSV(r)
	default:
		return nil, fmt.Errorf("unsupported report format %q (use text, markdown or csv)", format)
	}
}

// ReportToCSV renders one row per user with columns: Username, Outcome, Applied, Gated, Missing, Failed, Message
func ReportToCSV(r Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Username", "Outcome", "Applied", "Gated", "Missing", "Failed", "Message"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, o := range r.Outcomes {
		c := o.Counts()
		record := []string{
			o.Username(),
			o.Outcome().String(),
			strconv.Itoa(c.Applied),
			strconv.Itoa(c.Gated),
			strconv.Itoa(c.Missing),
			strconv.Itoa(c.Failed),
			o.Message(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ReportToMarkdown renders a run summary followed by a table of users
func ReportToMarkdown(r Report) ([]byte, error) {
	var buf bytes.Buffer

	if run := r.Run; run != nil {
		buf.WriteString(fmt.Sprintf("# %s\n\n", runTitle(run)))
		buf.WriteString(fmt.Sprintf("**Server**: %s\n", run.ServerURL()))
		if run.SnapshotPath() != "" {
			buf.WriteString(fmt.Sprintf("**Snapshot**: %s\n", run.SnapshotPath()))
		}
		buf.WriteString(fmt.Sprintf("**Status**: %s\n", run.Status()))
		buf.WriteString(fmt.Sprintf("**Started**: %s\n", stamp(run.StartedAt())))
		buf.WriteString(fmt.Sprintf("**Elapsed**: %s\n", elapsed(run)))
		if run.ErrorMessage() != "" {
			buf.WriteString(fmt.Sprintf("**Error**: %s\n", run.ErrorMessage()))
		}
		buf.WriteString("\n")
	}

	total := r.Counts()
	buf.WriteString(fmt.Sprintf("**Items**: %d applied, %d gated, %d missing, %d failed\n\n",
		total.Applied, total.Gated, total.Missing, total.Failed))

	buf.WriteString("## Users\n\n")
	buf.WriteString("| User | Outcome | Applied | Gated | Missing | Failed | Message |\n")
	buf.WriteString("|---|---|---:|---:|---:|---:|---|\n")
	for _, o := range r.Outcomes {
		c := o.Counts()
		buf.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %d | %s |\n",
			cell(o.Username()), o.Outcome(), c.Applied, c.Gated, c.Missing, c.Failed, cell(o.Message())))
	}

	return buf.Bytes(), nil
}

// ReportToText renders a run summary followed by aligned user rows
func ReportToText(r Report) ([]byte, error) {
	var buf bytes.Buffer

	if run := r.Run; run != nil {
		buf.WriteString(fmt.Sprintf("%s against %s\n", runTitle(run), run.ServerURL()))
		buf.WriteString(fmt.Sprintf("Status: %s, %d users: %d succeeded, %d skipped, %d failed\n",
			run.Status(), run.UsersTotal(), run.UsersSucceeded(), run.UsersSkipped(), run.UsersFailed()))
		if run.ErrorMessage() != "" {
			buf.WriteString(fmt.Sprintf("Error: %s\n", run.ErrorMessage()))
		}
		buf.WriteString(fmt.Sprintf("Elapsed: %s\n", elapsed(run)))
	}

	if len(r.Outcomes) == 0 {
		return buf.Bytes(), nil
	}
	buf.WriteString("\n")

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tOUTCOME\tAPPLIED\tGATED\tMISSING\tFAILED\tMESSAGE")
	for _, o := range r.Outcomes {
		c := o.Counts()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			o.Username(), o.Outcome(), c.Applied, c.Gated, c.Missing, c.Failed, o.Message())
	}
	if err := tw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	return buf.Bytes(), nil
}

// runTitle names a run by its ledger sequence, or by kind alone when it was never saved.
func runTitle(run *models.RunJob) string {
	if run.Sequence() > 0 {
		return fmt.Sprintf("Run #%d (%s)", run.Sequence(), run.Kind())
	}
	return strings.ToUpper(run.Kind()[:1]) + run.Kind()[1:]
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func elapsed(run *models.RunJob) string {
	if run.StartedAt() == nil || run.CompletedAt() == nil {
		return "-"
	}
	return run.CompletedAt().Sub(*run.StartedAt()).Round(time.Millisecond).String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
