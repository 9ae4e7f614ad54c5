package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/deferrals/internal/deferral"
)

const cliDateLayout = "2006-01-02"

// Previewer computes deferral entries without touching the ledger.
type Previewer interface {
	Preview(ctx context.Context, dir deferral.Direction, settings deferral.Settings, lines []deferral.Line) (deferral.Result, error)
}

// DeferralCLI exposes offline deferral helpers.
type DeferralCLI struct {
	previewer Previewer
}

// NewDeferralCLI constructs the deferral commands.
func NewDeferralCLI(previewer Previewer) (*DeferralCLI, error) {
	if previewer == nil {
		return nil, fmt.Errorf("deferral cli: previewer required")
	}
	return &DeferralCLI{previewer: previewer}, nil
}

// DeferralPreviewOptions defines the flags of the deferral preview command.
type DeferralPreviewOptions struct {
	Direction         string
	Method            string
	Currency          string
	Start             string
	End               string
	Date              string
	Balance           string
	AccountID         int64
	DeferredAccountID int64
	JournalCode       string
	JSONOutput        bool
	Stdout            io.Writer
	Stderr            io.Writer
}

// DeferralPreviewSummary is the JSON payload of deferral preview.
type DeferralPreviewSummary struct {
	Direction  string                `json:"direction"`
	Method     string                `json:"method"`
	Clamped    bool                  `json:"clamped"`
	Abnormal   bool                  `json:"abnormal"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Entries    []DeferralPreviewMove `json:"entries"`
}

// DeferralPreviewMove is one generated entry in the preview output.
type DeferralPreviewMove struct {
	Kind   string `json:"kind"`
	Date   string `json:"date"`
	Ref    string `json:"ref"`
	Amount string `json:"amount"`
}

// PreviewCommand prints the entries a single line would generate. It returns
// 0 on success and 1 on invalid input.
func (c *DeferralCLI) PreviewCommand(ctx context.Context, opts DeferralPreviewOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	fail := func(format string, args ...any) int {
		_, _ = fmt.Fprintf(opts.Stderr, "deferral preview: "+format+"\n", args...)
		return 1
	}

	dir := deferral.Direction(strings.ToLower(strings.TrimSpace(opts.Direction)))
	if dir == "" {
		dir = deferral.DirectionExpense
	}
	if !dir.Valid() {
		return fail("invalid --direction %q (expected expense or revenue)", opts.Direction)
	}
	method := deferral.MethodMonth
	if strings.TrimSpace(opts.Method) != "" {
		parsed, err := deferral.ParseMethod(opts.Method)
		if err != nil {
			return fail("invalid --method %q (expected day, month or full_months)", opts.Method)
		}
		method = parsed
	}
	start, err := time.Parse(cliDateLayout, strings.TrimSpace(opts.Start))
	if err != nil {
		return fail("invalid --start %q (expected YYYY-MM-DD)", opts.Start)
	}
	end, err := time.Parse(cliDateLayout, strings.TrimSpace(opts.End))
	if err != nil {
		return fail("invalid --end %q (expected YYYY-MM-DD)", opts.End)
	}
	posted := start
	if strings.TrimSpace(opts.Date) != "" {
		posted, err = time.Parse(cliDateLayout, strings.TrimSpace(opts.Date))
		if err != nil {
			return fail("invalid --date %q (expected YYYY-MM-DD)", opts.Date)
		}
	}
	balance, err := decimal.NewFromString(strings.TrimSpace(opts.Balance))
	if err != nil {
		return fail("invalid --balance %q", opts.Balance)
	}

	accountID := opts.AccountID
	if accountID <= 0 {
		accountID = 1
	}
	deferredID := opts.DeferredAccountID
	if deferredID <= 0 {
		deferredID = 2
	}
	journal := strings.TrimSpace(opts.JournalCode)
	if journal == "" {
		journal = "MISC"
	}
	settings := deferral.Settings{
		DeferredExpenseAccountID: deferredID,
		DeferredRevenueAccountID: deferredID,
		JournalCode:              journal,
		ExpenseMethod:            method,
		RevenueMethod:            method,
		Currency:                 strings.ToUpper(strings.TrimSpace(opts.Currency)),
	}
	line := deferral.Line{
		ID:             1,
		AccountID:      accountID,
		Balance:        balance,
		StartDate:      start,
		EndDate:        end,
		AccountingDate: posted,
		MoveName:       "PREVIEW",
	}
	result, err := c.previewer.Preview(ctx, dir, settings, []deferral.Line{line})
	if err != nil {
		return fail("%v", err)
	}
	summary := buildPreviewSummary(dir, method, result)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			return fail("encode json: %v", err)
		}
		return 0
	}
	renderPreviewHuman(opts.Stdout, summary)
	return 0
}

func buildPreviewSummary(dir deferral.Direction, method deferral.Method, result deferral.Result) DeferralPreviewSummary {
	summary := DeferralPreviewSummary{
		Direction: string(dir),
		Method:    string(method),
		Entries:   []DeferralPreviewMove{},
	}
	for _, lr := range result.Lines {
		summary.Clamped = summary.Clamped || lr.Clamped
		summary.Abnormal = summary.Abnormal || lr.Abnormal
		if reason, ok := lr.Skipped(); ok {
			summary.SkipReason = string(reason)
		}
		for _, mv := range lr.Moves {
			summary.Entries = append(summary.Entries, DeferralPreviewMove{
				Kind:   string(mv.Kind),
				Date:   mv.Date.Format(cliDateLayout),
				Ref:    mv.Ref,
				Amount: mv.Amount().String(),
			})
		}
	}
	return summary
}

func renderPreviewHuman(out io.Writer, summary DeferralPreviewSummary) {
	_, _ = fmt.Fprintf(out, "Deferral preview (%s, %s)\n", summary.Direction, summary.Method)
	if summary.SkipReason != "" {
		_, _ = fmt.Fprintf(out, "No entries generated: %s\n", summary.SkipReason)
		return
	}
	if summary.Clamped {
		_, _ = fmt.Fprintln(out, "Warning: end date preceded start date and was clamped.")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "KIND\tDATE\tAMOUNT\tREF\t")
	for _, e := range summary.Entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", e.Kind, e.Date, e.Amount, e.Ref)
	}
	_ = tw.Flush()
}
