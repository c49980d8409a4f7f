package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/close"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/reconciliation"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// NumberingPort is the numbering surface used by the CLI.
type NumberingPort interface {
	Preview(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType) (numbering.Preview, error)
	CheckIntegrity(ctx context.Context, orgID uuid.UUID, docType numbering.DocumentType, year *int) ([]numbering.IntegrityIssue, error)
}

// LedgerPort is the ledger surface used by the CLI.
type LedgerPort interface {
	CheckIntegrity(ctx context.Context, orgID uuid.UUID, year int) ([]ledger.IntegrityIssue, error)
}

// ClosePort is the fiscal year surface used by the CLI.
type ClosePort interface {
	ValidatePeriod(ctx context.Context, in close.ValidateInput) (int, error)
	CloseFiscalYear(ctx context.Context, in close.CloseInput) (close.Closing, error)
}

// AutoMatcher runs a synchronous reconciliation pass.
type AutoMatcher interface {
	AutoMatch(ctx context.Context, in reconciliation.AutoMatchInput) (reconciliation.AutoMatchResult, error)
}

// JobsPort enqueues and inspects background jobs.
type JobsPort interface {
	Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]QueueStats, error)
}

// Runtime is the set of backends a command may use. Close releases them.
type Runtime struct {
	Numbering      NumberingPort
	Ledger         LedgerPort
	Close          ClosePort
	Reconciliation AutoMatcher
	Jobs           JobsPort
	Release        func()
}

// Opener builds the runtime on demand so --help never touches the database.
type Opener func(ctx context.Context) (*Runtime, error)

// ErrIntegrityIssues makes the integrity command exit non-zero when findings exist.
var ErrIntegrityIssues = errors.New("integrity issues found")

type rootOptions struct {
	jsonOutput bool
	orgID      string
	actorID    string
}

// NewRootCommand assembles the ledgerctl command tree.
func NewRootCommand(open Opener, now func() time.Time) *cobra.Command {
	if now == nil {
		now = time.Now
	}
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate document numbering, the ledger, fiscal closes and reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().StringVar(&opts.orgID, "org", "", "organization id")
	root.PersistentFlags().StringVar(&opts.actorID, "actor", "", "acting user id recorded in audit logs")

	root.AddCommand(
		newIntegrityCommand(open, opts, now),
		newPreviewCommand(open, opts),
		newValidatePeriodCommand(open, opts),
		newCloseYearCommand(open, opts),
		newAutoMatchCommand(open, opts),
		newJobsCommand(open, opts, now),
	)
	return root
}

func (o *rootOptions) organization() (uuid.UUID, error) {
	if o.orgID == "" {
		return uuid.Nil, errors.New("--org is required")
	}
	id, err := uuid.Parse(o.orgID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--org: %w", err)
	}
	return id, nil
}

func (o *rootOptions) actor() (uuid.UUID, error) {
	if o.actorID == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(o.actorID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--actor: %w", err)
	}
	return id, nil
}

func withRuntime(cmd *cobra.Command, open Opener, fn func(*Runtime) error) error {
	rt, err := open(cmd.Context())
	if err != nil {
		return err
	}
	if rt.Release != nil {
		defer rt.Release()
	}
	return fn(rt)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type integrityReport struct {
	Year      int                        `json:"year"`
	Numbering []numbering.IntegrityIssue `json:"numbering"`
	Ledger    []ledger.IntegrityIssue    `json:"ledger"`
}

func newIntegrityCommand(open Opener, opts *rootOptions, now func() time.Time) *cobra.Command {
	var (
		year    int
		docType string
	)
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Report numbering gaps, duplicates and unbalanced postings",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := opts.organization()
			if err != nil {
				return err
			}
			if year == 0 {
				year = now().Year()
			}
			return withRuntime(cmd, open, func(rt *Runtime) error {
				report := integrityReport{Year: year}
				numberIssues, err := rt.Numbering.CheckIntegrity(cmd.Context(), orgID, numbering.DocumentType(docType), &year)
				if err != nil {
					return fmt.Errorf("numbering integrity: %w", err)
				}
				ledgerIssues, err := rt.Ledger.CheckIntegrity(cmd.Context(), orgID, year)
				if err != nil {
					return fmt.Errorf("ledger integrity: %w", err)
				}
				report.Numbering = numberIssues
				report.Ledger = ledgerIssues

				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SCOPE\tKIND\tDETAIL")
					for _, issue := range numberIssues {
						if issue.Kind == numbering.IssueGap {
							fmt.Fprintf(tw, "numbering\t%s\t%d..%d\n", issue.Kind, issue.SequenceNumber, issue.Through)
							continue
						}
						fmt.Fprintf(tw, "numbering\t%s\t%d (x%d)\n", issue.Kind, issue.SequenceNumber, issue.Occurrences)
					}
					for _, issue := range ledgerIssues {
						fmt.Fprintf(tw, "ledger\t%s\t%s %s %s\n", issue.Kind, issue.SourceType, issue.SourceID, issue.Detail)
					}
					if err := tw.Flush(); err != nil {
						return err
					}
				}
				if len(numberIssues)+len(ledgerIssues) > 0 {
					return ErrIntegrityIssues
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "fiscal year (defaults to the current year)")
	cmd.Flags().StringVar(&docType, "type", string(numbering.DocumentInvoice), "document type")
	return cmd
}

func newPreviewCommand(open Opener, opts *rootOptions) *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the next document number without consuming it",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := opts.organization()
			if err != nil {
				return err
			}
			return withRuntime(cmd, open, func(rt *Runtime) error {
				preview, err := rt.Numbering.Preview(cmd.Context(), orgID, numbering.DocumentType(docType))
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"value":           preview.Value,
						"sequence_number": preview.SequenceNumber,
						"year":            preview.Year,
					})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), preview.Value)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", string(numbering.DocumentInvoice), "document type")
	return cmd
}

func newValidatePeriodCommand(open Opener, opts *rootOptions) *cobra.Command {
	var year, period int
	cmd := &cobra.Command{
		Use:   "validate-period",
		Short: "Mark every journal entry of a period as validated",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := opts.organization()
			if err != nil {
				return err
			}
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			return withRuntime(cmd, open, func(rt *Runtime) error {
				count, err := rt.Close.ValidatePeriod(cmd.Context(), close.ValidateInput{
					OrganizationID: orgID,
					Year:           year,
					Period:         period,
					ActorID:        actor,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"validated": count})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "validated %d entries for %d-%02d\n", count, year, period)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "fiscal year")
	cmd.Flags().IntVar(&period, "period", 0, "accounting period (1-12)")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func newCloseYearCommand(open Opener, opts *rootOptions) *cobra.Command {
	var (
		year    int
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "close-year",
		Short: "Post the closing entry and lock a fiscal year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("closing a fiscal year is irreversible, pass --yes to proceed")
			}
			orgID, err := opts.organization()
			if err != nil {
				return err
			}
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			return withRuntime(cmd, open, func(rt *Runtime) error {
				closing, err := rt.Close.CloseFiscalYear(cmd.Context(), close.CloseInput{
					OrganizationID: orgID,
					Year:           year,
					ActorID:        actor,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"fiscal_year":      closing.Closure.FiscalYear,
						"result":           closing.Closure.Result.StringFixed(2),
						"revenue":          closing.Revenue.StringFixed(2),
						"expenses":         closing.Expenses.StringFixed(2),
						"closing_entry_id": closing.Closure.ClosingEntryID,
					})
				}
				label := "profit"
				if !closing.Profit() {
					label = "loss"
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "closed %d with %s %s\n", year, label, closing.Closure.Result.Abs().StringFixed(2))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "fiscal year")
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the close")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

type autoMatchFlags struct {
	account string
	days    int
	amount  string
	async   bool
}

func (f autoMatchFlags) payload(cmd *cobra.Command, orgID, actor uuid.UUID) (jobs.AutoMatchPayload, error) {
	payload := jobs.AutoMatchPayload{OrganizationID: orgID, ActorID: actor}
	if f.account != "" {
		id, err := uuid.Parse(f.account)
		if err != nil {
			return payload, fmt.Errorf("--account: %w", err)
		}
		payload.BankAccountID = &id
	}
	if cmd.Flags().Changed("days") {
		days := f.days
		payload.ToleranceDays = &days
	}
	if f.amount != "" {
		amount, err := decimal.NewFromString(f.amount)
		if err != nil {
			return payload, fmt.Errorf("--amount: %w", err)
		}
		payload.ToleranceAmount = &amount
	}
	return payload, nil
}

func newAutoMatchCommand(open Opener, opts *rootOptions) *cobra.Command {
	flags := autoMatchFlags{}
	cmd := &cobra.Command{
		Use:   "automatch",
		Short: "Match pending bank transactions against open documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := opts.organization()
			if err != nil {
				return err
			}
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			payload, err := flags.payload(cmd, orgID, actor)
			if err != nil {
				return err
			}
			return withRuntime(cmd, open, func(rt *Runtime) error {
				if flags.async {
					info, err := rt.Jobs.Trigger(cmd.Context(), jobs.TaskReconcileAutoMatch, TriggerOptions{Payload: payload})
					if err != nil {
						return err
					}
					return printEnqueued(cmd, opts, jobs.TaskReconcileAutoMatch, info)
				}
				res, err := rt.Reconciliation.AutoMatch(cmd.Context(), reconciliation.AutoMatchInput{
					OrganizationID:  payload.OrganizationID,
					BankAccountID:   payload.BankAccountID,
					ToleranceDays:   payload.ToleranceDays,
					ToleranceAmount: payload.ToleranceAmount,
					ActorID:         payload.ActorID,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]int{
						"matched":   len(res.Matched),
						"unmatched": len(res.Unmatched),
					})
				}
				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TRANSACTION\tTYPE\tDOCUMENT\tDAYS")
				for _, m := range res.Matched {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.TransactionID, m.Type, m.DocumentNumber, m.DateDiffDays)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "matched %d, unmatched %d\n", len(res.Matched), len(res.Unmatched))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&flags.account, "account", "", "restrict to one bank account")
	cmd.Flags().IntVar(&flags.days, "days", 0, "date tolerance in days")
	cmd.Flags().StringVar(&flags.amount, "amount", "", "amount tolerance")
	cmd.Flags().BoolVar(&flags.async, "async", false, "enqueue the pass on the worker instead of running it")
	return cmd
}

func printEnqueued(cmd *cobra.Command, opts *rootOptions, task string, info *asynq.TaskInfo) error {
	id := ""
	if info != nil {
		id = info.ID
	}
	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]string{"task": task, "id": id})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s %s\n", task, id)
	return err
}

func newJobsCommand(open Opener, opts *rootOptions, now func() time.Time) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	var year int
	trigger := &cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue an integrity scan",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskNumberingIntegrity, jobs.TaskLedgerIntegrity},
		RunE: func(cmd *cobra.Command, args []string) error {
			if year == 0 {
				year = now().Year()
			}
			return withRuntime(cmd, open, func(rt *Runtime) error {
				info, err := rt.Jobs.Trigger(cmd.Context(), args[0], TriggerOptions{Year: year})
				if err != nil {
					return err
				}
				return printEnqueued(cmd, opts, args[0], info)
			})
		},
	}
	trigger.Flags().IntVar(&year, "year", 0, "fiscal year (defaults to the current year)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(rt *Runtime) error {
				queues, err := rt.Jobs.InspectQueues(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), queues)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tFAILED")
				for _, q := range queues {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Failed)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}
