package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	config "github.com/NordCoder/Deliverus/internal/config/api"
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/NordCoder/Deliverus/internal/repository"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	retryscheduler "github.com/NordCoder/Deliverus/internal/services/retry-scheduler"
	"github.com/NordCoder/Deliverus/internal/services/retry-scheduler/repo"
	"github.com/NordCoder/Deliverus/internal/services/stats"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath   func() string
	daysOld   int
	limit     int
	actorID   string
	fromFlag  string
	toFlag    string
	topN      int
	xlsxPath  string
	verbosity string

	rootCmd = &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Maintenance commands for the notification delivery ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	archiveCmd = &cobra.Command{
		Use:   "archive",
		Short: "Delete sent, delivered and read records older than --days",
		RunE:  runArchive,
	}
	eligibleCmd = &cobra.Command{
		Use:   "eligible",
		Short: "List failed records whose retry backoff has elapsed",
		RunE:  runEligible,
	}
	bulkRetryCmd = &cobra.Command{
		Use:   "bulk-retry [id...]",
		Short: "Move failed records back to pending and enqueue their dispatch events",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBulkRetry,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print delivery statistics, optionally as an xlsx workbook",
		RunE:  runStats,
	}
)

func init() {
	cfgPath = shared.AddConfigFlag(rootCmd, "")
	rootCmd.PersistentFlags().StringVar(&verbosity, "log-level", "warn", "log level")

	archiveCmd.Flags().IntVar(&daysOld, "days", 90, "minimum record age in days (>= 1)")
	eligibleCmd.Flags().IntVar(&limit, "limit", 100, "maximum records to list")
	bulkRetryCmd.Flags().StringVar(&actorID, "actor", "", "actor id recorded in tracking metadata")
	statsCmd.Flags().StringVar(&fromFlag, "from", "", "range start, RFC3339")
	statsCmd.Flags().StringVar(&toFlag, "to", "", "range end, RFC3339")
	statsCmd.Flags().IntVar(&topN, "top", stats.DefaultTopN, "size of the top-N lists")
	statsCmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write the report to this xlsx file instead of stdout")

	rootCmd.AddCommand(archiveCmd, eligibleCmd, bulkRetryCmd, statsCmd)
}

type env struct {
	store  *repository.Bundle
	log    *zap.Logger
	ledger *ledger.Ledger
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgPath())
	if err != nil {
		return nil, err
	}
	lc := cfg.Log.AsLoggerConfig(cfg.App)
	lc.Level = verbosity
	lc.App = "deliverus/ledgerctl"
	l, err := obs.NewLogger(lc)
	if err != nil {
		return nil, err
	}
	store, err := repository.Open(ctx, cfg.Storage.Driver, cfg.DB, l)
	if err != nil {
		return nil, err
	}
	return &env{store: store, log: l, ledger: ledger.New(store.Records, store.Tracking, store.Tx, l)}, nil
}

func (e *env) close() {
	e.store.Close()
	_ = e.log.Sync()
}

func (e *env) scheduler() *retryscheduler.Usecase {
	return retryscheduler.NewUC(e.store.Records, e.ledger, e.store.Tx, repo.OutboxEvents{R: e.store.Outbox}, nil, nil)
}

func runArchive(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.ledger.ArchiveOldLogs(cmd.Context(), daysOld)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records older than %d days\n", n, daysOld)
	return nil
}

func runEligible(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	recs, err := e.scheduler().GetRetryEligible(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), recs)
}

func runBulkRetry(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.scheduler().BulkRetry(cmd.Context(), ids, notification.Actor{Source: notification.SourceCaller, ID: actorID})
	if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
		return perr
	}
	return err
}

func runStats(cmd *cobra.Command, _ []string) error {
	dr, err := parseRange(fromFlag, toFlag)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	rep, err := stats.New(e.store.Stats, nil, 0, nil, e.log).Report(cmd.Context(), dr, topN)
	if err != nil {
		return err
	}
	if xlsxPath == "" {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	data, err := stats.ExportXLSX(rep)
	if err != nil {
		return err
	}
	if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", xlsxPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", xlsxPath)
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("bad id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseRange(from, to string) (notification.DateRange, error) {
	var dr notification.DateRange
	parse := func(s string) (*time.Time, error) {
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t.UTC()
		return &t, nil
	}
	var err error
	if dr.From, err = parse(from); err != nil {
		return dr, err
	}
	if dr.To, err = parse(to); err != nil {
		return dr, err
	}
	return dr, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
