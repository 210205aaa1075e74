package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shotty/internal/lifecycle"
	"shotty/internal/listing"
	"shotty/internal/snapshot"
	"shotty/internal/utils"
	"shotty/internal/waiter"
	"shotty/pkg/aws"
	"shotty/pkg/config"
	"shotty/pkg/models"
	"shotty/pkg/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath        string
	profile           string
	region            string
	project           string
	listAll           bool
	waitTimeout       string
	pollInterval      string
	volumeConcurrency int
	runID             string
	verbose           bool
	logLevel          string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "shotty",
		Short:        "EC2 snapshot management tool",
		Long:         "Lists EC2 instances, volumes and snapshots by Project tag and takes consistent snapshots by stopping instances first",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.shotty/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared-config profile (default shotty)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	// snapshots
	var snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Commands for snapshots",
	}
	var listSnapshotsCmd = &cobra.Command{
		Use:   "list",
		Short: "List EC2 snapshots",
		Long:  "List snapshots of every volume, newest first. Without --all only the most recent completed snapshot per volume is shown.",
		RunE:  runListSnapshots,
	}
	addProjectFlag(listSnapshotsCmd)
	listSnapshotsCmd.Flags().BoolVar(&listAll, "all", false, "List all snapshots for each volume, not just the most recent")
	snapshotsCmd.AddCommand(listSnapshotsCmd)

	// volumes
	var volumesCmd = &cobra.Command{
		Use:   "volumes",
		Short: "Commands for volumes",
	}
	var listVolumesCmd = &cobra.Command{
		Use:   "list",
		Short: "List EC2 volumes",
		RunE:  runListVolumes,
	}
	addProjectFlag(listVolumesCmd)
	volumesCmd.AddCommand(listVolumesCmd)

	// instances
	var instancesCmd = &cobra.Command{
		Use:   "instances",
		Short: "Commands for instances",
	}
	var listInstancesCmd = &cobra.Command{
		Use:   "list",
		Short: "List EC2 instances",
		RunE:  runListInstances,
	}
	addProjectFlag(listInstancesCmd)

	var snapshotInstancesCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Create snapshots of all volumes",
		Long:  "Stop each instance, snapshot every volume without a pending snapshot, then start the instance again",
		RunE:  runSnapshotInstances,
	}
	addProjectFlag(snapshotInstancesCmd)
	snapshotInstancesCmd.Flags().StringVar(&waitTimeout, "timeout", "", "Maximum wait for an instance to stop or start (e.g. 10m, 90s)")
	snapshotInstancesCmd.Flags().StringVar(&pollInterval, "poll-interval", "", "Interval between instance state polls (e.g. 5s)")
	snapshotInstancesCmd.Flags().IntVar(&volumeConcurrency, "volume-concurrency", 0, "Concurrent snapshot requests per instance")

	var stopInstancesCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop EC2 instances",
		RunE:  runStopInstances,
	}
	addProjectFlag(stopInstancesCmd)

	var startInstancesCmd = &cobra.Command{
		Use:   "start",
		Short: "Start EC2 instances",
		RunE:  runStartInstances,
	}
	addProjectFlag(startInstancesCmd)

	instancesCmd.AddCommand(listInstancesCmd)
	instancesCmd.AddCommand(snapshotInstancesCmd)
	instancesCmd.AddCommand(stopInstancesCmd)
	instancesCmd.AddCommand(startInstancesCmd)

	// runs
	var runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect past snapshot, stop and start runs",
	}
	var listRunsCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE:  runListRuns,
	}
	var showRunCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the outcome of a stored run",
		RunE:  runShowRun,
	}
	showRunCmd.Flags().StringVarP(&runID, "run-id", "r", "", "Run ID to show (required)")
	if err := showRunCmd.MarkFlagRequired("run-id"); err != nil {
		logrus.Fatal(err)
	}
	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)

	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(volumesCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(runsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func addProjectFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&project, "project", "p", "", "Only resources of this project (tag Project:<name>)")
}

// getLogLevel parses log level string to logrus level
func getLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(getLogLevel(logLevel))
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// loadConfig applies command line overrides on top of file and environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if region != "" {
		cfg.AWS.Region = region
	}
	if waitTimeout != "" {
		if cfg.Snapshot.WaitTimeout, err = utils.ParseDuration(waitTimeout); err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if pollInterval != "" {
		if cfg.Snapshot.PollInterval, err = utils.ParseDuration(pollInterval); err != nil {
			return nil, fmt.Errorf("invalid poll interval: %w", err)
		}
	}
	if volumeConcurrency != 0 {
		cfg.Snapshot.VolumeConcurrency = volumeConcurrency
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getProvider(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*aws.Provider, error) {
	if err := utils.ValidateProjectName(project); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}

	provider, err := aws.NewProvider(cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS provider: %w", err)
	}

	if err := provider.ValidateCredentials(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate AWS credentials: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"profile": cfg.AWS.Profile,
		"region":  provider.Region(),
	}).Debug("AWS provider ready")

	return provider, nil
}

func newLister(cmd *cobra.Command) (*listing.Lister, error) {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	provider, err := getProvider(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return listing.NewLister(provider, cmd.OutOrStdout(), logger), nil
}

func runListSnapshots(cmd *cobra.Command, args []string) error {
	lister, err := newLister(cmd)
	if err != nil {
		return err
	}
	return lister.Snapshots(cmd.Context(), project, listAll)
}

func runListVolumes(cmd *cobra.Command, args []string) error {
	lister, err := newLister(cmd)
	if err != nil {
		return err
	}
	return lister.Volumes(cmd.Context(), project)
}

func runListInstances(cmd *cobra.Command, args []string) error {
	lister, err := newLister(cmd)
	if err != nil {
		return err
	}
	return lister.Instances(cmd.Context(), project)
}

func runSnapshotInstances(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := getProvider(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	w := waiter.NewWaiter(provider, cfg.Snapshot.PollInterval, cfg.Snapshot.WaitTimeout, logger)
	orchestrator := snapshot.NewOrchestrator(provider, w, snapshot.Options{
		Description:       cfg.Snapshot.Description,
		VolumeConcurrency: cfg.Snapshot.VolumeConcurrency,
		Out:               cmd.OutOrStdout(),
	}, logger)

	report, runErr := orchestrator.Run(cmd.Context(), project)
	return finishRun(cmd, cfg, logger, report, runErr)
}

func runStopInstances(cmd *cobra.Command, args []string) error {
	return runLifecycle(cmd, func(c *lifecycle.Commands) (*models.SummaryReport, error) {
		return c.StopAll(cmd.Context(), project)
	})
}

func runStartInstances(cmd *cobra.Command, args []string) error {
	return runLifecycle(cmd, func(c *lifecycle.Commands) (*models.SummaryReport, error) {
		return c.StartAll(cmd.Context(), project)
	})
}

func runLifecycle(cmd *cobra.Command, run func(*lifecycle.Commands) (*models.SummaryReport, error)) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := getProvider(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	report, runErr := run(lifecycle.NewCommands(provider, cmd.OutOrStdout(), logger))
	return finishRun(cmd, cfg, logger, report, runErr)
}

// finishRun stores and summarizes a batch run. The command fails when the
// batch could not run or when any instance failed.
func finishRun(cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger, report *models.SummaryReport, runErr error) error {
	if report == nil {
		return runErr
	}

	store := storage.NewFileStorage(cfg.Storage.Path)
	if err := store.SaveReport(report); err != nil {
		logger.WithError(err).WithField("path", store.Path()).Warn("Failed to save run report")
	}

	listing.PrintReport(cmd.OutOrStdout(), report)

	if runErr != nil {
		return runErr
	}
	return report.Err()
}

func runListRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reports, err := storage.NewFileStorage(cfg.Storage.Path).ListReports()
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}

	if len(reports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
		return nil
	}

	for _, report := range reports {
		fmt.Fprintln(cmd.OutOrStdout(), listing.ReportLine(report))
	}
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report, err := storage.NewFileStorage(cfg.Storage.Path).GetReport(runID)
	if err != nil {
		return fmt.Errorf("run %s not found: %w", runID, err)
	}

	listing.PrintReportDetail(cmd.OutOrStdout(), report)
	return nil
}
