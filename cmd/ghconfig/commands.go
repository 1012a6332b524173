package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/boomit/github-config-manager/internal/batch"
	"github.com/boomit/github-config-manager/internal/config"
	"github.com/boomit/github-config-manager/internal/domain"
	"github.com/boomit/github-config-manager/internal/ghcli"
	"github.com/boomit/github-config-manager/internal/inputs"
	"github.com/boomit/github-config-manager/internal/logbuf"
	"github.com/boomit/github-config-manager/internal/manifest"
	"github.com/boomit/github-config-manager/internal/notify"
	"github.com/boomit/github-config-manager/internal/processor"
	"github.com/boomit/github-config-manager/internal/runner"
	"github.com/boomit/github-config-manager/internal/status"
	"github.com/boomit/github-config-manager/internal/watch"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	applyOrg             string
	applySecretsFile     string
	applyVariablesFile   string
	applyDeleteSecrets   string
	applyDeleteVariables string
	applyReposFile       string
	applyManifestPath    string
	applyWorkers         int
	applySleep           float64
	applyForce           bool
	applyYes             bool
	applyDryRun          bool

	reposOrg string

	watchManifest string
)

func init() {
	// apply command
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Set and delete secrets and variables across repositories",
		RunE:  runApply,
	}
	applyCmd.Flags().StringVarP(&applyOrg, "org", "o", "", "GitHub organization or user")
	applyCmd.Flags().StringVarP(&applySecretsFile, "secrets", "s", "", "KEY=VALUE file of secrets to set")
	applyCmd.Flags().StringVar(&applyVariablesFile, "variables", "", "KEY=VALUE file of variables to set")
	applyCmd.Flags().StringVar(&applyDeleteSecrets, "delete-secrets", "", "file listing secret names to delete")
	applyCmd.Flags().StringVar(&applyDeleteVariables, "delete-variables", "", "file listing variable names to delete")
	applyCmd.Flags().StringVar(&applyReposFile, "repos", "", "file listing target repositories")
	applyCmd.Flags().StringVarP(&applyManifestPath, "manifest", "m", "", "YAML manifest describing the run")
	applyCmd.Flags().IntVarP(&applyWorkers, "workers", "w", 1, "concurrent repository workers")
	applyCmd.Flags().Float64VarP(&applySleep, "sleep", "z", 0, "seconds to pause after each repository in sequential mode")
	applyCmd.Flags().BoolVarP(&applyForce, "force", "f", false, "overwrite existing secrets and variables")
	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "skip the confirmation prompt")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "print the planned operations and exit")
	rootCmd.AddCommand(applyCmd)

	// repos command
	reposCmd := &cobra.Command{
		Use:   "repos",
		Short: "List the repositories a run would target",
		RunE:  runRepos,
	}
	reposCmd.Flags().StringVarP(&reposOrg, "org", "o", "", "GitHub organization or user")
	rootCmd.AddCommand(reposCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-apply a manifest whenever it changes",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVarP(&watchManifest, "manifest", "m", "", "YAML manifest to watch")
	rootCmd.AddCommand(watchCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured manifest schedules in the foreground",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	req, err := buildApplyRequest(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	if len(req.Repos) == 0 {
		fmt.Println("No repositories to process. Exiting script.")
		return nil
	}

	displayPlannedActions(os.Stdout, req)

	if applyDryRun {
		fmt.Println(strings.Repeat("=", 50) + "\n")
		fmt.Println("Dry run: no changes were made.")
		return nil
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	if !applyYes && interactive {
		proceed, err := confirmProceed(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
	fmt.Println(strings.Repeat("=", 50) + "\n")

	return executeRun(ctx, cfg, req, interactive)
}

func runRepos(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	org := reposOrg
	if org == "" {
		org = cfg.Defaults.Organization
	}
	if org == "" {
		return errors.New("organization is required (use --org or set defaults.organization)")
	}

	repos, err := newGhClient(cfg).ListOrgRepos(cmd.Context(), org)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		fmt.Printf("No repositories found for '%s'\n", org)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tREPOSITORY")
	for _, repo := range repos {
		owner, name, _ := strings.Cut(repo, "/")
		fmt.Fprintf(w, "%s\t%s\n", owner, name)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d repositories\n", len(repos))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchManifest == "" {
		return errors.New("--manifest is required")
	}
	// Surface a broken manifest immediately instead of on the first change.
	if _, err := manifest.Load(watchManifest); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var running sync.Mutex
	w, err := watch.New(func(path string) {
		if !running.TryLock() {
			fmt.Println("Manifest changed while a run is still in progress; skipping")
			return
		}
		defer running.Unlock()

		fmt.Printf("\nManifest %s changed, applying...\n", path)
		if err := applyManifestFile(ctx, cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "apply failed: %v\n", err)
		}
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	if cfg.Watch.DebounceMS > 0 {
		w.SetDebounce(time.Duration(cfg.Watch.DebounceMS) * time.Millisecond)
	}
	if err := w.AddFile(watchManifest); err != nil {
		return err
	}
	w.Start(ctx)

	fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", watchManifest)
	<-ctx.Done()
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		return errors.New("no schedules configured (add [[schedules]] entries to the config file)")
	}

	schedules := make([]batch.Schedule, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		schedules = append(schedules, batch.Schedule{Name: s.Name, Cron: s.Cron, Manifest: s.Manifest})
	}
	sched, err := batch.NewScheduler(schedules)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tMANIFEST\tNEXT RUN")
	for _, name := range sched.ListSchedules() {
		s, _ := sched.GetSchedule(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Cron, s.Manifest, humanize.Time(sched.NextRun(name)))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println("\nScheduler running (Ctrl-C to stop)")

	go func() {
		<-ctx.Done()
		sched.Stop()
	}()
	sched.Start(func(s batch.Schedule) error {
		fmt.Printf("\n[%s] Running schedule %s (%s)\n", time.Now().Format("15:04:05"), s.Name, s.Manifest)
		return applyManifestFile(ctx, cfg, s.Manifest)
	})
	return nil
}

// runRequest is one fully resolved apply: who, what, and how fast.
type runRequest struct {
	Org     string
	Repos   []string
	Ops     domain.OperationSet
	Workers int
	Sleep   time.Duration
}

func buildApplyRequest(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (runRequest, error) {
	var req runRequest

	if applyManifestPath != "" {
		if applySecretsFile != "" || applyVariablesFile != "" ||
			applyDeleteSecrets != "" || applyDeleteVariables != "" || applyReposFile != "" {
			return req, errors.New("--manifest cannot be combined with --secrets, --variables, --delete-secrets, --delete-variables or --repos")
		}
		m, err := manifest.Load(applyManifestPath)
		if err != nil {
			return req, err
		}
		if applyOrg != "" {
			m.Organization = applyOrg
		}
		req, err = requestFromManifest(ctx, cfg, m)
		if err != nil {
			return req, err
		}
	} else {
		req.Org = applyOrg
		if req.Org == "" {
			req.Org = cfg.Defaults.Organization
		}
		if req.Org == "" {
			return req, errors.New("organization is required (use --org, a manifest, or defaults.organization)")
		}
		fmt.Printf("Configured GitHub Organization/User: %s\n", req.Org)

		loader := inputs.NewLoader()
		ops, err := readOperationFiles(loader)
		if err != nil {
			return req, err
		}
		ops.Force = cfg.Defaults.Force
		req.Ops = ops

		req.Workers = cfg.Defaults.Workers
		if req.Workers < 1 {
			req.Workers = 1
		}
		req.Sleep = secondsToDuration(cfg.Defaults.SleepSeconds)

		if applyReposFile != "" {
			repos, err := loader.TargetRepos(applyReposFile, req.Org)
			if err != nil {
				return req, err
			}
			fmt.Printf("📌 '--repos' option used: %d specific repositories designated.\n", len(repos))
			req.Repos = repos
		} else {
			repos, err := discoverRepos(ctx, cfg, req.Org)
			if err != nil {
				return req, err
			}
			req.Repos = repos
		}
	}

	if cmd.Flags().Changed("workers") {
		req.Workers = applyWorkers
	}
	if cmd.Flags().Changed("sleep") {
		req.Sleep = secondsToDuration(applySleep)
	}
	if cmd.Flags().Changed("force") {
		req.Ops.Force = applyForce
	}
	return req, nil
}

func readOperationFiles(loader *inputs.Loader) (domain.OperationSet, error) {
	var ops domain.OperationSet

	if applySecretsFile != "" {
		if err := inputs.ValidateFile(applySecretsFile, "secret configuration file"); err != nil {
			return ops, err
		}
		pairs, err := loader.KeyValuePairs(applySecretsFile, "secrets")
		if err != nil {
			return ops, err
		}
		ops.SetSecrets = pairs
	}
	if applyVariablesFile != "" {
		if err := inputs.ValidateFile(applyVariablesFile, "variable configuration file"); err != nil {
			return ops, err
		}
		pairs, err := loader.KeyValuePairs(applyVariablesFile, "variables")
		if err != nil {
			return ops, err
		}
		ops.SetVariables = pairs
	}
	if applyDeleteSecrets != "" {
		if err := inputs.ValidateFile(applyDeleteSecrets, "secret deletion list file"); err != nil {
			return ops, err
		}
		names, err := loader.NameList(applyDeleteSecrets, "secret deletion list")
		if err != nil {
			return ops, err
		}
		ops.DeleteSecrets = names
	}
	if applyDeleteVariables != "" {
		if err := inputs.ValidateFile(applyDeleteVariables, "variable deletion list file"); err != nil {
			return ops, err
		}
		names, err := loader.NameList(applyDeleteVariables, "variable deletion list")
		if err != nil {
			return ops, err
		}
		ops.DeleteVariables = names
	}
	return ops, nil
}

// requestFromManifest resolves a loaded manifest against the config defaults,
// discovering the repository list when the manifest does not pin one.
func requestFromManifest(ctx context.Context, cfg *config.Config, m *manifest.Manifest) (runRequest, error) {
	req := runRequest{
		Org:     m.Organization,
		Ops:     m.OperationSet(),
		Workers: m.Workers,
		Sleep:   secondsToDuration(m.SleepSeconds),
	}
	if req.Org == "" {
		req.Org = cfg.Defaults.Organization
	}
	if req.Org != "" {
		fmt.Printf("Configured GitHub Organization/User: %s\n", req.Org)
	}
	if req.Workers < 1 {
		req.Workers = cfg.Defaults.Workers
	}
	if req.Workers < 1 {
		req.Workers = 1
	}
	if m.SleepSeconds <= 0 {
		req.Sleep = secondsToDuration(cfg.Defaults.SleepSeconds)
	}

	if len(m.Repositories) > 0 {
		req.Repos = m.TargetRepos()
		return req, nil
	}
	if req.Org == "" {
		return req, errors.New("manifest lists no repositories and no organization is configured")
	}
	repos, err := discoverRepos(ctx, cfg, req.Org)
	if err != nil {
		return req, err
	}
	req.Repos = repos
	return req, nil
}

func discoverRepos(ctx context.Context, cfg *config.Config, org string) ([]string, error) {
	fmt.Printf("⚙️ Fetching repository list for GitHub organization/user '%s'...\n", org)
	repos, err := newGhClient(cfg).ListOrgRepos(ctx, org)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		fmt.Printf("⚠️ Warning: No repositories found to process for organization/user '%s'.\n", org)
		return nil, nil
	}
	fmt.Printf("✅ Successfully fetched %d repositories from '%s'.\n", len(repos), org)
	return repos, nil
}

func displayPlannedActions(out io.Writer, req runRequest) {
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out, "🚨 Please CONFIRM the following GitHub operations 🚨")

	printNameList(out, "\nSecrets to Delete:", req.Ops.DeleteSecrets)
	printNameList(out, "\nVariables to Delete:", req.Ops.DeleteVariables)
	printNameList(out, "\nSecrets to Add/Update:", domain.SortedNames(req.Ops.SetSecrets))
	printNameList(out, "\nVariables to Add/Update:", domain.SortedNames(req.Ops.SetVariables))

	fmt.Fprintln(out, "\nTarget Repositories:")
	if len(req.Repos) == 0 {
		fmt.Fprintln(out, "  (None - potential error)")
	} else {
		for _, repo := range req.Repos {
			fmt.Fprintf(out, "  - %s\n", repo)
		}
	}
	fmt.Fprintf(out, "\nTotal %d repositories.\n", len(req.Repos))

	if req.Workers == 1 {
		fmt.Fprintf(out, "\nWill pause %g seconds after processing each repository.\n", req.Sleep.Seconds())
	} else {
		fmt.Fprintf(out, "\nWill process %d repositories concurrently.\n", req.Workers)
	}

	enabled := "No"
	if req.Ops.Force {
		enabled = "Yes"
	}
	fmt.Fprintf(out, "\n💡 '--force' option enabled: %s\n", enabled)
	if req.Ops.Force {
		fmt.Fprintln(out, "    (When setting Secrets/Variables, existing ones will be overwritten.)")
	} else {
		fmt.Fprintln(out, "    (When setting Secrets/Variables, new ones will be added; existing ones will be skipped.)")
	}
}

func printNameList(out io.Writer, header string, names []string) {
	fmt.Fprintln(out, header)
	if len(names) == 0 {
		fmt.Fprintln(out, "  (None)")
		return
	}
	for _, name := range names {
		fmt.Fprintf(out, "  - %s\n", name)
	}
}

func confirmProceed(in io.Reader, out io.Writer) (bool, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Do you want to proceed? (Y/N): ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return false, fmt.Errorf("read confirmation: %w", err)
			}
			return false, errors.New("confirmation input closed")
		}
		switch strings.ToUpper(strings.TrimSpace(scanner.Text())) {
		case "Y":
			return true, nil
		case "N":
			fmt.Fprintln(out, "Operation cancelled by user.")
			return false, nil
		default:
			fmt.Fprintln(out, "Invalid input. Please enter 'Y' or 'N'.")
		}
	}
}

// executeRun drives the processor and records the outcome in the journal.
// Per-repository failures surface as a non-nil error so the process exits
// non-zero, but only after history and notifications are handled.
func executeRun(ctx context.Context, cfg *config.Config, req runRequest, interactive bool) error {
	logs := logbuf.New(os.Stdout)
	proc := processor.New(runner.New(newGhClient(cfg), logs), logs)

	if interactive {
		go proc.Abort.ListenForQuit(os.Stdin, logs)
	}

	startedAt := time.Now()
	stats, err := proc.Run(ctx, processor.RunConfig{
		Repositories: req.Repos,
		Operations:   req.Ops,
		Workers:      req.Workers,
		Sleep:        req.Sleep,
	})
	if err != nil {
		return err
	}

	record, outcomes := summarizeRun(req, stats, proc.Status.Snapshot(), startedAt)
	recordHistory(cfg, record, outcomes)
	sendNotification(cfg, record)

	if record.Failed > 0 {
		return fmt.Errorf("%d of %d repositories failed", record.Failed, record.TotalRepos)
	}
	return nil
}

func applyManifestFile(ctx context.Context, cfg *config.Config, path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	req, err := requestFromManifest(ctx, cfg, m)
	if err != nil {
		return err
	}
	if len(req.Repos) == 0 {
		return fmt.Errorf("no repositories to process for manifest %s", path)
	}
	return executeRun(ctx, cfg, req, false)
}

func summarizeRun(req runRequest, stats processor.RunStats, snapshot map[string]status.RepoState, startedAt time.Time) (*domain.RunRecord, []domain.RepoOutcome) {
	record := &domain.RunRecord{
		ID:           uuid.New().String(),
		Organization: req.Org,
		StartedAt:    startedAt,
		FinishedAt:   startedAt.Add(stats.Elapsed),
		TotalRepos:   len(req.Repos),
		Aborted:      stats.Aborted,
	}

	outcomes := make([]domain.RepoOutcome, 0, len(req.Repos))
	for _, repo := range req.Repos {
		state := snapshot[repo]
		if state.Success {
			record.Succeeded++
		} else if state.Lifecycle == domain.LifecycleFailed {
			record.Failed++
		}
		outcomes = append(outcomes, domain.RepoOutcome{
			Repository: repo,
			Success:    state.Success,
			Lifecycle:  state.Lifecycle,
		})
	}
	return record, outcomes
}

// recordHistory and sendNotification are best effort: a journal or webhook
// problem must never turn a finished GitHub run into a failure.
func recordHistory(cfg *config.Config, record *domain.RunRecord, outcomes []domain.RepoOutcome) {
	store, err := openHistory(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		return
	}
	defer store.Close()

	if err := store.RecordRun(record, outcomes); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not record run: %v\n", err)
		return
	}
	if cfg.History.KeepRuns > 0 {
		if _, err := store.Prune(cfg.History.KeepRuns); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not prune run history: %v\n", err)
		}
	}
}

func sendNotification(cfg *config.Config, record *domain.RunRecord) {
	notifier := notify.FromSettings(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook)
	if err := notifier.Send(notify.RunSummary(record)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: notification failed: %v\n", err)
	}
}

func newGhClient(cfg *config.Config) *ghcli.Gh {
	g := ghcli.New()
	if cfg.GitHub.Binary != "" {
		g.Binary = cfg.GitHub.Binary
	}
	if cfg.GitHub.ListLimit > 0 {
		g.ListLimit = cfg.GitHub.ListLimit
	}
	return g
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
