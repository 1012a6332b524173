package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/boomit/github-config-manager/internal/config"
	"github.com/boomit/github-config-manager/internal/domain"
	"github.com/boomit/github-config-manager/internal/history"
	"github.com/boomit/github-config-manager/internal/updater"
	"github.com/boomit/github-config-manager/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the local run journal",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show RUN",
	Short: "Show one run with its per-repository results",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent runs",
	RunE:  runHistoryPrune,
}

var (
	historyLimit int
	pruneKeep    int
	versionCheck bool
)

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 for all)")
	historyPruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "runs to keep (default from config)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse the run journal interactively",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	// update command
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update ghconfig to the latest release",
		RunE:  runUpdate,
	}
	rootCmd.AddCommand(updateCmd)

	// version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the ghconfig version",
		RunE:  runVersion,
	}
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "also check for a newer release")
	rootCmd.AddCommand(versionCmd)
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	path := cfg.History.DatabasePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return history.New(path)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tORGANIZATION\tREPOS\tOK\tFAIL\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, humanize.Time(r.StartedAt), r.Organization,
			r.TotalRepos, r.Succeeded, r.Failed, runOutcomeWord(r))
	}
	return w.Flush()
}

func runOutcomeWord(r *domain.RunRecord) string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Failed > 0:
		return "failed"
	default:
		return "ok"
	}
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, outcomes, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:          %s\n", run.ID)
	fmt.Printf("Organization: %s\n", run.Organization)
	fmt.Printf("Started:      %s (%s)\n", run.StartedAt.Format(time.RFC1123), humanize.Time(run.StartedAt))
	fmt.Printf("Duration:     %.1fs\n", run.Duration().Seconds())
	summary := fmt.Sprintf("%d/%d succeeded, %d failed", run.Succeeded, run.TotalRepos, run.Failed)
	if run.Aborted {
		summary += " (aborted)"
	}
	fmt.Printf("Result:       %s\n", summary)

	if len(outcomes) == 0 {
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tRESULT\tSTATE")
	for _, o := range outcomes {
		result := "ok"
		if !o.Success {
			result = "failed"
		}
		if !o.Lifecycle.Terminal() {
			result = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Repository, result, o.Lifecycle)
	}
	return w.Flush()
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	keep := pruneKeep
	if keep <= 0 {
		keep = cfg.History.KeepRuns
	}
	if keep <= 0 {
		return errors.New("nothing to prune: pass --keep or set history.keep_runs")
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(keep)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d runs, keeping the %d most recent\n", removed, keep)
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer store.Close()

	model := tui.NewModel(tui.ModelConfig{Journal: store})
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	fmt.Println("Checking for updates...")
	latest, err := updater.CheckLatestVersion()
	if err != nil {
		return err
	}
	if !updater.NeedsUpdate(version, latest) {
		fmt.Printf("Already up to date (%s)\n", version)
		return nil
	}

	fmt.Printf("Updating %s -> %s\n", version, latest)
	if err := updater.SelfUpdate(latest); err != nil {
		return err
	}
	fmt.Printf("Updated to %s. Restart ghconfig to use the new version.\n", latest)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("ghconfig %s\n", version)
	if !versionCheck {
		return nil
	}

	latest, err := updater.CheckLatestVersion()
	if err != nil {
		return err
	}
	if updater.NeedsUpdate(version, latest) {
		fmt.Printf("Update available: %s (run 'ghconfig update')\n", latest)
	} else {
		fmt.Println("You are on the latest version")
	}
	return nil
}
