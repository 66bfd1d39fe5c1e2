// Package cli builds the kotoba command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/batch"
	"github.com/example/kotoba/internal/bot"
	"github.com/example/kotoba/internal/config"
	"github.com/example/kotoba/internal/database"
	"github.com/example/kotoba/internal/excel"
	"github.com/example/kotoba/internal/scheduler"
	sr "github.com/example/kotoba/internal/spaced_repetition"
	"github.com/example/kotoba/pkg/models"
)

var configFile string

// BuildCLI returns the root command
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kotoba",
		Short: "kotoba: Japanese flashcards and LLM sentence correction",
		Long: `kotoba schedules flashcard reviews with SM-2 and corrects
Japanese sentences in CSV/XLSX sheets with an LLM.`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (default $KOTOBA_CONFIG)")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildBatchCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildCancelCommand())
	rootCmd.AddCommand(buildReviewCommand())
	rootCmd.AddCommand(buildStatsCommand())
	rootCmd.AddCommand(buildCardsCommand())

	return rootCmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot, reminders and batch workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{workers: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("Metrics server listening on :%d", cfg.Metrics.Port)
			if err := a.metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	requeued, err := a.manager.Resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume batch jobs: %w", err)
	}
	if requeued > 0 {
		log.Printf("Requeued %d pending batch jobs", requeued)
	}

	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		return err
	}
	botConfig := bot.DefaultConfig()
	botConfig.DefaultProvider = defaultProvider(botConfig.DefaultProvider, a.dispatcher.Providers())
	b := bot.New(api, a.reviewService(), a.manager, botConfig).
		WithPreferences(database.NewUserConfigRepository(a.db))

	sched := scheduler.New(b, database.NewReviewStateRepository(a.db), cfg.Notifications.StartHour, cfg.Notifications.EndHour)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	log.Println("kotoba is running")
	if err := b.Start(ctx, api); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("Shutting down")
	return nil
}

// defaultProvider keeps preferred when it is configured, otherwise the first configured provider
func defaultProvider(preferred ai.Provider, configured []ai.Provider) ai.Provider {
	for _, p := range configured {
		if p == preferred {
			return p
		}
	}
	if len(configured) > 0 {
		return configured[0]
	}
	return preferred
}

func buildBatchCommand() *cobra.Command {
	var (
		provider string
		owner    int64
		memory   bool
		output   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Correct the sentences in a CSV or XLSX sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{memory: memory, workers: true})
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			job, err := a.manager.Submit(ctx, batch.SubmitRequest{
				Filename: filepath.Base(args[0]),
				Body:     f,
				Provider: provider,
				Owner:    owner,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", job.ID)

			progress, err := waitForJob(ctx, a.manager, job.ID, interval, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if progress.Status != models.JobDone {
				return fmt.Errorf("job %s finished with status %s: %s", job.ID, progress.Status, progress.Error)
			}
			if output == "" {
				output = outputName(args[0])
			}
			return saveOutput(context.Background(), a.manager, job.ID, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "LLM provider: openai, gemini or bedrock")
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner ID recorded on the job")
	cmd.Flags().BoolVar(&memory, "memory", false, "keep the job in memory instead of the database")
	cmd.Flags().StringVarP(&output, "out", "o", "", "where to write the corrected sheet (default <file>.corrected<ext>)")
	cmd.Flags().DurationVar(&interval, "poll", time.Second, "progress polling interval")

	return cmd
}

// waitForJob polls until the job reaches a terminal state. Interrupting
// the wait requests cancellation and keeps polling until the worker stops.
func waitForJob(ctx context.Context, m *batch.Manager, id string, interval time.Duration, out io.Writer) (batch.Progress, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	last := -1
	for {
		p, err := m.Status(context.Background(), id)
		if err != nil {
			return p, err
		}
		if p.Processed != last {
			fmt.Fprintf(out, "%s: %d/%d rows (%d%%)\n", p.Status, p.Processed, p.Total, p.Percent)
			last = p.Processed
		}
		if p.Status.IsTerminal() {
			return p, nil
		}

		select {
		case <-interrupted:
			interrupted = nil
			if _, err := m.RequestCancel(context.Background(), id); err != nil {
				return p, err
			}
			fmt.Fprintln(out, "Cancel requested, waiting for the worker to stop")
		case <-ticker.C:
		}
	}
}

func outputName(input string) string {
	ext := filepath.Ext(input)
	return input[:len(input)-len(ext)] + ".corrected" + ext
}

func saveOutput(ctx context.Context, m *batch.Manager, id, path string, out io.Writer) error {
	rc, _, err := m.Output(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a batch job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.manager.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printProgress(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func printProgress(out io.Writer, p batch.Progress) {
	fmt.Fprintf(out, "Job:      %s\n", p.ID)
	fmt.Fprintf(out, "Status:   %s\n", p.Status)
	fmt.Fprintf(out, "Progress: %d/%d (%d%%)\n", p.Processed, p.Total, p.Percent)
	if p.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", p.Error)
	}
	if p.DownloadURL != "" {
		fmt.Fprintf(out, "Download: %s\n", p.DownloadURL)
	}
}

func buildCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a batch job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.manager.RequestCancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancel requested")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Job is not cancelable")
			}
			return nil
		},
	}
}

func buildReviewCommand() *cobra.Command {
	var (
		userID  int64
		cardID  int64
		quality int
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Record a review grade (0-5) for a card",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.reviewService().Review(cmd.Context(), userID, cardID, sr.Quality(quality))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Next review in %d days (%s), ease %.2f, repetitions %d\n",
				state.IntervalDays, state.NextReviewAt.Format(time.RFC3339), state.EaseFactor, state.Repetitions)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user ID")
	cmd.Flags().Int64Var(&cardID, "card", 0, "card ID")
	cmd.Flags().IntVarP(&quality, "quality", "q", -1, "recall quality 0-5")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("card")
	cmd.MarkFlagRequired("quality")

	return cmd
}

func buildStatsCommand() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a user's review progress by JLPT level",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.reviewService().Statistics(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No reviews yet")
				return nil
			}
			fmt.Fprintf(out, "%-6s %8s %5s %9s %6s\n", "LEVEL", "STUDIED", "DUE", "MASTERED", "EASE")
			for _, s := range stats {
				level := s.Level
				if level == "" {
					level = "-"
				}
				fmt.Fprintf(out, "%-6s %8d %5d %9d %6.2f\n", level, s.Studied, s.Due, s.Mastered, s.AverageEase)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user ID")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildCardsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "Manage flashcards",
	}
	cmd.AddCommand(buildCardsImportCommand())
	return cmd
}

func buildCardsImportCommand() *cobra.Command {
	importConfig := excel.DefaultImportConfig()

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import flashcards from a CSV or XLSX deck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rows, err := readDeck(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := database.NewCardRepository(a.db).ImportTable(cmd.Context(), rows, importConfig)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processed %d rows: %d imported, %d skipped\n",
				result.TotalProcessed, len(result.Cards), result.Skipped)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&importConfig.FrontColumn, "front", importConfig.FrontColumn, "column with the Japanese prompt")
	cmd.Flags().StringVar(&importConfig.BackColumn, "back", importConfig.BackColumn, "column with the meaning")
	cmd.Flags().StringVar(&importConfig.ReadingColumn, "reading", importConfig.ReadingColumn, "column with the kana reading")
	cmd.Flags().StringVar(&importConfig.LevelColumn, "level", importConfig.LevelColumn, "column with the JLPT level")
	cmd.Flags().IntVar(&importConfig.StartRow, "start-row", importConfig.StartRow, "first row to import (1-based)")

	return cmd
}

func readDeck(path string) ([][]string, error) {
	format, err := excel.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return excel.ReadTable(format, f)
}
