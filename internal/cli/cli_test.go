package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/batch"
	"github.com/example/kotoba/internal/config"
	"github.com/example/kotoba/internal/storage"
	"github.com/example/kotoba/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "kotoba", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "batch", "status", "cancel", "review", "stats", "cards"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestBuildBatchCommand(t *testing.T) {
	cmd := buildBatchCommand()

	assert.Equal(t, "batch", cmd.Name())
	assert.NotNil(t, cmd.RunE)
	for _, name := range []string{"provider", "owner", "memory", "out", "poll"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s", name)
	}
	assert.Equal(t, "p", cmd.Flags().Lookup("provider").Shorthand)
	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"sheet.csv"}))
}

func TestBuildReviewCommandRequiresFlags(t *testing.T) {
	cmd := buildReviewCommand()
	for _, name := range []string{"user", "card", "quality"} {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, "missing --%s", name)
		assert.Equal(t, []string{"true"}, f.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	}
}

func TestBuildCardsImportCommand(t *testing.T) {
	cmd := buildCardsCommand()
	sub, _, err := cmd.Find([]string{"import"})
	require.NoError(t, err)
	assert.Equal(t, "import", sub.Name())
	assert.Equal(t, "A", sub.Flags().Lookup("front").DefValue)
	assert.Equal(t, "2", sub.Flags().Lookup("start-row").DefValue)
}

func TestDefaultProvider(t *testing.T) {
	assert.Equal(t, ai.ProviderGemini, defaultProvider(ai.ProviderGemini, []ai.Provider{ai.ProviderOpenAI, ai.ProviderGemini}))
	assert.Equal(t, ai.ProviderOpenAI, defaultProvider(ai.ProviderGemini, []ai.Provider{ai.ProviderOpenAI}))
	assert.Equal(t, ai.ProviderGemini, defaultProvider(ai.ProviderGemini, nil))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "homework.corrected.csv", outputName("homework.csv"))
	assert.Equal(t, filepath.Join("dir", "a.b.corrected.xlsx"), outputName(filepath.Join("dir", "a.b.xlsx")))
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	printProgress(&buf, batch.Progress{
		ID:          "job-1",
		Status:      models.JobDone,
		Processed:   3,
		Total:       3,
		Percent:     100,
		DownloadURL: "https://files.example/batch/job-1/output.csv",
	})

	out := buf.String()
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "3/3 (100%)")
	assert.Contains(t, out, "Download: https://files.example/batch/job-1/output.csv")
	assert.NotContains(t, out, "Error:")
}

func newMemoryManager(t *testing.T) (*batch.Manager, *batch.MemoryStore) {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	store := batch.NewMemoryStore()
	return batch.NewManager(store, files, nil, nil, nil, nil), store
}

func TestWaitForJobTerminal(t *testing.T) {
	m, store := newMemoryManager(t)
	require.NoError(t, store.Create(context.Background(), &models.BatchJob{
		ID:            "job-1",
		Status:        models.JobError,
		TotalRows:     4,
		ProcessedRows: 2,
		ErrorMessage:  "boom",
	}))

	var buf bytes.Buffer
	p, err := waitForJob(context.Background(), m, "job-1", 10*time.Millisecond, &buf)
	require.NoError(t, err)
	assert.Equal(t, models.JobError, p.Status)
	assert.Equal(t, "boom", p.Error)
	assert.Contains(t, buf.String(), "error: 2/4 rows (50%)")
}

func TestWaitForJobCancelsOnInterrupt(t *testing.T) {
	m, store := newMemoryManager(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &models.BatchJob{ID: "job-1", Status: models.JobRunning, TotalRows: 10}))

	// A worker that stops once cancellation is requested
	go func() {
		for {
			if ok, _ := store.CancelRequested(ctx, "job-1"); ok {
				store.Transition(ctx, "job-1", models.JobCanceled, "")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	interrupted, cancel := context.WithCancel(ctx)
	cancel()

	var buf bytes.Buffer
	p, err := waitForJob(interrupted, m, "job-1", 10*time.Millisecond, &buf)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, p.Status)
	assert.Contains(t, buf.String(), "Cancel requested")
}

func TestWaitForJobUnknown(t *testing.T) {
	m, _ := newMemoryManager(t)
	_, err := waitForJob(context.Background(), m, "missing", time.Millisecond, &bytes.Buffer{})
	assert.ErrorIs(t, err, batch.ErrJobNotFound)
}

func TestNewAppMemoryWithoutWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()

	a, err := newApp(context.Background(), cfg, appOptions{memory: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.db)
	assert.Nil(t, a.pool)
	assert.IsType(t, &batch.MemoryStore{}, a.jobs)
	require.NotNil(t, a.manager)
}

func TestNewAppRequiresProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()

	_, err := newApp(context.Background(), cfg, appOptions{memory: true, workers: true})
	assert.ErrorContains(t, err, "no LLM provider configured")
}

func TestNewAppWithProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.LLM.OpenAIKey = "sk-test"

	a, err := newApp(context.Background(), cfg, appOptions{memory: true, workers: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []ai.Provider{ai.ProviderOpenAI}, a.dispatcher.Providers())
	assert.Equal(t, cfg.Batch.Workers, a.pool.Size())
	require.NotNil(t, a.sweeper)
	assert.True(t, a.sweeper.IsRunning())

	_, err = a.manager.Submit(context.Background(), batch.SubmitRequest{
		Filename: "homework.csv",
		Body:     bytes.NewBufferString("a,b,c,d,e,source\n"),
		Provider: "gemini",
	})
	assert.ErrorIs(t, err, batch.ErrProviderNotConfigured)
}

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_DSN", filepath.Join(dir, "kotoba.db"))
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "files"))
	t.Setenv("KOTOBA_CONFIG", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCardsImportAndReview(t *testing.T) {
	setupEnv(t)

	deck := filepath.Join(t.TempDir(), "deck.csv")
	require.NoError(t, os.WriteFile(deck, []byte(
		"front,back,reading,level\n"+
			"猫,cat,ねこ,N5\n"+
			"犬,dog,いぬ,n5\n"+
			",missing front,,\n"), 0644))

	out, err := execute(t, "cards", "import", deck)
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 3 rows: 2 imported, 1 skipped")

	out, err = execute(t, "review", "--user", "7", "--card", "1", "--quality", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Next review in 1 days")
	assert.Contains(t, out, "repetitions 1")

	_, err = execute(t, "review", "--user", "7", "--card", "1", "--quality", "9")
	assert.ErrorContains(t, err, "invalid quality")

	out, err = execute(t, "stats", "--user", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "MASTERED")
	assert.Regexp(t, `N5\s+1\s+0\s+0\s+2\.60`, out)

	out, err = execute(t, "stats", "--user", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "No reviews yet")
}

func TestStatusAndCancelUnknownJob(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "status", "no-such-job")
	assert.ErrorIs(t, err, batch.ErrJobNotFound)

	_, err = execute(t, "cancel", "no-such-job")
	assert.ErrorIs(t, err, batch.ErrJobNotFound)
}
