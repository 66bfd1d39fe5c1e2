package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/excel"
	"github.com/example/kotoba/internal/storage"
	"github.com/example/kotoba/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "id,level,topic,student,date,sentence"

type stubCorrector struct {
	mu    sync.Mutex
	texts []string
	fn    func(call int, text string) (string, error)
}

func (s *stubCorrector) CallWithRetry(ctx context.Context, text string, p ai.Provider) (string, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	call := len(s.texts)
	s.mu.Unlock()
	return s.fn(call, text)
}

func (s *stubCorrector) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func okFeedback(call int, text string) (string, error) {
	return fmt.Sprintf(`{"corrected_text":"%s!","corrections":[{"original":"%s","corrected":"%s!","explanation":"punctuation"}]}`, text, text, text), nil
}

type testEnv struct {
	store *MemoryStore
	files *storage.LocalStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir(), "https://files.example")
	require.NoError(t, err)
	return &testEnv{store: NewMemoryStore(), files: files}
}

func (e *testEnv) createJob(t *testing.T, id, filename, content string) {
	t.Helper()
	ref, err := e.files.Put(context.Background(), "batch/"+id+"/"+filename, strings.NewReader(content), "")
	require.NoError(t, err)
	require.NoError(t, e.store.Create(context.Background(), &models.BatchJob{
		ID:       id,
		Provider: "gemini",
		InputRef: ref,
		Status:   models.JobPending,
	}))
}

func (e *testEnv) output(t *testing.T, id string) [][]string {
	t.Helper()
	job, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, job.OutputRef.Valid)

	format, err := excel.DetectFormat(job.OutputRef.String)
	require.NoError(t, err)
	rc, err := e.files.Open(context.Background(), job.OutputRef.String)
	require.NoError(t, err)
	defer rc.Close()
	rows, err := excel.ReadTable(format, rc)
	require.NoError(t, err)
	return rows
}

func csvRows(n int) string {
	lines := []string{header}
	for i := 1; i <= n; i++ {
		lines = append(lines, fmt.Sprintf("%d,N5,daily,alice,2025-01-0%d,私は学生です%d", i, i, i))
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestRunProcessesAllRows(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-1", "input.csv", csvRows(2))
	llm := &stubCorrector{fn: okFeedback}

	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-1"))

	job, err := env.store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, job.Status)
	assert.Equal(t, 3, job.TotalRows)
	assert.Equal(t, 3, job.ProcessedRows)
	assert.Equal(t, 2, llm.calls())

	rows := env.output(t, "job-1")
	require.Len(t, rows, 3)
	assert.Equal(t, CorrectedHeader, rows[0][CorrectedColumn])
	assert.Equal(t, ExplanationHeader, rows[0][ExplanationColumn])
	assert.Equal(t, NotesHeader, rows[0][NotesColumn])
	for i := 1; i <= 2; i++ {
		assert.Equal(t, fmt.Sprintf("私は学生です%d!", i), rows[i][CorrectedColumn])
		assert.Contains(t, rows[i][ExplanationColumn], `"corrected_text"`)
		assert.Equal(t, "", excel.Cell(rows[i], NotesColumn))
	}
}

func TestRunCancelBetweenRows(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-c", "input.csv", csvRows(4))

	llm := &stubCorrector{}
	llm.fn = func(call int, text string) (string, error) {
		if call == 1 {
			ok, err := env.store.RequestCancel(context.Background(), "job-c")
			require.NoError(t, err)
			require.True(t, ok)
		}
		return okFeedback(call, text)
	}

	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-c"))

	job, err := env.store.Get(context.Background(), "job-c")
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, job.Status)
	assert.Equal(t, 2, job.ProcessedRows)
	assert.Greater(t, job.ProcessedRows, 0)
	assert.Less(t, job.ProcessedRows, 5)
	assert.False(t, job.OutputRef.Valid)
	assert.Equal(t, 1, llm.calls())
}

func TestRunCanceledBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-p", "input.csv", csvRows(2))
	ok, err := env.store.RequestCancel(context.Background(), "job-p")
	require.NoError(t, err)
	require.True(t, ok)

	llm := &stubCorrector{fn: okFeedback}
	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-p"))

	job, _ := env.store.Get(context.Background(), "job-p")
	assert.Equal(t, models.JobCanceled, job.Status)
	assert.Equal(t, 0, job.ProcessedRows)
	assert.Equal(t, 0, llm.calls())
}

func TestRunMalformedResponseAnnotatesRow(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-m", "input.csv", csvRows(2))
	llm := &stubCorrector{fn: func(call int, text string) (string, error) {
		if call == 1 {
			return "Sorry, I cannot help with that.", nil
		}
		return okFeedback(call, text)
	}}

	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-m"))

	job, _ := env.store.Get(context.Background(), "job-m")
	assert.Equal(t, models.JobDone, job.Status)

	rows := env.output(t, "job-m")
	assert.Equal(t, "私は学生です1", rows[1][CorrectedColumn])
	assert.Equal(t, "error: unparsed response", rows[1][NotesColumn])
	assert.Contains(t, rows[1][ExplanationColumn], "Sorry")
	assert.Equal(t, "私は学生です2!", rows[2][CorrectedColumn])
}

func TestRunRowErrorKeepsOriginalText(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-e", "input.csv", csvRows(2))
	llm := &stubCorrector{fn: func(call int, text string) (string, error) {
		if call == 2 {
			return "", errors.New("giving up after 3 attempts: 429 rate limit")
		}
		return okFeedback(call, text)
	}}

	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-e"))

	job, _ := env.store.Get(context.Background(), "job-e")
	assert.Equal(t, models.JobDone, job.Status)

	rows := env.output(t, "job-e")
	assert.Equal(t, "私は学生です2", rows[2][CorrectedColumn])
	assert.True(t, strings.HasPrefix(rows[2][NotesColumn], "error: "))
}

func TestRunProviderErrorGoesToNotes(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-f", "input.csv", csvRows(1))
	llm := &stubCorrector{fn: func(call int, text string) (string, error) {
		return `{"corrected_text":"` + text + `","corrections":[],"error":"invalid api key"}`, nil
	}}

	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-f"))

	rows := env.output(t, "job-f")
	assert.Equal(t, "invalid api key", rows[1][NotesColumn])
}

func TestRunSkipsBlankSource(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-b", "input.csv", header+"\n1,N5,daily,alice,2025-01-01,  \n2,N5\n")
	llm := &stubCorrector{fn: okFeedback}

	p := NewProcessor(env.store, env.files, llm, nil)
	require.NoError(t, p.Run(context.Background(), "job-b"))

	job, _ := env.store.Get(context.Background(), "job-b")
	assert.Equal(t, models.JobDone, job.Status)
	assert.Equal(t, 3, job.ProcessedRows)
	assert.Equal(t, 0, llm.calls())

	rows := env.output(t, "job-b")
	assert.Equal(t, "", excel.Cell(rows[1], CorrectedColumn))
}

func TestRunUnreadableInputFailsJob(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-x", "input.xlsx", "this is not a workbook")
	llm := &stubCorrector{fn: okFeedback}

	p := NewProcessor(env.store, env.files, llm, nil)
	err := p.Run(context.Background(), "job-x")
	require.Error(t, err)

	job, _ := env.store.Get(context.Background(), "job-x")
	assert.Equal(t, models.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "failed to parse input")
	assert.False(t, job.OutputRef.Valid)
}

func TestRunPanicFailsJob(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-panic", "input.csv", csvRows(3))
	llm := &stubCorrector{fn: func(call int, text string) (string, error) {
		if call == 2 {
			panic("provider exploded")
		}
		return okFeedback(call, text)
	}}

	p := NewProcessor(env.store, env.files, llm, nil)
	err := p.Run(context.Background(), "job-panic")
	require.Error(t, err)

	job, _ := env.store.Get(context.Background(), "job-panic")
	assert.Equal(t, models.JobError, job.Status)
	assert.Contains(t, job.ErrorMessage, "provider exploded")
	assert.Equal(t, 2, job.ProcessedRows)
}

func TestRunXLSXRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	rows := [][]string{
		strings.Split(header, ","),
		{"1", "N4", "travel", "bob", "2025-02-01", "駅はどこですか"},
	}
	body, err := excel.WriteTable(excel.FormatXLSX, rows)
	require.NoError(t, err)
	env.createJob(t, "job-xlsx", "input.xlsx", string(body))

	p := NewProcessor(env.store, env.files, &stubCorrector{fn: okFeedback}, nil)
	require.NoError(t, p.Run(context.Background(), "job-xlsx"))

	job, _ := env.store.Get(context.Background(), "job-xlsx")
	assert.Equal(t, models.JobDone, job.Status)
	assert.True(t, strings.HasSuffix(job.OutputRef.String, ".xlsx"))

	out := env.output(t, "job-xlsx")
	assert.Equal(t, "駅はどこですか!", out[1][CorrectedColumn])
}

func TestRunRefusesTerminalJob(t *testing.T) {
	env := newTestEnv(t)
	env.createJob(t, "job-t", "input.csv", csvRows(1))
	_, err := env.store.Transition(context.Background(), "job-t", models.JobError, "boom")
	require.NoError(t, err)

	p := NewProcessor(env.store, env.files, &stubCorrector{fn: okFeedback}, nil)
	err = p.Run(context.Background(), "job-t")
	assert.ErrorIs(t, err, ErrNotStarted)

	job, _ := env.store.Get(context.Background(), "job-t")
	assert.Equal(t, models.JobError, job.Status)
	assert.Equal(t, "boom", job.ErrorMessage)
}
