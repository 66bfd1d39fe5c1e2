package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/excel"
	"github.com/example/kotoba/internal/metrics"
	"github.com/example/kotoba/internal/storage"
	"github.com/example/kotoba/pkg/models"
)

// Fixed column layout of a batch sheet (0-based)
const (
	SourceColumn      = 5
	CorrectedColumn   = 6
	ExplanationColumn = 7
	NotesColumn       = 8
)

// Header labels written into row 0
const (
	CorrectedHeader   = "CorrectedText"
	ExplanationHeader = "Explanation"
	NotesHeader       = "Notes"
)

// ErrNotStarted is returned by Run when the job could not be moved to running
var ErrNotStarted = errors.New("batch job could not be started")

// Corrector returns raw LLM feedback for one sentence; *ai.Retrier satisfies it
type Corrector interface {
	CallWithRetry(ctx context.Context, text string, p ai.Provider) (string, error)
}

// Processor runs a single job from pending to a terminal status
type Processor struct {
	store   JobStore
	files   storage.Store
	llm     Corrector
	metrics *metrics.Collector
}

// NewProcessor creates a processor. m may be nil.
func NewProcessor(store JobStore, files storage.Store, llm Corrector, m *metrics.Collector) *Processor {
	return &Processor{store: store, files: files, llm: llm, metrics: m}
}

// Run processes job id. Row failures are written into the sheet; anything
// else that stops the job is recorded on it with status error.
func (p *Processor) Run(ctx context.Context, id string) (err error) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	token := NewCancelToken(p.store, id)

	if canceled, err := token.Canceled(ctx); err != nil {
		return err
	} else if canceled {
		if _, err := p.store.Transition(ctx, id, models.JobCanceled, ""); err != nil {
			return err
		}
		log.Printf("Batch job %s canceled before start", id)
		return nil
	}

	ok, err := p.store.Transition(ctx, id, models.JobRunning, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrNotStarted, id, job.Status)
	}
	p.metrics.RecordJobStarted()
	log.Printf("Batch job %s started (provider %s)", id, job.Provider)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			p.fail(id, err)
		}
	}()

	status, err := p.process(ctx, job, token)
	if err != nil {
		return err
	}
	p.metrics.RecordJobFinished(string(status))
	log.Printf("Batch job %s finished: %s", id, status)
	return nil
}

func (p *Processor) process(ctx context.Context, job *models.BatchJob, token CancelToken) (models.JobStatus, error) {
	provider, err := ai.ParseProvider(job.Provider)
	if err != nil {
		return "", err
	}
	format, err := excel.DetectFormat(job.InputRef)
	if err != nil {
		return "", err
	}

	rows, err := p.readInput(ctx, job.InputRef, format)
	if err != nil {
		return "", err
	}
	if err := p.store.SetTotalRows(ctx, job.ID, len(rows)); err != nil {
		return "", err
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("interrupted: %w", err)
		}
		canceled, err := token.Canceled(ctx)
		if err != nil {
			return "", err
		}
		if canceled {
			if _, err := p.store.Transition(ctx, job.ID, models.JobCanceled, ""); err != nil {
				return "", err
			}
			return models.JobCanceled, nil
		}

		if i == 0 {
			rows[i] = relabelHeader(rows[i])
		} else {
			rows[i] = p.processRow(ctx, provider, rows[i])
		}

		if err := p.store.SetProcessedRows(ctx, job.ID, i+1); err != nil {
			return "", err
		}
	}

	body, err := excel.WriteTable(format, rows)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("batch/%s/output%s", job.ID, format.Ext())
	ref, err := p.files.Put(ctx, key, bytes.NewReader(body), format.ContentType())
	if err != nil {
		return "", fmt.Errorf("failed to store output: %w", err)
	}
	if err := p.store.SetOutput(ctx, job.ID, ref); err != nil {
		return "", err
	}
	ok, err := p.store.Transition(ctx, job.ID, models.JobDone, "")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("job %s left running state unexpectedly", job.ID)
	}
	return models.JobDone, nil
}

func (p *Processor) readInput(ctx context.Context, ref string, format excel.Format) ([][]string, error) {
	rc, err := p.files.Open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer rc.Close()

	rows, err := excel.ReadTable(format, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	return rows, nil
}

func relabelHeader(row []string) []string {
	row = excel.SetCell(row, CorrectedColumn, CorrectedHeader)
	row = excel.SetCell(row, ExplanationColumn, ExplanationHeader)
	return excel.SetCell(row, NotesColumn, NotesHeader)
}

// processRow fills the output columns for one data row. It never fails:
// errors are written into the Notes column.
func (p *Processor) processRow(ctx context.Context, provider ai.Provider, row []string) []string {
	text := excel.Cell(row, SourceColumn)
	if strings.TrimSpace(text) == "" {
		return row
	}

	raw, err := p.llm.CallWithRetry(ctx, text, provider)
	if err != nil {
		p.metrics.RecordRow(true)
		row = excel.SetCell(row, CorrectedColumn, text)
		return excel.SetCell(row, NotesColumn, "error: "+err.Error())
	}

	fb, ok := ai.ParseFeedback(raw, text)
	corrected := fb.CorrectedText
	if corrected == "" {
		corrected = text
	}
	row = excel.SetCell(row, CorrectedColumn, corrected)
	row = excel.SetCell(row, ExplanationColumn, fb.JSON())

	notes := fb.Error
	if !ok {
		notes = "error: unparsed response"
	}
	if notes != "" {
		row = excel.SetCell(row, NotesColumn, notes)
	}
	p.metrics.RecordRow(!ok)
	return row
}

func (p *Processor) fail(id string, cause error) {
	// The run context may already be canceled; the failure still has to land.
	ctx := context.Background()
	ok, err := p.store.Transition(ctx, id, models.JobError, cause.Error())
	if err != nil {
		log.Printf("Batch job %s: failed to record error %q: %v", id, cause, err)
		return
	}
	if ok {
		p.metrics.RecordJobFinished(string(models.JobError))
	}
	log.Printf("Batch job %s failed: %v", id, cause)
}
