// Package orchestrator drives a full sync run: page through the
// upstream record collection, fan each record out to the concurrency
// queue for a per-record sync call, and aggregate the results into a
// report. Grounded on the fan-out/collect shape of the teacher's
// backend/handlers/generate.go and the outcome-recording idiom in
// oauthmanager.go's ExecuteWithFailover.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basalt-labs/recordsync/internal/syncerr"
	"github.com/basalt-labs/recordsync/pkg/concqueue"
	"github.com/basalt-labs/recordsync/pkg/pipeline"
)

// Record is the opaque unit of work: an ID plus whatever JSON payload
// the collection endpoint attached to it.
type Record struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outcome classifies a single record's sync result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SyncResult is the per-record outcome the orchestrator collects
// before a task's result ever escapes the concurrency queue.
type SyncResult struct {
	RecordID        string
	Outcome         Outcome
	Err             error
	RetriesConsumed int
	WallDuration    time.Duration
}

// FailureEntry is a report-level summary of one failed record.
type FailureEntry struct {
	RecordID string
	Message  string
}

// Report aggregates a full run.
type Report struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Total        int
	SuccessCount int
	FailureCount int
	TotalRetries int
	Results      []SyncResult
	Failures     []FailureEntry
}

// SaveRecord persists a successfully synced record. Persistence
// internals are out of this module's scope — the caller supplies this.
type SaveRecord func(ctx context.Context, rec Record) error

type collectionResponse struct {
	Data       []Record       `json:"data"`
	Pagination paginationInfo `json:"pagination"`
}

type paginationInfo struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

type recordSyncResponse struct {
	Success  bool   `json:"success"`
	RecordID string `json:"record_id"`
	SyncedAt string `json:"synced_at"`
	Message  string `json:"message,omitempty"`
}

// Config configures an Orchestrator.
type Config struct {
	Pipeline    *pipeline.Client
	PageSize    int
	MaxParallel int
	SaveRecord  SaveRecord
	// OnRecordComplete is an optional hook, invoked once per record from
	// the goroutine running Run, in record order, after every record's
	// sync task has completed.
	OnRecordComplete func(SyncResult)
}

// Orchestrator runs a full collection-fetch-then-sync-every-record pass.
type Orchestrator struct {
	pipeline         *pipeline.Client
	queue            *concqueue.Queue[SyncResult]
	pageSize         int
	saveRecord       SaveRecord
	onRecordComplete func(SyncResult)
}

// New constructs an Orchestrator. Returns ConfigurationInvalid if
// MaxParallel is less than 1.
func New(cfg Config) (*Orchestrator, error) {
	queue, err := concqueue.New[SyncResult](cfg.MaxParallel)
	if err != nil {
		return nil, err
	}
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = 1
	}
	return &Orchestrator{
		pipeline:         cfg.Pipeline,
		queue:            queue,
		pageSize:         pageSize,
		saveRecord:       cfg.SaveRecord,
		onRecordComplete: cfg.OnRecordComplete,
	}, nil
}

// Run fetches every page of the record collection, submits one
// per-record sync task per record, and returns the aggregate report.
// Pagination failures propagate to the caller; per-record failures do
// not — they are captured into that record's SyncResult.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	started := time.Now()

	records, err := o.fetchAllRecords(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]concqueue.Item[SyncResult], len(records))
	for i, rec := range records {
		rec := rec
		items[i] = concqueue.Item[SyncResult]{
			Priority: 0,
			Fn: func(ctx context.Context) (SyncResult, error) {
				result := o.syncRecord(ctx, rec)
				return result, nil
			},
		}
	}

	results := o.queue.SubmitAll(ctx, items)

	report := &Report{StartedAt: started, Total: len(records)}
	for _, r := range results {
		sr := r.Value
		if o.onRecordComplete != nil {
			o.onRecordComplete(sr)
		}
		report.Results = append(report.Results, sr)
		report.TotalRetries += sr.RetriesConsumed
		if sr.Outcome == OutcomeSuccess {
			report.SuccessCount++
			continue
		}
		report.FailureCount++
		msg := ""
		if sr.Err != nil {
			msg = sr.Err.Error()
		}
		report.Failures = append(report.Failures, FailureEntry{RecordID: sr.RecordID, Message: msg})
	}
	report.FinishedAt = time.Now()

	return report, nil
}

// fetchAllRecords walks the collection endpoint's pagination protocol
// sequentially — pagination is never per-record parallel.
func (o *Orchestrator) fetchAllRecords(ctx context.Context) ([]Record, error) {
	var all []Record
	page := 1
	for {
		var resp collectionResponse
		path := fmt.Sprintf("/api/records?page=%d&per_page=%d", page, o.pageSize)
		if err := o.pipeline.Get(ctx, path, &resp, 0); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if !resp.Pagination.HasMore {
			break
		}
		page++
	}
	return all, nil
}

// syncRecord invokes the per-record sync endpoint, persists the record
// on success, and always returns a SyncResult — it never surfaces an
// error to its caller, per the queue's failure-isolation boundary.
func (o *Orchestrator) syncRecord(ctx context.Context, rec Record) SyncResult {
	start := time.Now()

	var resp recordSyncResponse
	attempts, err := o.pipeline.PostTracked(ctx, fmt.Sprintf("/api/records/%s/sync", rec.ID), struct{}{}, &resp, 0)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	if err != nil {
		return SyncResult{RecordID: rec.ID, Outcome: OutcomeFailure, Err: err, RetriesConsumed: retries, WallDuration: time.Since(start)}
	}

	if !resp.Success {
		failErr := syncerr.Validation(resp.Message)
		return SyncResult{RecordID: rec.ID, Outcome: OutcomeFailure, Err: failErr, RetriesConsumed: retries, WallDuration: time.Since(start)}
	}

	if o.saveRecord != nil {
		if saveErr := o.saveRecord(ctx, rec); saveErr != nil {
			wrapped := syncerr.DatabaseFailure(saveErr)
			return SyncResult{RecordID: rec.ID, Outcome: OutcomeFailure, Err: wrapped, RetriesConsumed: retries, WallDuration: time.Since(start)}
		}
	}

	return SyncResult{RecordID: rec.ID, Outcome: OutcomeSuccess, RetriesConsumed: retries, WallDuration: time.Since(start)}
}
