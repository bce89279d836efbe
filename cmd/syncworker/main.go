// Command syncworker runs a single pass of the record collection sync:
// load configuration, wire the credential manager, rate limiter,
// concurrency queue, retry engine and request pipeline into an
// orchestrator, run it, and print the resulting report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/basalt-labs/recordsync/internal/config"
	"github.com/basalt-labs/recordsync/internal/logctx"
	"github.com/basalt-labs/recordsync/internal/orchestrator"
	"github.com/basalt-labs/recordsync/pkg/credential"
	"github.com/basalt-labs/recordsync/pkg/pipeline"
	"github.com/basalt-labs/recordsync/pkg/ratelimit"
	"github.com/basalt-labs/recordsync/pkg/retry"
	"github.com/basalt-labs/recordsync/pkg/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the sync worker's YAML config file")
	flag.Parse()

	os.Exit(run(*configPath))
}

func run(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		logctx.Error("failed to load configuration", logctx.F("error", err), logctx.F("path", configPath))
		return 1
	}

	xport := transport.NewStdlib(&http.Client{Timeout: cfg.FetchTimeout()})

	cred := credential.New(credential.Config{
		BaseURL:   cfg.BaseURL,
		Identity:  cfg.Identity,
		Secret:    cfg.Secret,
		Transport: xport,
	})

	limiter := ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitWindow())

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
		Jitter:      cfg.RetryJitter(),
	}

	client := pipeline.New(pipeline.Config{
		BaseURL:    cfg.BaseURL,
		Transport:  xport,
		Limiter:    limiter,
		Credential: cred,
		Policy:     &retryPolicy,
		Timeout:    cfg.SyncTimeout(),
	})

	orch, err := orchestrator.New(orchestrator.Config{
		Pipeline:    client,
		PageSize:    cfg.PageSize,
		MaxParallel: cfg.MaxParallelSyncs,
		SaveRecord:  logOnlySaveRecord,
		OnRecordComplete: func(sr orchestrator.SyncResult) {
			if sr.Outcome == orchestrator.OutcomeFailure {
				logctx.Error("record sync failed", logctx.F("record_id", sr.RecordID), logctx.F("error", sr.Err))
			}
		},
	})
	if err != nil {
		logctx.Error("failed to construct orchestrator", logctx.F("error", err))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout()+cfg.SyncTimeout()*10)
	defer cancel()

	report, err := orch.Run(ctx)
	if err != nil {
		logctx.Error("sync run failed", logctx.F("error", err))
		return 1
	}

	if encodeErr := json.NewEncoder(os.Stdout).Encode(reportView(report)); encodeErr != nil {
		logctx.Error("failed to write report", logctx.F("error", encodeErr))
		return 1
	}

	if report.FailureCount > 0 {
		return 1
	}
	return 0
}

// logOnlySaveRecord is the default SaveRecord collaborator: the
// persistence layer is out of this module's scope, so the binary
// merely logs what it would have saved.
func logOnlySaveRecord(ctx context.Context, rec orchestrator.Record) error {
	logctx.Warn("save_record not wired; skipping persistence", logctx.F("record_id", rec.ID))
	return nil
}

// reportJSON is the JSON-serializable shape of an orchestrator.Report
// — the domain type keeps error values as `error`, which doesn't
// marshal usefully on its own.
type reportJSON struct {
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	Total        int                `json:"total"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
	TotalRetries int                `json:"total_retries"`
	Failures     []failureEntryJSON `json:"failures"`
}

type failureEntryJSON struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

func reportView(r *orchestrator.Report) reportJSON {
	failures := make([]failureEntryJSON, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = failureEntryJSON{RecordID: f.RecordID, Message: f.Message}
	}
	return reportJSON{
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Total:        r.Total,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		TotalRetries: r.TotalRetries,
		Failures:     failures,
	}
}
