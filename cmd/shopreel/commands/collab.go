package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/shopreel/ai/openrouter"
	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/assets"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/logger"
	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/retouch"
	"github.com/teranos/shopreel/script"
	"github.com/teranos/shopreel/synth"
	"github.com/teranos/shopreel/vision"
)

// buildCollaborators constructs the vendor clients for every pipeline
// stage from configuration. The database is threaded through so each
// paid call lands in ai_model_usage for budget enforcement.
func buildCollaborators(ctx context.Context, cfg *am.Config, database *sql.DB, verbosity int) (pipeline.Collaborators, error) {
	log := logger.Logger

	fetcher := pipeline.NewImageFetcher(cfg.Pipeline.FetchMaxRequestsPerMinute, 0, log)

	visionClient := openrouter.NewClient(openrouter.Config{
		APIKey:        cfg.OpenRouter.APIKey,
		Model:         cfg.GetVisionModel(),
		Temperature:   cfg.OpenRouter.Temperature,
		MaxTokens:     cfg.OpenRouter.MaxTokens,
		Logger:        log,
		DB:            database,
		Verbosity:     verbosity,
		OperationType: tracker.OpVisionClassify,
		EntityType:    tracker.EntityReelJob,
	})
	classifier := vision.NewClassifier(visionClient, cfg.GetVisionModel())

	transformer := retouch.NewClient(retouch.Config{
		BaseURL:   cfg.Retouch.BaseURL,
		APIKey:    cfg.Retouch.APIKey,
		Model:     cfg.Retouch.Model,
		Timeout:   time.Duration(cfg.Retouch.TimeoutSeconds) * time.Second,
		Logger:    log,
		DB:        database,
		Verbosity: verbosity,
	})

	publisher, err := assets.NewPublisher(assets.Config{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		UseSSL:          cfg.Storage.UseSSL,
		Logger:          log,
	})
	if err != nil {
		return pipeline.Collaborators{}, errors.Wrap(err, "failed to create asset publisher")
	}

	// Create the bucket up front so the first publish of the first job
	// never races bucket creation. An unreachable store fails startup,
	// not a job mid-pipeline.
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := publisher.EnsureBucket(bucketCtx); err != nil {
		return pipeline.Collaborators{}, errors.Wrap(err, "storage bucket unavailable")
	}

	scriptClient := openrouter.NewClient(openrouter.Config{
		APIKey:        cfg.OpenRouter.APIKey,
		Model:         cfg.GetScriptModel(),
		Temperature:   cfg.OpenRouter.Temperature,
		MaxTokens:     cfg.Script.MaxTokens,
		Logger:        log,
		DB:            database,
		Verbosity:     verbosity,
		OperationType: tracker.OpScriptWrite,
		EntityType:    tracker.EntityReelJob,
	})
	writer := script.NewWriter(scriptClient, cfg.GetScriptModel(), cfg.Script.MaxTokens)

	synthesizer := synth.NewClient(synth.Config{
		BaseURL:           cfg.Synth.BaseURL,
		APIKey:            cfg.Synth.APIKey,
		Model:             cfg.Synth.Model,
		AspectRatio:       cfg.Synth.AspectRatio,
		DurationSeconds:   cfg.Synth.DurationSeconds,
		Watermark:         cfg.Synth.Watermark,
		TaskCostUSD:       cfg.Synth.TaskCostUSD,
		RequestsPerSecond: cfg.Synth.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Synth.TimeoutSeconds) * time.Second,
		Logger:            log,
		DB:                database,
		Verbosity:         verbosity,
	})

	return pipeline.Collaborators{
		Fetcher:     fetcher,
		Classifier:  classifier,
		Transformer: transformer,
		Publisher:   publisher,
		Writer:      writer,
		Synthesizer: synthesizer,
	}, nil
}

// orchestratorConfigFromAm maps the pipeline config section onto the
// orchestrator bounds. An explicit max_remediation_rounds of 0 means
// fail on the first policy rejection; the config defaults fill the rest.
func orchestratorConfigFromAm(cfg *am.Config) pipeline.OrchestratorConfig {
	return pipeline.OrchestratorConfig{
		MaxPollAttempts:      cfg.Pipeline.MaxPollAttempts,
		PollInterval:         time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second,
		MaxRemediationRounds: cfg.Pipeline.MaxRemediationRounds,
	}
}
