// Package pipeline runs one report cycle: fetch, transform, render and deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/adreport/internal/logger"
	"github.com/rewired-gh/adreport/internal/mailer"
	"github.com/rewired-gh/adreport/internal/models"
	"github.com/rewired-gh/adreport/internal/telemetry"
	"github.com/rewired-gh/adreport/internal/transformer"
)

// Pipeline stages, used as failure labels.
const (
	StageFetch     = "fetch"
	StageTransform = "transform"
	StageRender    = "render"
	StageSend      = "send"
)

// StageError is a run failure attributed to a stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Config struct {
	Locale string
}

type Pipeline struct {
	config      Config
	source      ReportSource
	transformer *transformer.Transformer
	renderer    *mailer.Renderer
	sender      Sender
	alerter     Alerter
	recorder    *telemetry.Recorder

	mu                  sync.Mutex
	consecutiveFailures int
}

// New wires a pipeline. sender, alerter and recorder are optional.
func New(
	config Config,
	source ReportSource,
	tr *transformer.Transformer,
	renderer *mailer.Renderer,
	sender Sender,
	alerter Alerter,
	recorder *telemetry.Recorder,
) *Pipeline {
	return &Pipeline{
		config:      config,
		source:      source,
		transformer: tr,
		renderer:    renderer,
		sender:      sender,
		alerter:     alerter,
		recorder:    recorder,
	}
}

// Run executes one cycle and tracks consecutive failures. The first failure
// of a sequence and the recovery after it are reported to the alerter.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime := time.Now()
	runID := uuid.New().String()
	logger.Info("Starting report run %s", runID)

	data, err := p.execute(ctx, runID)
	p.handleResult(err)

	duration := time.Since(startTime)
	if p.recorder != nil {
		result := telemetry.ResultSuccess
		if err != nil {
			result = telemetry.ResultFailure
		}
		p.recorder.ObserveRun(result, duration, time.Now())
		if err == nil {
			p.recorder.ObserveEarnings(data.KeyMetrics.Today, data.KeyMetrics.Yesterday, data.KeyMetrics.ThisMonth)
		}
	}

	if err != nil {
		logger.Error("Report run %s failed after %v: %v", runID, duration, err)
		return err
	}
	logger.Info("Report run %s completed in %v", runID, duration)
	return nil
}

// ConsecutiveFailures returns the length of the current failure sequence.
func (p *Pipeline) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures
}

func (p *Pipeline) execute(ctx context.Context, runID string) (*models.NotificationData, error) {
	logger.Debug("Run %s: fetching report", runID)
	raw, err := p.source.Report(ctx)
	if err != nil {
		return nil, p.stageError(StageFetch, err)
	}
	logger.Info("Run %s: fetched report with %d rows", runID, len(raw.Rows))

	data, err := p.transformer.Transform(raw)
	if err != nil {
		return nil, p.stageError(StageTransform, err)
	}
	logger.Info("Run %s: today=%.2f yesterday=%.2f this_month=%.2f, %d domains",
		runID, data.KeyMetrics.Today, data.KeyMetrics.Yesterday, data.KeyMetrics.ThisMonth, len(data.DomainBreakdown))

	msg, err := p.renderer.Render(p.config.Locale, data)
	if err != nil {
		return data, p.stageError(StageRender, err)
	}

	if p.sender != nil {
		if err := p.sender.Send(ctx, msg); err != nil {
			return data, p.stageError(StageSend, err)
		}
		logger.Info("Run %s: sent %s report %q", runID, msg.Locale, msg.Subject)
	} else {
		logger.Debug("Run %s: mail delivery disabled, skipping send", runID)
	}

	if p.alerter != nil {
		if err := p.alerter.SendSummary(data); err != nil {
			logger.Warn("Run %s: failed to send summary to Telegram: %v", runID, err)
		}
	}

	return data, nil
}

func (p *Pipeline) stageError(stage string, err error) error {
	if p.recorder != nil {
		p.recorder.ObserveStageError(stage)
	}
	return &StageError{Stage: stage, Err: err}
}

func (p *Pipeline) handleResult(err error) {
	if err != nil {
		p.consecutiveFailures++
		if p.consecutiveFailures == 1 && p.alerter != nil {
			if sendErr := p.alerter.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return
	}

	if p.consecutiveFailures > 0 && p.alerter != nil {
		if sendErr := p.alerter.SendRecovery(p.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
		}
	}
	p.consecutiveFailures = 0
}

// FailedStage returns the stage err is attributed to, if any.
func FailedStage(err error) (string, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
