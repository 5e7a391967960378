package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/adreport/internal/extractor"
	"github.com/rewired-gh/adreport/internal/mailer"
	"github.com/rewired-gh/adreport/internal/models"
	mock_pipeline "github.com/rewired-gh/adreport/internal/pipeline/mocks"
	"github.com/rewired-gh/adreport/internal/telemetry"
	"github.com/rewired-gh/adreport/internal/transformer"
)

var fixedNow = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

func newTransformer(t *testing.T) *transformer.Transformer {
	t.Helper()
	ext, err := extractor.New(SampleCatalog, SampleOffset, nil)
	require.NoError(t, err)

	cfg := transformer.DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	tr, err := transformer.New(ext, cfg)
	require.NoError(t, err)
	return tr
}

func newRenderer(t *testing.T) *mailer.Renderer {
	t.Helper()
	r, err := mailer.NewRenderer("AdReport")
	require.NoError(t, err)
	return r
}

func TestSampleReportTransform(t *testing.T) {
	data, err := newTransformer(t).Transform(SampleReport(fixedNow))
	require.NoError(t, err)

	assert.InDelta(t, 75.0, data.KeyMetrics.Today, 1e-9)
	assert.InDelta(t, 79.8, data.KeyMetrics.Yesterday, 1e-9)
	assert.InDelta(t, 420.0, data.KeyMetrics.ThisMonth, 1e-9)

	change := data.YesterdayChange
	assert.True(t, change.ShowComparison)
	assert.Equal(t, models.DirectionUp, change.Direction)
	assert.InDelta(t, 49.8, change.Amount, 1e-9)
	assert.InDelta(t, 166.0, change.Percentage, 1e-9)

	assert.Len(t, data.RecentDays, 7)
	require.Len(t, data.DomainBreakdown, 2)
	assert.Equal(t, "example.com", data.DomainBreakdown[0].Domain)
	assert.Equal(t, "blog.example.com", data.DomainBreakdown[1].Domain)
}

func TestRunSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_pipeline.NewMockReportSource(ctrl)
	sender := mock_pipeline.NewMockSender(ctrl)
	alerter := mock_pipeline.NewMockAlerter(ctrl)
	recorder := telemetry.NewRecorder()

	source.EXPECT().Report(gomock.Any()).Return(SampleReport(fixedNow), nil)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg *mailer.Message) error {
		assert.Equal(t, "ja", msg.Locale)
		assert.Equal(t, "AdSense レポート（今月）", msg.Subject)
		assert.Contains(t, msg.Body, "¥420")
		return nil
	})
	alerter.EXPECT().SendSummary(gomock.Any()).Return(nil)

	p := New(Config{Locale: "ja"}, source, newTransformer(t), newRenderer(t), sender, alerter, recorder)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 0, p.ConsecutiveFailures())

	count, err := testutil.GatherAndCount(recorder.Registry(), "adreport_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(recorder.Registry(), "adreport_earnings")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunSummaryFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_pipeline.NewMockReportSource(ctrl)
	alerter := mock_pipeline.NewMockAlerter(ctrl)

	source.EXPECT().Report(gomock.Any()).Return(SampleReport(fixedNow), nil)
	alerter.EXPECT().SendSummary(gomock.Any()).Return(errors.New("telegram down"))

	p := New(Config{Locale: "en"}, source, newTransformer(t), newRenderer(t), nil, alerter, nil)
	assert.NoError(t, p.Run(context.Background()))
}

func TestRunFailureAndRecovery(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_pipeline.NewMockReportSource(ctrl)
	alerter := mock_pipeline.NewMockAlerter(ctrl)
	fetchErr := errors.New("quota exceeded")

	gomock.InOrder(
		source.EXPECT().Report(gomock.Any()).Return(nil, fetchErr).Times(2),
		source.EXPECT().Report(gomock.Any()).Return(SampleReport(fixedNow), nil),
	)
	// Only the first failure of a sequence is reported.
	alerter.EXPECT().SendError(gomock.Any()).DoAndReturn(func(err error) error {
		assert.ErrorIs(t, err, fetchErr)
		return nil
	}).Times(1)
	alerter.EXPECT().SendSummary(gomock.Any()).Return(nil)
	alerter.EXPECT().SendRecovery(2).Return(nil)

	p := New(Config{Locale: "en"}, source, newTransformer(t), newRenderer(t), nil, alerter, nil)

	err := p.Run(context.Background())
	require.Error(t, err)
	stage, ok := FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, StageFetch, stage)

	require.Error(t, p.Run(context.Background()))
	assert.Equal(t, 2, p.ConsecutiveFailures())

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 0, p.ConsecutiveFailures())
}

func TestRunStageErrors(t *testing.T) {
	tests := []struct {
		name      string
		locale    string
		report    *models.RawReport
		sendErr   error
		wantStage string
		wantErr   error
	}{
		{
			name:      "missing totals",
			locale:    "en",
			report:    &models.RawReport{},
			wantStage: StageTransform,
			wantErr:   models.ErrMissingTotals,
		},
		{
			name:      "unknown locale",
			locale:    "fr",
			report:    SampleReport(fixedNow),
			wantStage: StageRender,
			wantErr:   models.ErrUnknownLocale,
		},
		{
			name:      "send failure",
			locale:    "en",
			report:    SampleReport(fixedNow),
			sendErr:   errors.New("connection refused"),
			wantStage: StageSend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			source := mock_pipeline.NewMockReportSource(ctrl)
			sender := mock_pipeline.NewMockSender(ctrl)
			recorder := telemetry.NewRecorder()

			source.EXPECT().Report(gomock.Any()).Return(tt.report, nil)
			if tt.sendErr != nil {
				sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(tt.sendErr)
			}

			p := New(Config{Locale: tt.locale}, source, newTransformer(t), newRenderer(t), sender, nil, recorder)
			err := p.Run(context.Background())
			require.Error(t, err)

			stage, ok := FailedStage(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantStage, stage)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.sendErr != nil {
				assert.ErrorIs(t, err, tt.sendErr)
			}

			count, err := testutil.GatherAndCount(recorder.Registry(), "adreport_stage_errors_total")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			// A failed run never publishes earnings, even after a successful transform.
			count, err = testutil.GatherAndCount(recorder.Registry(), "adreport_earnings")
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestWritePreviews(t *testing.T) {
	data, err := newTransformer(t).Transform(SampleReport(fixedNow))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "previews")
	paths, err := WritePreviews(dir, newRenderer(t), data)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "adsense-mail-preview-en.txt"),
		filepath.Join(dir, "adsense-mail-preview-ja.txt"),
	}, paths)

	en, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(en), "Subject: AdSense Report (This Month)")
	assert.Contains(t, string(en), "$420.00")
	assert.Contains(t, string(en), "example.com")

	ja, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(ja), "Subject: AdSense レポート（今月）")
	assert.Contains(t, string(ja), "¥420")
}

func TestNewSampleTransformerIgnoresConfiguredLayout(t *testing.T) {
	// A reordered catalog reads page views as earnings.
	ext, err := extractor.New([]string{"ESTIMATED_EARNINGS", "PAGE_VIEWS"}, 2, nil)
	require.NoError(t, err)
	cfg := transformer.DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	configured, err := transformer.New(ext, cfg)
	require.NoError(t, err)

	misread, err := configured.Transform(SampleReport(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, 5000.0, misread.KeyMetrics.ThisMonth)

	sample, err := NewSampleTransformer(cfg)
	require.NoError(t, err)
	data, err := sample.Transform(SampleReport(fixedNow))
	require.NoError(t, err)
	assert.InDelta(t, 420.0, data.KeyMetrics.ThisMonth, 1e-9)
	assert.InDelta(t, 79.8, data.KeyMetrics.Yesterday, 1e-9)
	require.Len(t, data.DomainBreakdown, 2)
	assert.Equal(t, "example.com", data.DomainBreakdown[0].Domain)
}
