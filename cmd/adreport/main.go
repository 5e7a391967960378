package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron"

	"github.com/rewired-gh/adreport/internal/adsense"
	"github.com/rewired-gh/adreport/internal/config"
	"github.com/rewired-gh/adreport/internal/extractor"
	"github.com/rewired-gh/adreport/internal/logger"
	"github.com/rewired-gh/adreport/internal/mailer"
	"github.com/rewired-gh/adreport/internal/models"
	"github.com/rewired-gh/adreport/internal/pipeline"
	"github.com/rewired-gh/adreport/internal/telegram"
	"github.com/rewired-gh/adreport/internal/telemetry"
	"github.com/rewired-gh/adreport/internal/transformer"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	once       = flag.Bool("once", false, "Run the report once and exit")
	previewDir = flag.String("preview", "", "Write rendered previews of a sample report to this directory and exit")
	inputPath  = flag.String("input", "", "Read the raw report from a JSON file instead of the AdSense API")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Previews and file input need no AdSense credentials.
	validate := cfg.Validate
	if *previewDir != "" || *inputPath != "" {
		validate = cfg.ValidateReport
	}
	if err := validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	loc, err := cfg.Report.Location()
	if err != nil {
		logger.Fatal("Invalid report timezone: %v", err)
	}

	ext, err := extractor.New(cfg.Report.Metrics, cfg.Report.DimensionOffset, cfg.Report.Labels)
	if err != nil {
		logger.Fatal("Failed to initialize metric extractor: %v", err)
	}

	trCfg := transformer.DefaultConfig()
	trCfg.RecentDays = cfg.Report.RecentDays
	trCfg.Location = loc
	tr, err := transformer.New(ext, trCfg)
	if err != nil {
		logger.Fatal("Failed to initialize transformer: %v", err)
	}

	renderer, err := mailer.NewRenderer(cfg.Mail.AppName)
	if err != nil {
		logger.Fatal("Failed to initialize renderer: %v", err)
	}

	if *previewDir != "" {
		if err := writePreviews(*previewDir, *inputPath, trCfg, tr, renderer); err != nil {
			logger.Fatal("Failed to write previews: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var source pipeline.ReportSource
	if *inputPath != "" {
		source = adsense.FileSource{Path: *inputPath}
		logger.Info("Reading raw report from %s", *inputPath)
	} else {
		client, err := adsense.NewClient(ctx, adsense.ClientConfig{
			ClientID:       cfg.AdSense.ClientID,
			ClientSecret:   cfg.AdSense.ClientSecret,
			AccessToken:    cfg.AdSense.AccessToken,
			RefreshToken:   cfg.AdSense.RefreshToken,
			Account:        cfg.AdSense.Account,
			Metrics:        cfg.Report.Metrics,
			Dimensions:     cfg.Report.Dimensions,
			DateRange:      cfg.AdSense.DateRange,
			OrderBy:        cfg.AdSense.OrderBy,
			Timeout:        cfg.AdSense.Timeout,
			MaxRetries:     cfg.AdSense.MaxRetries,
			RetryDelayBase: cfg.AdSense.RetryDelayBase,
		})
		if err != nil {
			logger.Fatal("Failed to initialize AdSense client: %v", err)
		}
		source = client
		logger.Info("AdSense client initialized successfully")
	}

	var sender pipeline.Sender
	if cfg.Mail.Enabled {
		smtpSender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:           cfg.Mail.SMTPHost,
			Port:           cfg.Mail.SMTPPort,
			Username:       cfg.Mail.SMTPUsername,
			Password:       cfg.Mail.SMTPPassword,
			From:           cfg.Mail.From,
			ToAddress:      cfg.Mail.ToAddress,
			ToName:         cfg.Mail.ToName,
			MaxRetries:     cfg.Mail.MaxRetries,
			RetryDelayBase: cfg.Mail.RetryDelayBase,
		})
		if err != nil {
			logger.Fatal("Failed to initialize SMTP sender: %v", err)
		}
		sender = smtpSender
		logger.Info("Mail delivery to %s enabled", cfg.Mail.ToAddress)
	} else {
		logger.Debug("Mail delivery disabled")
	}

	var alerter pipeline.Alerter
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		alerter = telegramClient
		logger.Info("Telegram client initialized successfully")
		if !*once {
			telegramClient.ListenForCommands(ctx)
		}
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var recorder *telemetry.Recorder
	if cfg.Metrics.Enabled {
		recorder = telemetry.NewRecorder()
		if !*once {
			go func() {
				if err := recorder.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
					logger.Error("Metrics server stopped: %v", err)
				}
			}()
		}
	}

	p := pipeline.New(pipeline.Config{Locale: cfg.Mail.Locale}, source, tr, renderer, sender, alerter, recorder)

	if *once {
		if err := p.Run(ctx); err != nil {
			logger.Fatal("Report run failed: %v", err)
		}
		return
	}

	scheduler := gocron.NewScheduler(loc)
	scheduler.SingletonModeAll()

	if _, err := scheduler.Cron(cfg.Schedule.Cron).Do(func() {
		logger.Debug("Starting scheduled report run")
		// Failures are logged and alerted by the pipeline.
		_ = p.Run(ctx)
	}); err != nil {
		logger.Fatal("Invalid schedule %q: %v", cfg.Schedule.Cron, err)
	}

	logger.Info("Starting report service (schedule: %q, timezone: %s, locale: %s)",
		cfg.Schedule.Cron, loc, cfg.Mail.Locale)
	scheduler.StartAsync()

	<-ctx.Done()
	scheduler.Stop()
	logger.Info("Service stopped")
}

// writePreviews renders input, or the built-in sample when input is empty.
// The sample carries its own layout, independent of the configured catalog.
func writePreviews(dir, input string, trCfg transformer.Config, tr *transformer.Transformer, renderer *mailer.Renderer) error {
	var (
		raw *models.RawReport
		err error
	)
	if input != "" {
		raw, err = adsense.LoadFile(input)
	} else {
		tr, err = pipeline.NewSampleTransformer(trCfg)
		raw = pipeline.SampleReport(trCfg.Now().In(trCfg.Location))
	}
	if err != nil {
		return err
	}

	data, err := tr.Transform(raw)
	if err != nil {
		return err
	}

	paths, err := pipeline.WritePreviews(dir, renderer, data)
	if err != nil {
		return err
	}
	logger.Info("Email previews saved: %v", paths)
	return nil
}
