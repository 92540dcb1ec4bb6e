package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"

	"radiology-workflow/internal/config"
	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/events"
	"radiology-workflow/internal/metrics"
	"radiology-workflow/internal/models"
	"radiology-workflow/internal/notify"
	"radiology-workflow/internal/routing"
	"radiology-workflow/internal/store"
	"radiology-workflow/internal/workflow"
	"radiology-workflow/internal/worklist"
)

// buildSender routes each channel to its configured transport. Anything
// without a transport, and everything in dry-run mode, is logged.
func buildSender(cfg *config.Config, directory *notify.Directory, logger *slog.Logger) (critical.Sender, error) {
	fallback := notify.NewLogSender(logger)
	if cfg.Notifications.DryRun {
		logger.Info("notifications in dry-run mode")
		return fallback, nil
	}

	router := notify.NewRouter(fallback)
	if url := cfg.Notifications.NtfyURL; url != "" {
		router.Handle(notify.NewNtfySender(url, cfg.RequestTimeout(), directory), models.ChannelInApp, models.ChannelEmail)
		logger.Info("ntfy transport enabled", "url", url)
	}
	if region := cfg.Notifications.SNSRegion; region != "" {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		router.Handle(notify.NewSNSSender(sns.New(sess), directory), models.ChannelSMS, models.ChannelPager, models.ChannelPhoneCall)
		logger.Info("sns transport enabled", "region", region)
	}
	return router, nil
}

func buildEngine(cfg *config.Config, sender critical.Sender, directory *notify.Directory, logger *slog.Logger) *workflow.Engine {
	router := routing.NewEngine(logger)
	wl := worklist.NewManager(logger)
	cp := critical.NewProcessor(sender,
		critical.WithResolver(directory),
		critical.WithLogger(logger),
	)
	return workflow.NewEngine(router, wl, cp, workflow.Config{
		DefaultEstimate: cfg.DefaultEstimate(),
		DueOffsets:      cfg.DueOffsets(),
		AdminRecipient:  cfg.Workflow.AdminRecipient,
		AdminChannels:   cfg.AdminChannels(),
		OutboxCapacity:  cfg.Workflow.OutboxCapacity,
	}, workflow.WithLogger(logger))
}

// sinks holds the outbox consumers that need closing on shutdown.
type sinks struct {
	publisher events.Publisher
	store     *store.Store
	nats      *events.NATSPublisher
}

func (s *sinks) Close() {
	if s.nats != nil {
		s.nats.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

func buildSinks(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) (*sinks, error) {
	out := &sinks{}
	fanout := events.Fanout{collector, events.LogPublisher{Logger: logger}}

	if cfg.Database.Driver != "" {
		st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		out.store = st
		fanout = append(fanout, st)
		logger.Info("event journal enabled", "driver", cfg.Database.Driver)
	}

	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		out.nats = pub
		fanout = append(fanout, pub)
		logger.Info("nats publisher enabled", "url", cfg.NATS.URL)
	}

	out.publisher = fanout
	return out, nil
}
