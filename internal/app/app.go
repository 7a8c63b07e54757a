// Package app wires the agent's configuration into a running process: one
// supervisor driving three reconciliation lanes per configured offering,
// plus the admin HTTP server, following the teacher's internal/app.Run
// split (config in, infra connected, then dispatch).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/sitebridge/internal/config"
	"github.com/wisbric/sitebridge/internal/httpserver"
	"github.com/wisbric/sitebridge/internal/telemetry"
	"github.com/wisbric/sitebridge/pkg/backendapi"
	"github.com/wisbric/sitebridge/pkg/controlplane"
	"github.com/wisbric/sitebridge/pkg/eventbus"
	"github.com/wisbric/sitebridge/pkg/notify"
	"github.com/wisbric/sitebridge/pkg/processor"
	"github.com/wisbric/sitebridge/pkg/restdriver"
	"github.com/wisbric/sitebridge/pkg/retry"
	"github.com/wisbric/sitebridge/pkg/supervisor"
	"github.com/wisbric/sitebridge/pkg/username"
)

// Run reads the environment config and offerings document, builds one
// OfferingAgent per offering, and runs the supervisor and admin HTTP
// server until ctx is cancelled.
func Run(ctx context.Context, cfg *config.EnvConfig) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	offerings, err := config.LoadOfferings(cfg.OfferingsFile)
	if err != nil {
		return fmt.Errorf("loading offerings: %w", err)
	}
	logger.Info("loaded offerings", "count", len(offerings))

	retryBackoff, err := time.ParseDuration(cfg.RetryBackoff)
	if err != nil {
		return fmt.Errorf("parsing retry backoff %q: %w", cfg.RetryBackoff, err)
	}
	retryOpts := retry.Options{Attempts: cfg.RetryAttempts, Backoff: retryBackoff}

	metricsReg := telemetry.NewRegistry()

	var bus eventbus.Bus
	for _, o := range offerings {
		if o.EventDriven {
			opts, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				return fmt.Errorf("parsing redis url: %w", parseErr)
			}
			rdb := redis.NewClient(opts)
			bus = &eventbus.RedisBus{Client: rdb}
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Error("closing redis client", "error", err)
				}
			}()
			break
		}
	}

	agents := make([]supervisor.OfferingAgent, 0, len(offerings))
	for _, offering := range offerings {
		agent, err := buildAgent(offering, logger, retryOpts, cfg.SlackBotToken)
		if err != nil {
			return fmt.Errorf("building agent for offering %q: %w", offering.Name, err)
		}
		agents = append(agents, agent)
	}

	agentSupervisor := &supervisor.AgentSupervisor{
		Agents: agents,
		Bus:    bus,
		Logger: logger,
	}

	srv := httpserver.NewServer(logger, metricsReg, agentSupervisor, cfg.CORSAllowedOrigins)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("admin server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin http server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		errCh <- agentSupervisor.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down admin server", "error", err)
		}
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// buildAgent assembles one offering's driver, control-plane client,
// processors, and notifier into a supervisor.OfferingAgent.
func buildAgent(offering backendapi.Offering, logger *slog.Logger, retryOpts retry.Options, slackBotToken string) (supervisor.OfferingAgent, error) {
	driver, err := buildDriver(offering, logger)
	if err != nil {
		return supervisor.OfferingAgent{}, err
	}

	control := controlplane.NewClient(offering.APIURL, offering.APIToken, offering.UserAgent, &http.Client{})
	notifier := notify.New(slackBotToken, offering.MessagingChannel, logger)

	usernames := &username.Manager{Store: username.NullStore{}, Generator: username.NullGenerator{}}

	orderProc := &processor.OrderProcessor{
		Offering:        offering,
		Control:         control,
		Driver:          driver,
		Logger:          logger,
		Notifier:        notifier,
		RetryOpts:       retryOpts,
		OrdersProcessed: telemetry.OrdersProcessedTotal,
	}
	membershipProc := &processor.MembershipProcessor{
		Offering:  offering,
		Control:   control,
		Driver:    driver,
		Logger:    logger,
		Notifier:  notifier,
		Usernames: usernames,
	}
	reportProc := &processor.ReportProcessor{
		Offering:       offering,
		Control:        control,
		Driver:         driver,
		Logger:         logger,
		Notifier:       notifier,
		RetryOpts:      retryOpts,
		UsageSubmitted: telemetry.UsageSubmittedTotal,
		UsageAnomalies: telemetry.UsageAnomaliesTotal,
	}

	return supervisor.OfferingAgent{
		Offering:   offering,
		Orders:     orderProc,
		Membership: membershipProc,
		Report:     reportProc,
	}, nil
}

// buildDriver selects a concrete backendapi.Driver for offering.BackendType.
// Only "rest" (the reference Waldur-to-Waldur federated driver) ships in
// this core; other backend types are out of scope (spec.md §1, "Concrete
// backend drivers ... specified only by the interfaces the core
// consumes").
func buildDriver(offering backendapi.Offering, logger *slog.Logger) (backendapi.Driver, error) {
	switch offering.BackendType {
	case "rest", "":
		return restdriver.NewDriver(offering, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend_type %q", offering.BackendType)
	}
}
