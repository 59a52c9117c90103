package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expertmarket/internal/config"
	"expertmarket/internal/db"
	"expertmarket/internal/errtrack"
	"expertmarket/internal/gateway"
	internalhttp "expertmarket/internal/http"
	"expertmarket/internal/notify"
	"expertmarket/internal/scheduler"
	"expertmarket/internal/services"
	"expertmarket/internal/settlement"
	"expertmarket/internal/store"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "settlementd",
		Short:         "Session marketplace payment settlement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(
		serveCmd(&cfgPath),
		workerCmd(&cfgPath),
		runCmd(&cfgPath),
		migrateCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

type app struct {
	cfg       *config.Config
	pool      *db.Pool
	store     *store.Store
	scheduler *scheduler.Scheduler
	orders    *services.OrderService
}

func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}

	st := store.New(pool)
	gw := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)

	var notifier notify.Service = notify.NewHTTPService(cfg.Notify.BaseURL)
	var reporter errtrack.Reporter = errtrack.LogReporter{}
	if cfg.ErrTrack.BaseURL != "" {
		reporter = errtrack.NewHTTPReporter(cfg.ErrTrack.BaseURL)
	}

	settler := &settlement.Service{
		Store:             st,
		Gateway:           gw,
		Currency:          cfg.Gateway.Currency,
		LateRefundPercent: cfg.Billing.LateCancellationRefundPct,
	}

	sched := &scheduler.Scheduler{
		Store:              st,
		Settlement:         settler,
		Notifier:           notifier,
		Reporter:           reporter,
		PageLimit:          cfg.Scheduler.PageLimit,
		AuthWindow:         time.Duration(cfg.Billing.PaymentAuthWindowDays) * 24 * time.Hour,
		AutoCancelWindow:   time.Duration(cfg.Billing.FailedPaymentAutoCancelHours) * time.Hour,
		AuthorizerInterval: time.Duration(cfg.Scheduler.AuthorizerIntervalSeconds) * time.Second,
		ProcessorInterval:  time.Duration(cfg.Scheduler.ProcessorIntervalSeconds) * time.Second,
		CancellerInterval:  time.Duration(cfg.Scheduler.CancellerIntervalSeconds) * time.Second,
		AttendanceInterval: time.Duration(cfg.Scheduler.AttendanceIntervalSeconds) * time.Second,
		PresenceEndpoint:   cfg.Presence.WSEndpoint,
	}

	orders := &services.OrderService{
		Store:                  st,
		Settlement:             settler,
		Currency:               cfg.Gateway.Currency,
		LateCancellationCutoff: time.Duration(cfg.Billing.LateCancellationCutoffHours) * time.Hour,
	}

	return &app{
		cfg:       cfg,
		pool:      pool,
		store:     st,
		scheduler: sched,
		orders:    orders,
	}, nil
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the commerce HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			h := internalhttp.NewHandler(a.orders)
			srv := internalhttp.NewServer(h)
			httpServer := &http.Server{
				Addr:    a.cfg.Server.Addr,
				Handler: srv.Router,
			}

			go func() {
				log.Printf("api listening on %s", a.cfg.Server.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("server error: %v", err)
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(ctxShutdown)
		},
	}
}

func workerCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run all settlement batch jobs and the check-in feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			log.Printf("scheduler started")
			a.scheduler.Run(ctx)
			return nil
		},
	}
}

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "run [authorizer|processor|canceller|attendance]",
		Short:     "Run a single batch job once and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"authorizer", "processor", "canceller", "attendance"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			switch args[0] {
			case "authorizer":
				return a.scheduler.RunAuthorizerOnce(ctx)
			case "processor":
				return a.scheduler.RunProcessorOnce(ctx)
			case "canceller":
				return a.scheduler.RunCancellerOnce(ctx)
			case "attendance":
				return a.scheduler.RunAttendanceOnce(ctx)
			default:
				return fmt.Errorf("unknown job %q", args[0])
			}
		},
	}
}
