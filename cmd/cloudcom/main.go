package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/malluvkcr7/cloudcom/pkg/client"
	"github.com/malluvkcr7/cloudcom/pkg/config"
	"github.com/malluvkcr7/cloudcom/pkg/controller"
	"github.com/malluvkcr7/cloudcom/pkg/health"
	"github.com/malluvkcr7/cloudcom/pkg/log"
	"github.com/malluvkcr7/cloudcom/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cloudcom",
	Short: "cloudcom - replicated key-value store",
	Long: `cloudcom is a small replicated key-value store: one controller
partitions a flat key-space across storage workers, every key is kept on
three replicas, and quorum writes with heartbeat-driven recovery keep the
data readable and writable through the failure of any one worker.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cloudcom version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the cloudcom controller",
	Long: `Run the controller: worker registry, partition mapping, failure
detection, and recovery dispatch.

Configuration comes from the environment (REPLICAS, HEARTBEAT_TIMEOUT,
CHECK_INTERVAL), optionally seeded from a YAML file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		listen, _ := cmd.Flags().GetString("listen")

		cfg, err := config.LoadController(cfgFile)
		if err != nil {
			return err
		}
		if listen != "" {
			cfg.Listen = listen
		}

		c := controller.New(cfg)
		c.Start()
		defer c.Stop()

		return serve(cfg.Listen, c.Router())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a cloudcom storage worker",
	Long: `Run a storage worker: durable local store, write coordination,
replication receipt, pull responder, and heartbeat emitter.

Configuration comes from the environment (CONTROLLER, ADDRESS, ID,
WRITE_QUORUM, DATA_DIR, REQUEST_TIMEOUT, HEARTBEAT_INTERVAL), optionally
seeded from a YAML file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		listen, _ := cmd.Flags().GetString("listen")

		cfg, err := config.LoadWorker(cfgFile)
		if err != nil {
			return err
		}
		if listen != "" {
			cfg.Listen = listen
		}

		w, err := worker.New(cfg)
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()

		return serve(cfg.Listen, w.Router())
	},
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains in-flight
// requests for up to 15 seconds.
func serve(listen string, handler http.Handler) error {
	srv := &http.Server{
		Addr:    listen,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Write a key through a worker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("worker")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		resp, err := client.NewWorker(timeout).Put(addr, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s (acks: %d)\n", resp.Key, resp.Value, resp.Acks)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a key from a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("worker")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		value, err := client.NewWorker(timeout).Get(addr, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys held by a worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("worker")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		keys, err := client.NewWorker(timeout).Keys(addr)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List the controller's worker registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("controller")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		workers, err := client.NewController(addr, timeout).Workers()
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %-28s %-6s %s\n", "ID", "ADDRESS", "LIVE", "LAST HEARTBEAT")
		for _, w := range workers {
			fmt.Printf("%-16s %-28s %-6t %s\n", w.ID, w.Address, w.Live, w.LastHeartbeat.Format(time.RFC3339))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the controller and every registered worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("controller")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctrl := client.NewController(addr, timeout)
		h, err := ctrl.Health()
		if err != nil {
			return err
		}
		fmt.Printf("controller: %s (%d live workers)\n", h.Status, h.WorkersCount)

		workers, err := ctrl.Workers()
		if err != nil {
			return err
		}
		for _, w := range workers {
			probe := health.NewHTTPChecker(w.Address + "/health").
				WithTimeout(timeout).
				Check(cmd.Context())
			state := "ok"
			if !probe.Healthy {
				state = probe.Message
			}
			fmt.Printf("worker %s at %s: registry=%v probe=%s\n", w.ID, w.Address, w.Live, state)
		}
		return nil
	},
}

func init() {
	controllerCmd.Flags().String("listen", "", "Listen address (overrides config)")
	controllerCmd.Flags().String("config", "", "Optional YAML config file")

	workerCmd.Flags().String("listen", "", "Listen address (overrides config)")
	workerCmd.Flags().String("config", "", "Optional YAML config file")

	for _, c := range []*cobra.Command{putCmd, getCmd, keysCmd} {
		c.Flags().String("worker", "http://localhost:8080", "Worker base URL")
		c.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	}
	for _, c := range []*cobra.Command{workersCmd, statusCmd} {
		c.Flags().String("controller", "http://localhost:7070", "Controller base URL")
		c.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	}
}
