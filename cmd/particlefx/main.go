// Package main is the entry point for the particlefx server and tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lemonberrylabs/particlefx/pkg/api"
	grpcapi "github.com/lemonberrylabs/particlefx/pkg/api/grpc"
	"github.com/lemonberrylabs/particlefx/pkg/metrics"
	"github.com/lemonberrylabs/particlefx/pkg/runtime"
	"github.com/lemonberrylabs/particlefx/pkg/store"
	"github.com/lemonberrylabs/particlefx/web"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "particlefx",
		Short: "Particle effect formula service",
		RunE:  run,
	}

	cmd.Version = version + " (commit=" + commit + ", built=" + date + ")"
	cmd.SetVersionTemplate("particlefx version {{.Version}}\n")

	cmd.Flags().Int("port", 0, "HTTP server port (default 8787, env PORT)")
	cmd.Flags().Int("grpc-port", 0, "gRPC health server port (default 8788, env GRPC_PORT)")
	cmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")
	cmd.Flags().String("effects-dir", "", "Directory of effect YAML/JSON files to load (env EFFECTS_DIR)")
	cmd.Flags().Float64("tick-rate", 0, "Driver ticks per second (default 60, env TICK_RATE)")
	cmd.Flags().Int("max-instances", 0, "Maximum running effect instances (default 1024, env MAX_INSTANCES)")
	cmd.Flags().Int("variables", 64, "Initial number of host variable slots")
	cmd.Flags().Bool("access-log", false, "Log every HTTP request (env ACCESS_LOG)")

	cmd.AddCommand(newCheckCmd(), newEvalCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	port := envOrDefault("PORT", "8787")
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		port = fmt.Sprintf("%d", v)
	}

	grpcPort := envOrDefault("GRPC_PORT", "8788")
	if v, _ := cmd.Flags().GetInt("grpc-port"); v != 0 {
		grpcPort = fmt.Sprintf("%d", v)
	}

	host := envOrDefault("HOST", "0.0.0.0")
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}

	effectsDir := os.Getenv("EFFECTS_DIR")
	if v, _ := cmd.Flags().GetString("effects-dir"); v != "" {
		effectsDir = v
	}

	tickRate, err := strconv.ParseFloat(envOrDefault("TICK_RATE", strconv.Itoa(runtime.DefaultTickRate)), 64)
	if err != nil || tickRate <= 0 {
		return fmt.Errorf("invalid TICK_RATE %q", os.Getenv("TICK_RATE"))
	}
	if v, _ := cmd.Flags().GetFloat64("tick-rate"); v > 0 {
		tickRate = v
	}

	maxInstances, err := strconv.Atoi(envOrDefault("MAX_INSTANCES", strconv.Itoa(runtime.DefaultMaxInstances)))
	if err != nil {
		return fmt.Errorf("invalid MAX_INSTANCES %q", os.Getenv("MAX_INSTANCES"))
	}
	if v, _ := cmd.Flags().GetInt("max-instances"); v > 0 {
		maxInstances = v
	}

	accessLog, _ := strconv.ParseBool(os.Getenv("ACCESS_LOG"))
	if cmd.Flags().Changed("access-log") {
		accessLog, _ = cmd.Flags().GetBool("access-log")
	}

	numVars, _ := cmd.Flags().GetInt("variables")

	addr := fmt.Sprintf("%s:%s", host, port)
	grpcAddr := fmt.Sprintf("%s:%s", host, grpcPort)

	s := store.New()
	vars := runtime.NewVariableStore(numVars)
	m := metrics.New()
	grpcServer := grpcapi.New()
	driver := runtime.NewDriver(runtime.Config{
		TickRate:     tickRate,
		MaxInstances: maxInstances,
	}, vars, m, grpcServer)

	server := api.New(s, driver, vars, api.Options{
		AccessLog: accessLog,
		Metrics:   m.Handler(),
	})

	// Load effects from directory if specified
	if effectsDir != "" {
		log.Printf("Loading effects directory: %s", effectsDir)
		if err := server.WatchDir(effectsDir); err != nil {
			log.Printf("Warning: failed to load effects directory: %v", err)
		}
	}

	// Register the web UI (non-fatal if template parsing fails)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Warning: web UI disabled due to template error: %v", r)
			}
		}()
		web.New(s, driver).Register(server.App())
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Driver ticking every %s", driver.TickInterval())
		return driver.Run(ctx)
	})

	g.Go(func() error {
		log.Printf("gRPC health server listening on %s", grpcAddr)
		return grpcServer.Serve(grpcAddr)
	})

	g.Go(func() error {
		log.Printf("particlefx listening on %s", addr)
		if effectsDir == "" {
			log.Printf("API-only mode (no --effects-dir specified)")
		}
		return server.Listen(addr)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down particlefx...")
		grpcServer.GracefulStop()
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
