package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"

	"busbuddy/internal/app"
	"busbuddy/internal/config"
	"busbuddy/internal/logging"
)

const appName = "BusBuddy"

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

// Main entry point with signal management
func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("BusBuddy exited")
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Signal handling ensures graceful shutdown in production environments
func run(args []string, out io.Writer) error {
	flags := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags.SetOutput(out)
	configPath := flags.String("config", "", "path to a JSON config file (defaults to "+config.EnvPrefix+"CONFIG_FILE)")
	quiet := flags.Bool("quiet", false, "skip the startup banner")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if !*quiet {
		displayAppname(out, appName)
	}

	// STEP 2: Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 3: Create and start application
	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 4: Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func displayAppname(out io.Writer, name string) {
	banner := figure.NewFigure(name, "cybermedium", true)
	fmt.Fprintln(out, banner.String())
}
