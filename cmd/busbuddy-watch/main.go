// Command busbuddy-watch follows one session's dashboard from a terminal,
// re-reading it every poll interval until interrupted or the session ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"busbuddy/internal/config"
	"busbuddy/internal/dashboard"
	"busbuddy/internal/logging"
	"busbuddy/pkg/types"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("busbuddy-watch exited")
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	flags := flag.NewFlagSet("busbuddy-watch", flag.ContinueOnError)
	flags.SetOutput(out)
	shortID := flags.String("short", "", "session short code to watch")
	server := flags.String("server", cfg.Dashboard.ServerURL, "BusBuddy server base URL")
	interval := flags.Duration("interval", cfg.Dashboard.PollInterval, "poll interval")
	if err := flags.Parse(args); err != nil {
		return err
	}
	code := strings.ToUpper(strings.TrimSpace(*shortID))
	if code == "" {
		return errors.New("-short is required")
	}

	logging.Setup(cfg.Log.Level, "console")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watch(ctx, dashboard.NewClient(*server, nil), code, *interval, out)
}

// watch prints one line per successful poll. An ended session is a clean exit.
func watch(ctx context.Context, fetcher dashboard.Fetcher, shortID string, interval time.Duration, out io.Writer) error {
	poller := dashboard.NewPoller(fetcher, shortID, interval, func(s *dashboard.Snapshot) {
		fmt.Fprintln(out, formatSnapshot(s, time.Now()))
	})
	poller.StopWhenGone = true

	err := poller.Run(ctx)
	switch {
	case errors.Is(err, types.ErrNotFound):
		fmt.Fprintf(out, "session %s has ended\n", shortID)
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func formatSnapshot(s *dashboard.Snapshot, now time.Time) string {
	left := s.Session.ExpiresAt.Sub(now).Truncate(time.Minute)
	if left < 0 {
		left = 0
	}
	line := fmt.Sprintf("%s [%s] present %d/%d missing %d (joined %d) expires in %s",
		s.Session.Name, s.Session.ShortID,
		s.Stats.Strict.Present, s.Stats.Strict.Total, s.Stats.Strict.Missing,
		len(s.Roster.Joined), left)
	if len(s.Roster.Missing) > 0 {
		names := make([]string, len(s.Roster.Missing))
		for i, m := range s.Roster.Missing {
			names[i] = m.Name
		}
		line += " | missing: " + strings.Join(names, ", ")
	}
	return line
}
