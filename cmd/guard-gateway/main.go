package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/guard-project/guard/gateway"
	"github.com/guard-project/guard/internal"
	"github.com/guard-project/guard/pubsub"
)

const (
	EnvBindAddr     = "GUARD_GATEWAY_BIND_ADDR"
	EnvRosterFile   = "GUARD_ROSTER_FILE"
	EnvPrometheus   = "GUARD_PROM"
	EnvSentryDSN    = "GUARD_SENTRY_DSN"
	EnvOTLPURL      = "GUARD_OTLP_URL"
	EnvOTLPUsername = "GUARD_OTLP_USERNAME"
	EnvOTLPPassword = "GUARD_OTLP_PASSWORD"
)

var helpMsg = fmt.Sprintf(`Environment var config:
%s     Default: :5000. The interface and port to listen on.
%s     Default: unset. A JSON file of guilds to seed the roster with at startup.
%s     Default: unset. Set to enable the /metrics endpoint.
%s     Default: unset. The Sentry DSN to report errors to.
%s     Default: unset. The OTLP HTTP URL to send spans to.
`, EnvBindAddr, EnvRosterFile, EnvPrometheus, EnvSentryDSN, EnvOTLPURL)

func defaulting(in, dft string) string {
	if in == "" {
		return dft
	}
	return in
}

// seedGuild is one entry of the roster seed file, the offline stand-in for
// the live chat connection's startup events.
type seedGuild struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	Channels map[int64]string `json:"channels"`
	Members  map[int64]string `json:"members"`
}

func seedRoster(n pubsub.Notifier, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read roster file %s: %w", path, err)
	}
	var guilds []seedGuild
	if err := json.Unmarshal(b, &guilds); err != nil {
		return fmt.Errorf("failed to parse roster file %s: %w", path, err)
	}
	for _, g := range guilds {
		err := n.Notify(pubsub.ChanRoster, &pubsub.GuildJoin{
			GuildID:  g.ID,
			Name:     g.Name,
			Channels: g.Channels,
			Members:  g.Members,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	bindAddr := defaulting(os.Getenv(EnvBindAddr), ":5000")
	enablePrometheus := os.Getenv(EnvPrometheus) != ""

	if dsn := os.Getenv(EnvSentryDSN); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			panic(err)
		}
		defer sentry.Flush(2 * time.Second)
	}
	if otlpURL := os.Getenv(EnvOTLPURL); otlpURL != "" {
		if err := internal.ConfigureOTLP(
			otlpURL, os.Getenv(EnvOTLPUsername), os.Getenv(EnvOTLPPassword), "guard-gateway",
		); err != nil {
			panic(err)
		}
	}

	roster := gateway.NewRoster(enablePrometheus)
	ps := pubsub.NewPubSub(64)
	listening := make(chan struct{})
	go func() {
		// blocks until the pubsub is closed
		if err := roster.Subscribe(ps); err != nil {
			sentry.CaptureException(err)
			fmt.Fprintf(os.Stderr, "roster subscription failed: %s\n", err)
		}
		close(listening)
	}()
	if rosterFile := os.Getenv(EnvRosterFile); rosterFile != "" {
		var notifier pubsub.Notifier = ps
		if enablePrometheus {
			notifier = pubsub.NewPromNotifier(ps, "gateway")
		}
		if err := seedRoster(notifier, rosterFile); err != nil {
			fmt.Print(helpMsg)
			fmt.Printf("\n%s", err)
			os.Exit(1)
		}
		// a static seed is the whole roster: wait for it to be applied
		// before serving, then stop listening
		ps.Close()
		<-listening
	}

	h := gateway.NewHandler(roster, gateway.LoggingSender{}, enablePrometheus)
	gateway.RunGatewayServer(h, bindAddr, enablePrometheus)
}
