package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/guard-project/guard/broker"
	"github.com/guard-project/guard/broker/session"
	"github.com/guard-project/guard/internal"
	"github.com/guard-project/guard/state"
)

const (
	// Required fields
	EnvDB           = "GUARD_DB"
	EnvClientID     = "GUARD_AUTH_CLIENT_ID"
	EnvClientSecret = "GUARD_AUTH_CLIENT_SECRET"

	// Optional fields
	EnvBindAddr          = "GUARD_BROKER_BIND_ADDR"
	EnvAuthURL           = "GUARD_AUTH_URL"
	EnvRedirectURI       = "GUARD_REDIRECT_URI"
	EnvClientCallbackURL = "GUARD_CLIENT_CALLBACK_URL"
	EnvGatewayURL        = "GUARD_BOT_API_URL"
	EnvPrometheus        = "GUARD_PROM"
	EnvSentryDSN         = "GUARD_SENTRY_DSN"
	EnvOTLPURL           = "GUARD_OTLP_URL"
	EnvOTLPUsername      = "GUARD_OTLP_USERNAME"
	EnvOTLPPassword      = "GUARD_OTLP_PASSWORD"
)

var helpMsg = fmt.Sprintf(`Environment var config:
%s     Required. The postgres connection string: https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
%s     Required. The OAuth application client ID.
%s     Required. The OAuth application client secret.
%s     Default: :8000. The interface and port to listen on.
%s     Default: https://discord.com/api. The identity provider base URL.
%s     Default: http://localhost:8000/auth/callback. This broker's callback as registered with the provider.
%s     Default: http://localhost:3000/auth-success. The desktop client's loopback callback.
%s     Default: http://localhost:5000. The chat gateway base URL.
%s     Default: unset. Set to enable the /metrics endpoint.
%s     Default: unset. The Sentry DSN to report errors to.
%s     Default: unset. The OTLP HTTP URL to send spans to.
`, EnvDB, EnvClientID, EnvClientSecret, EnvBindAddr, EnvAuthURL, EnvRedirectURI,
	EnvClientCallbackURL, EnvGatewayURL, EnvPrometheus, EnvSentryDSN, EnvOTLPURL)

func defaulting(in, dft string) string {
	if in == "" {
		return dft
	}
	return in
}

func main() {
	args := map[string]string{
		EnvDB:                os.Getenv(EnvDB),
		EnvClientID:          os.Getenv(EnvClientID),
		EnvClientSecret:      os.Getenv(EnvClientSecret),
		EnvBindAddr:          defaulting(os.Getenv(EnvBindAddr), ":8000"),
		EnvAuthURL:           defaulting(os.Getenv(EnvAuthURL), "https://discord.com/api"),
		EnvRedirectURI:       defaulting(os.Getenv(EnvRedirectURI), "http://localhost:8000/auth/callback"),
		EnvClientCallbackURL: defaulting(os.Getenv(EnvClientCallbackURL), "http://localhost:3000/auth-success"),
		EnvGatewayURL:        defaulting(os.Getenv(EnvGatewayURL), "http://localhost:5000"),
		EnvPrometheus:        os.Getenv(EnvPrometheus),
		EnvSentryDSN:         os.Getenv(EnvSentryDSN),
		EnvOTLPURL:           os.Getenv(EnvOTLPURL),
	}
	for _, requiredEnvVar := range []string{EnvDB, EnvClientID, EnvClientSecret} {
		if args[requiredEnvVar] == "" {
			fmt.Print(helpMsg)
			fmt.Printf("\n%s is not set", requiredEnvVar)
			os.Exit(1)
		}
	}

	if args[EnvSentryDSN] != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: args[EnvSentryDSN]}); err != nil {
			panic(err)
		}
		defer sentry.Flush(2 * time.Second)
	}
	if args[EnvOTLPURL] != "" {
		if err := internal.ConfigureOTLP(
			args[EnvOTLPURL], os.Getenv(EnvOTLPUsername), os.Getenv(EnvOTLPPassword), "guard-broker",
		); err != nil {
			panic(err)
		}
	}

	enablePrometheus := args[EnvPrometheus] != ""
	storage := state.NewStorage(args[EnvDB])
	sessions := session.NewStore(session.DefaultNonceTTL, session.DefaultSessionTTL, enablePrometheus)
	// outbound calls carry trace spans when OTLP is configured
	outboundClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	provider := &broker.HTTPProvider{
		Client:       outboundClient,
		BaseURL:      args[EnvAuthURL],
		ClientID:     args[EnvClientID],
		ClientSecret: args[EnvClientSecret],
	}
	gateway := &broker.HTTPGatewayClient{
		Client:  outboundClient,
		BaseURL: args[EnvGatewayURL],
	}
	h := broker.NewHandler(
		sessions, storage, provider, gateway,
		args[EnvRedirectURI], args[EnvClientCallbackURL], enablePrometheus,
	)
	broker.RunBrokerServer(h, args[EnvBindAddr], enablePrometheus)
}
