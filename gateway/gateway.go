// Package gateway is the inbound HTTP surface of the chat-gateway process.
// It owns the live membership roster and answers the broker's
// reconciliation and message-dispatch calls. The actual chat-platform
// connection is an external collaborator: it feeds the roster through
// pubsub payloads and posts notifications through the ChatSender interface.
package gateway

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// ChatSender posts a notification into a channel on the chat platform.
type ChatSender interface {
	PostNotification(ctx context.Context, channelID int64, authorName, content string) error
}

// LoggingSender is the stand-in ChatSender used when no live chat
// connection is wired up: it logs what would have been posted.
type LoggingSender struct{}

func (LoggingSender) PostNotification(ctx context.Context, channelID int64, authorName, content string) error {
	logger.Info().
		Int64("channel", channelID).
		Str("author", authorName).
		Str("content", content).
		Msg("posting notification")
	return nil
}

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

// Router builds the gateway's HTTP surface.
func Router(h *Handler, enablePrometheus bool) http.Handler {
	r := mux.NewRouter()
	r.Handle("/health", h.wrap(h.Health)).Methods("GET")
	r.Handle("/send_message", h.wrap(h.SendMessage)).Methods("POST")
	r.Handle("/overhaul_guilds", h.wrap(h.OverhaulGuilds)).Methods("POST")
	if enablePrometheus {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	return &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
					return
				}
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", r.URL.Path).
					Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
		},
		final: r,
	}
}

// RunGatewayServer blocks forever serving the gateway surface on bindAddr.
func RunGatewayServer(h *Handler, bindAddr string, enablePrometheus bool) {
	srv := Router(h, enablePrometheus)
	logger.Info().Msgf("listening on %s", bindAddr)
	if err := http.ListenAndServe(bindAddr, srv); err != nil {
		logger.Fatal().Err(err).Msg("failed to listen and serve")
	}
}
