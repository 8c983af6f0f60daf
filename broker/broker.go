package broker

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

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

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

// Router builds the broker's full HTTP surface around the handler.
func Router(h *Handler, enablePrometheus bool) http.Handler {
	r := mux.NewRouter()
	r.Handle("/test/health", allowCORS(h.wrap(h.Health))).Methods("GET")
	r.Handle("/test/test_bot", allowCORS(h.wrap(h.TestBot))).Methods("GET")
	r.Handle("/auth/login", allowCORS(h.wrap(h.Login))).Methods("GET")
	r.Handle("/auth/callback", allowCORS(h.wrap(h.Callback))).Methods("GET")
	r.Handle("/user/session", allowCORS(h.wrap(h.GetSession))).Methods("GET")
	r.Handle("/user/create", allowCORS(h.wrap(h.UserCreate))).Methods("POST")
	r.Handle("/guild/create", allowCORS(h.wrap(h.GuildCreate))).Methods("POST")
	r.Handle("/message/get", allowCORS(h.wrap(h.MessageGet))).Methods("GET")
	r.Handle("/message/save", allowCORS(h.wrap(h.MessageSave))).Methods("POST")
	r.Handle("/message/reset", allowCORS(h.wrap(h.MessageReset))).Methods("POST")
	r.Handle("/message/send", allowCORS(h.wrap(h.MessageSend))).Methods("POST")
	if enablePrometheus {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	return &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				if r.URL.Path == "/test/health" || r.URL.Path == "/metrics" {
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

// RunBrokerServer blocks forever serving the broker surface on bindAddr.
func RunBrokerServer(h *Handler, bindAddr string, enablePrometheus bool) {
	srv := Router(h, enablePrometheus)
	logger.Info().Msgf("listening on %s", bindAddr)
	if err := http.ListenAndServe(bindAddr, srv); err != nil {
		logger.Fatal().Err(err).Msg("failed to listen and serve")
	}
}
