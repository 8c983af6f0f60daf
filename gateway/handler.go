package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/hlog"

	"github.com/guard-project/guard/internal"
)

// Handler answers the broker's calls against the live roster.
type Handler struct {
	Roster *Roster
	Sender ChatSender

	numReconciles prometheus.Counter
}

func NewHandler(roster *Roster, sender ChatSender, enablePrometheus bool) *Handler {
	h := &Handler{
		Roster: roster,
		Sender: sender,
	}
	if enablePrometheus {
		h.numReconciles = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guard",
			Subsystem: "gateway",
			Name:      "num_reconciles",
			Help:      "Number of guild reconciliation calls served",
		})
		prometheus.MustRegister(h.numReconciles)
	}
	return h
}

func (h *Handler) Teardown() {
	if h.numReconciles != nil {
		prometheus.Unregister(h.numReconciles)
	}
}

// wrap converts a fallible handler into an http.HandlerFunc, turning any
// error or panic into the JSON error body. The broker treats any gateway
// failure as a generic upstream error, so there is nothing to gain from
// detailed wire errors here.
func (h *Handler) wrap(fn func(w http.ResponseWriter, req *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hlog.FromRequest(req).Error().Interface("panic", rec).Msg("handler panicked")
				internal.GetSentryHubFromContextOrDefault(req.Context()).Recover(rec)
				writeError(w, &internal.HandlerError{
					StatusCode: 500,
					Err:        fmt.Errorf("internal server error"),
				})
			}
		}()
		err := fn(w, req)
		if err == nil {
			return
		}
		herr, ok := err.(*internal.HandlerError)
		if !ok {
			herr = &internal.HandlerError{
				StatusCode: 500,
				Err:        err,
			}
		}
		if herr.StatusCode >= 500 {
			internal.GetSentryHubFromContextOrDefault(req.Context()).CaptureException(herr.Err)
		}
		hlog.FromRequest(req).Err(herr.Err).Int("status", herr.StatusCode).Msg("request failed")
		writeError(w, herr)
	}
}

func writeError(w http.ResponseWriter, herr *internal.HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (h *Handler) Health(w http.ResponseWriter, req *http.Request) error {
	return respondJSON(w, 200, map[string]string{"status": "ok"})
}

type overhaulRequest struct {
	Guilds []internal.GuildDescriptor `json:"guilds"`
}

type overhaulResponse struct {
	Success  string                           `json:"success"`
	Approved map[int64]internal.EnrichedGuild `json:"approved"`
}

func (h *Handler) OverhaulGuilds(w http.ResponseWriter, req *http.Request) error {
	var body overhaulRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	if h.numReconciles != nil {
		h.numReconciles.Inc()
	}
	approved := h.Roster.Reconcile(body.Guilds)
	hlog.FromRequest(req).Info().
		Int("raw", len(body.Guilds)).
		Int("approved", len(approved)).
		Msg("reconciled guilds")
	return respondJSON(w, 200, overhaulResponse{
		Success:  "overhaul",
		Approved: approved,
	})
}

type sendRequest struct {
	UserID    int64  `json:"user_id"`
	ServerID  int64  `json:"server_id"`
	ChannelID int64  `json:"channel_id"`
	Content   string `json:"content"`
}

// SendMessage validates the full (server, user, channel) chain against the
// roster before posting. Each missing entity 404s with its own message and
// nothing is posted; there is no partial send.
func (h *Handler) SendMessage(w http.ResponseWriter, req *http.Request) error {
	var body sendRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	if !h.Roster.IsMember(body.ServerID) {
		return &internal.HandlerError{
			StatusCode: 404,
			Err:        fmt.Errorf("Server not found"),
		}
	}
	authorName, ok := h.Roster.MemberName(body.ServerID, body.UserID)
	if !ok {
		return &internal.HandlerError{
			StatusCode: 404,
			Err:        fmt.Errorf("User not found"),
		}
	}
	if !h.Roster.HasChannel(body.ServerID, body.ChannelID) {
		return &internal.HandlerError{
			StatusCode: 404,
			Err:        fmt.Errorf("Channel not found"),
		}
	}
	if err := h.Sender.PostNotification(req.Context(), body.ChannelID, authorName, body.Content); err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	return respondJSON(w, 200, map[string]string{"success": "sent"})
}

func decodeBody(req *http.Request, v interface{}) error {
	if req.Body == nil {
		return &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("missing request body"),
		}
	}
	defer req.Body.Close()
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("failed to decode request body: %w", err),
		}
	}
	return nil
}
