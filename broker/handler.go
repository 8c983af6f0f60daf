package broker

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/guard-project/guard/broker/session"
	"github.com/guard-project/guard/internal"
	"github.com/guard-project/guard/sqlutil"
	"github.com/guard-project/guard/state"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Handler owns the broker's HTTP surface: the three-leg OAuth exchange,
// session retrieval and the message operations which proxy to storage or
// the gateway.
type Handler struct {
	Sessions *session.Store
	Storage  *state.Storage
	Provider IdentityProvider
	Gateway  GatewayClient

	// RedirectURI is this broker's /auth/callback as registered with the
	// identity provider.
	RedirectURI string
	// ClientCallbackURL is the desktop client's loopback listener, where the
	// browser is sent once the callback completes.
	ClientCallbackURL string

	numLogins prometheus.Counter
}

func NewHandler(
	sessions *session.Store, storage *state.Storage, provider IdentityProvider, gateway GatewayClient,
	redirectURI, clientCallbackURL string, enablePrometheus bool,
) *Handler {
	h := &Handler{
		Sessions:          sessions,
		Storage:           storage,
		Provider:          provider,
		Gateway:           gateway,
		RedirectURI:       redirectURI,
		ClientCallbackURL: clientCallbackURL,
	}
	if enablePrometheus {
		h.numLogins = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guard",
			Subsystem: "broker",
			Name:      "num_logins",
			Help:      "Number of completed login callbacks",
		})
		prometheus.MustRegister(h.numLogins)
	}
	return h
}

func (h *Handler) Teardown() {
	if h.numLogins != nil {
		prometheus.Unregister(h.numLogins)
	}
}

// wrap converts a fallible handler into an http.HandlerFunc. Returned
// HandlerErrors keep their status; anything else becomes a 500. Panics are
// caught here too so no raw failure ever crosses the wire.
func (h *Handler) wrap(fn func(w http.ResponseWriter, req *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		req = req.WithContext(internal.RequestContext(req.Context()))
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
		internal.DecorateLogger(req.Context(), hlog.FromRequest(req).Err(herr.Err)).
			Int("status", herr.StatusCode).Msg("request failed")
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

// requesterHost is the network origin sessions get bound to: the remote IP
// without the port, which changes between requests on the same machine.
func requesterHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func (h *Handler) Health(w http.ResponseWriter, req *http.Request) error {
	return respondJSON(w, 200, map[string]string{"status": "ok"})
}

// TestBot relays the gateway's health response so the client can show both
// liveness indicators from one place.
func (h *Handler) TestBot(w http.ResponseWriter, req *http.Request) error {
	status, body, err := h.Gateway.Health(req.Context())
	if err != nil {
		return &internal.HandlerError{StatusCode: 500, Err: err}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	return nil
}

// loginStateCookie binds an in-flight login to the browser which started
// it. The cookie carries the CSRF nonce and lives exactly as long as the
// nonce does; the callback requires it to equal the returned state.
const loginStateCookie = "guard_login_state"

// Login begins the three-leg exchange: mint a CSRF nonce, hand it to the
// requester's browser as a cookie, and bounce the browser to the provider's
// authorize endpoint.
func (h *Handler) Login(w http.ResponseWriter, req *http.Request) error {
	nonce, err := h.Sessions.NewLoginNonce()
	if err != nil {
		return err
	}
	internal.SetRequestContextToken(req.Context(), nonce)
	http.SetCookie(w, &http.Cookie{
		Name:     loginStateCookie,
		Value:    nonce,
		Path:     "/auth/callback",
		MaxAge:   int(h.Sessions.NonceTTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	authorizeURL := h.Provider.AuthorizeURL(nonce, h.RedirectURI)
	hlog.FromRequest(req).Info().Msg("starting login")
	http.Redirect(w, req, authorizeURL, http.StatusFound)
	return nil
}

// Callback finishes the provider round trip: validate the CSRF nonce,
// exchange the code, learn who the user is and which guilds they claim,
// persist user/server rows, then mint the session token and send the
// browser on to the client's loopback listener.
func (h *Handler) Callback(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	nonce := q.Get("state")
	code := q.Get("code")
	if nonce == "" {
		return &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("missing state parameter"),
		}
	}
	if code == "" {
		return &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("missing code parameter"),
		}
	}
	internal.SetRequestContextToken(req.Context(), nonce)
	// the state must come back from the same browser which started the
	// login, not merely be a nonce we minted for someone at some point
	cookie, err := req.Cookie(loginStateCookie)
	if err != nil || cookie.Value != nonce {
		hlog.FromRequest(req).Warn().Msg("callback state does not match the requester's login")
		return internal.UnauthorizedError()
	}
	if !h.Sessions.ConsumeNonce(nonce) {
		// same body as any other auth failure: do not reveal whether the
		// nonce was unknown, expired or replayed
		return internal.UnauthorizedError()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     loginStateCookie,
		Path:     "/auth/callback",
		MaxAge:   -1,
		HttpOnly: true,
	})

	ctx, span := internal.StartSpan(req.Context(), "providerRoundTrip")
	defer span.End()
	accessToken, err := h.Provider.ExchangeCode(ctx, code, h.RedirectURI)
	if err != nil {
		return err
	}
	userID, username, err := h.Provider.Identity(ctx, accessToken)
	if err != nil {
		return err
	}
	internal.SetRequestContextUserID(req.Context(), userID)
	guilds, err := h.Provider.Guilds(ctx, accessToken)
	if err != nil {
		return err
	}
	internal.Logf(ctx, "login", "provider returned %d guilds", len(guilds))
	internal.SetRequestContextNumGuilds(req.Context(), len(guilds))

	err = sqlutil.WithTransaction(h.Storage.DB, func(txn *sqlx.Tx) error {
		if err := h.Storage.UsersTable.Upsert(txn, userID, username); err != nil {
			return err
		}
		for _, g := range guilds {
			if err := h.Storage.ServersTable.Upsert(txn, g.ID, g.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist user/guild rows: %w", err)
	}

	token, err := h.Sessions.NewSession(&internal.Session{
		BoundHost: requesterHost(req),
		UserID:    userID,
		RawGuilds: guilds,
	})
	if err != nil {
		return err
	}
	if h.numLogins != nil {
		h.numLogins.Inc()
	}
	internal.DecorateLogger(req.Context(), hlog.FromRequest(req).Info()).Msg("login complete")
	http.Redirect(w, req, h.ClientCallbackURL+"?state="+token, http.StatusFound)
	return nil
}

type sessionResponse struct {
	Status string                           `json:"status"`
	UserID int64                            `json:"user_id"`
	Guilds map[int64]internal.EnrichedGuild `json:"guilds"`
}

// GetSession trades a session token for the reconciled guild list. The
// token must be presented from the same host which completed the callback.
func (h *Handler) GetSession(w http.ResponseWriter, req *http.Request) error {
	token := req.URL.Query().Get("state")
	if token == "" {
		return internal.UnauthorizedError()
	}
	internal.SetRequestContextToken(req.Context(), token)
	sess := h.Sessions.Session(token)
	if sess == nil {
		return internal.UnauthorizedError()
	}
	if host := requesterHost(req); sess.BoundHost != host {
		// logged but not surfaced: the 401 body is identical either way
		hlog.FromRequest(req).Warn().
			Str("bound", sess.BoundHost).Str("got", host).
			Msg("session token presented from the wrong host")
		return internal.UnauthorizedError()
	}
	internal.SetRequestContextUserID(req.Context(), sess.UserID)

	ctx, span := internal.StartSpan(req.Context(), "reconcileGuilds")
	approved, err := h.Gateway.Reconcile(ctx, sess.RawGuilds)
	span.End()
	if err != nil {
		return err
	}
	internal.SetRequestContextNumGuilds(req.Context(), len(approved))
	return respondJSON(w, 200, sessionResponse{
		Status: "success",
		UserID: sess.UserID,
		Guilds: approved,
	})
}

type userCreateRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func (h *Handler) UserCreate(w http.ResponseWriter, req *http.Request) error {
	var body userCreateRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	err := sqlutil.WithTransaction(h.Storage.DB, func(txn *sqlx.Tx) error {
		return h.Storage.UsersTable.Upsert(txn, body.UserID, body.Username)
	})
	if err != nil {
		return err
	}
	return respondJSON(w, 200, map[string]string{"status": "success"})
}

type guildCreateRequest struct {
	ServerID int64  `json:"server_id"`
	Name     string `json:"name"`
}

func (h *Handler) GuildCreate(w http.ResponseWriter, req *http.Request) error {
	var body guildCreateRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	err := sqlutil.WithTransaction(h.Storage.DB, func(txn *sqlx.Tx) error {
		return h.Storage.ServersTable.Upsert(txn, body.ServerID, body.Name)
	})
	if err != nil {
		return err
	}
	return respondJSON(w, 200, map[string]string{"status": "success"})
}

type messageKeyRequest struct {
	UserID   int64 `json:"user_id"`
	ServerID int64 `json:"server_id"`
}

type saveMessageRequest struct {
	UserID   int64  `json:"user_id"`
	ServerID int64  `json:"server_id"`
	Content  string `json:"content"`
}

type sendMessageBrokerRequest struct {
	UserID    int64 `json:"user_id"`
	ServerID  int64 `json:"server_id"`
	ChannelID int64 `json:"channel_id"`
}

// MessageGet reads the stored message for a (user, server) pair. The key
// arrives as query parameters because this is a GET.
func (h *Handler) MessageGet(w http.ResponseWriter, req *http.Request) error {
	userID, err := intQueryParam(req, "user_id")
	if err != nil {
		return err
	}
	serverID, err := intQueryParam(req, "server_id")
	if err != nil {
		return err
	}
	msg, err := h.Storage.MessagesTable.Select(userID, serverID)
	if err != nil {
		return err
	}
	if msg == nil {
		return &internal.HandlerError{
			StatusCode: 404,
			Err:        fmt.Errorf("message not found"),
		}
	}
	return respondJSON(w, 200, map[string]string{
		"status":  "success",
		"content": msg.Content,
	})
}

func (h *Handler) MessageSave(w http.ResponseWriter, req *http.Request) error {
	var body saveMessageRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	if err := h.Storage.MessagesTable.Upsert(body.UserID, body.ServerID, body.Content); err != nil {
		return err
	}
	return respondJSON(w, 200, map[string]string{"status": "save"})
}

func (h *Handler) MessageReset(w http.ResponseWriter, req *http.Request) error {
	var body messageKeyRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	found, err := h.Storage.MessagesTable.Reset(body.UserID, body.ServerID)
	if err != nil {
		return err
	}
	if !found {
		return &internal.HandlerError{
			StatusCode: 404,
			Err:        fmt.Errorf("message not found"),
		}
	}
	return respondJSON(w, 200, map[string]string{"status": "reset"})
}

// MessageSend looks up the stored message and asks the gateway to post it.
// The gateway's verdict (including its 404s) is relayed as-is under the
// "answer" key.
func (h *Handler) MessageSend(w http.ResponseWriter, req *http.Request) error {
	var body sendMessageBrokerRequest
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	msg, err := h.Storage.MessagesTable.Select(body.UserID, body.ServerID)
	if err != nil {
		return err
	}
	if msg == nil || msg.Content == "" {
		return &internal.HandlerError{
			StatusCode: 404,
			Err:        fmt.Errorf("message not found"),
		}
	}
	status, answer, err := h.Gateway.SendMessage(req.Context(), body.UserID, body.ServerID, body.ChannelID, msg.Content)
	if err != nil {
		return err
	}
	statusStr := "success"
	if status != 200 {
		statusStr = "error"
	}
	return respondJSON(w, status, map[string]interface{}{
		"status": statusStr,
		"answer": answer,
	})
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

func intQueryParam(req *http.Request, name string) (int64, error) {
	val := req.URL.Query().Get(name)
	if val == "" {
		return 0, &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("missing %s parameter", name),
		}
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("invalid %s parameter", name),
		}
	}
	return n, nil
}
