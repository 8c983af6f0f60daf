package client

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/guard-project/guard/internal"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Controller drives the client's login sequence and message operations.
// It is UI-agnostic: status changes and fetched messages are reported
// through the injected callbacks, and user-triggered actions run as Tasks
// so the caller can observe their completion and error.
type Controller struct {
	api         *BrokerClient
	cfgPath     string
	listenAddr  string
	openBrowser func(url string) error
	onStatus    func(status string)
	onMessage   func(content string)

	mu              sync.Mutex
	cfg             *Config
	userID          int64
	guilds          map[int64]internal.EnrichedGuild
	selectedGuildID int64
	authed          bool
}

// ControllerOpts carries the controller's collaborators. OpenBrowser and
// the callbacks are injected so tests never spawn a real browser.
type ControllerOpts struct {
	API         *BrokerClient
	ConfigPath  string
	ListenAddr  string
	OpenBrowser func(url string) error
	OnStatus    func(status string)
	OnMessage   func(content string)
}

func NewController(opts ControllerOpts) (*Controller, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		api:         opts.API,
		cfgPath:     opts.ConfigPath,
		listenAddr:  opts.ListenAddr,
		openBrowser: opts.OpenBrowser,
		onStatus:    opts.OnStatus,
		onMessage:   opts.OnMessage,
		cfg:         cfg,
	}
	if c.onStatus == nil {
		c.onStatus = func(string) {}
	}
	if c.onMessage == nil {
		c.onMessage = func(string) {}
	}
	return c, nil
}

func (c *Controller) setStatus(format string, args ...interface{}) {
	status := fmt.Sprintf(format, args...)
	logger.Info().Msg(status)
	c.onStatus(status)
}

// Login runs the whole interactive flow: start the loopback listener, open
// the browser at the broker's login endpoint, wait for the redirect to
// deliver a state token, then fetch the session. Each login gets a fresh
// listener, stopped as soon as one token arrives or the context is
// cancelled, so repeated logins never leak a port.
func (c *Controller) Login(ctx context.Context) error {
	tokenCh := make(chan string, 1)
	listener := NewCallbackListener(c.listenAddr, func(stateToken string) {
		select {
		case tokenCh <- stateToken:
		default:
			// a second redirect for the same login; first one wins
		}
	})
	if err := listener.Start(); err != nil {
		c.setStatus("Login failed: %s", err)
		return err
	}
	defer listener.Stop()

	if err := c.openBrowser(c.api.BaseURL + "/auth/login"); err != nil {
		c.setStatus("Failed to open browser: %s", err)
		return err
	}
	c.setStatus("Check your browser for login")

	select {
	case <-ctx.Done():
		c.setStatus("Login cancelled")
		return ctx.Err()
	case token := <-tokenCh:
		return c.completeAuth(ctx, token)
	}
}

// Resume replays a previously persisted state token, restoring the session
// and guild selection without a browser round trip. Returns
// ErrUnauthorized when the token has expired and a fresh login is needed.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	token := c.cfg.State
	serverID := c.cfg.ServerID
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	if err := c.completeAuth(ctx, token); err != nil {
		return err
	}
	if serverID != 0 {
		if err := c.SelectGuild(serverID); err != nil {
			// the guild fell out of the reconciled set since last run
			logger.Warn().Int64("server_id", serverID).Msg("persisted guild no longer available")
		}
	}
	return nil
}

func (c *Controller) completeAuth(ctx context.Context, token string) error {
	result, err := c.api.GetSession(ctx, token)
	if err != nil {
		c.setStatus("Auth failed: %s", err)
		return err
	}
	c.mu.Lock()
	c.userID = result.UserID
	c.guilds = result.Guilds
	c.authed = true
	c.cfg.State = token
	cfg := *c.cfg
	c.mu.Unlock()
	if err := cfg.Save(c.cfgPath); err != nil {
		logger.Warn().Err(err).Msg("failed to persist config")
	}
	c.setStatus("Authorized as %d", result.UserID)
	return nil
}

// SelectGuild picks the guild message operations act on. The guild must be
// in the reconciled set.
func (c *Controller) SelectGuild(guildID int64) error {
	c.mu.Lock()
	guild, ok := c.guilds[guildID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("guild %d is not in the approved list", guildID)
	}
	c.selectedGuildID = guildID
	c.cfg.ServerID = guildID
	cfg := *c.cfg
	c.mu.Unlock()
	if err := cfg.Save(c.cfgPath); err != nil {
		logger.Warn().Err(err).Msg("failed to persist config")
	}
	c.setStatus("Selected server: %s", guild.Name)
	return nil
}

// target returns the (user, guild) pair operations act on, or an error if
// the user has not logged in and selected a guild yet.
func (c *Controller) target() (userID, guildID int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authed || c.selectedGuildID == 0 {
		return 0, 0, fmt.Errorf("not authenticated or server not selected")
	}
	return c.userID, c.selectedGuildID, nil
}

func (c *Controller) SaveMessage(ctx context.Context, content string) *Task {
	return Go(func() error {
		userID, guildID, err := c.target()
		if err != nil {
			c.setStatus("%s", err)
			return err
		}
		if err := c.api.SaveMessage(ctx, userID, guildID, content); err != nil {
			c.setStatus("Save failed: %s", err)
			return err
		}
		c.setStatus("Message saved")
		return nil
	})
}

func (c *Controller) ResetMessage(ctx context.Context) *Task {
	return Go(func() error {
		userID, guildID, err := c.target()
		if err != nil {
			c.setStatus("%s", err)
			return err
		}
		if err := c.api.ResetMessage(ctx, userID, guildID); err != nil {
			c.setStatus("Reset failed: %s", err)
			return err
		}
		// show the restored content, like a fetch would
		content, err := c.api.GetMessage(ctx, userID, guildID)
		if err != nil {
			c.setStatus("Reset succeeded but fetch failed: %s", err)
			return err
		}
		c.onMessage(content)
		c.setStatus("Message reset")
		return nil
	})
}

func (c *Controller) FetchMessage(ctx context.Context) *Task {
	return Go(func() error {
		userID, guildID, err := c.target()
		if err != nil {
			c.setStatus("%s", err)
			return err
		}
		content, err := c.api.GetMessage(ctx, userID, guildID)
		if err != nil {
			c.setStatus("Get failed: %s", err)
			return err
		}
		c.onMessage(content)
		c.setStatus("Message fetched")
		return nil
	})
}

func (c *Controller) SendMessage(ctx context.Context, channelID int64) *Task {
	return Go(func() error {
		userID, guildID, err := c.target()
		if err != nil {
			c.setStatus("%s", err)
			return err
		}
		answer, err := c.api.SendMessage(ctx, userID, guildID, channelID)
		if err != nil {
			c.setStatus("Send failed: %s", err)
			return err
		}
		c.setStatus("Sent: %s", answer)
		return nil
	})
}

// UserID returns the authenticated user, or 0 before login.
func (c *Controller) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Guilds returns the reconciled guild set from the last session fetch.
func (c *Controller) Guilds() map[int64]internal.EnrichedGuild {
	c.mu.Lock()
	defer c.mu.Unlock()
	guilds := make(map[int64]internal.EnrichedGuild, len(c.guilds))
	for id, g := range c.guilds {
		guilds[id] = g
	}
	return guilds
}

// SelectedGuild returns the guild message operations act on, or 0.
func (c *Controller) SelectedGuild() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedGuildID
}
