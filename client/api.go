package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/guard-project/guard/internal"
)

var (
	ErrUnauthorized = fmt.Errorf("HTTP 401")
	ErrNotFound     = fmt.Errorf("HTTP 404")
)

// BrokerClient talks to the authorization broker.
// One client is shared by the controller and the status poller.
type BrokerClient struct {
	Client  *http.Client
	BaseURL string
}

// SessionResult is what a completed login resolves to.
type SessionResult struct {
	UserID int64
	Guilds map[int64]internal.EnrichedGuild
}

// Health checks the broker is alive.
func (c *BrokerClient) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/test/health", nil)
	return err
}

// BotHealth checks the gateway is alive, as relayed by the broker.
func (c *BrokerClient) BotHealth(ctx context.Context) error {
	_, err := c.get(ctx, "/test/test_bot", nil)
	return err
}

// GetSession trades the state token for the session. Returns
// ErrUnauthorized if the broker does not recognise the token (expired,
// wrong host, or plain wrong).
func (c *BrokerClient) GetSession(ctx context.Context, stateToken string) (*SessionResult, error) {
	body, err := c.get(ctx, "/user/session", map[string]string{"state": stateToken})
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(body)
	result := &SessionResult{
		UserID: parsed.Get("user_id").Int(),
		Guilds: make(map[int64]internal.EnrichedGuild),
	}
	parsed.Get("guilds").ForEach(func(key, g gjson.Result) bool {
		guild := internal.EnrichedGuild{
			ID:       g.Get("id").Int(),
			Name:     g.Get("name").Str,
			Channels: make(map[int64]string),
			Members:  make(map[int64]string),
		}
		g.Get("channels").ForEach(func(id, name gjson.Result) bool {
			cid, _ := strconv.ParseInt(id.Str, 10, 64)
			guild.Channels[cid] = name.Str
			return true
		})
		g.Get("members").ForEach(func(id, name gjson.Result) bool {
			mid, _ := strconv.ParseInt(id.Str, 10, 64)
			guild.Members[mid] = name.Str
			return true
		})
		result.Guilds[guild.ID] = guild
		return true
	})
	return result, nil
}

// GetMessage reads the stored message for this (user, server) pair.
func (c *BrokerClient) GetMessage(ctx context.Context, userID, serverID int64) (string, error) {
	body, err := c.get(ctx, "/message/get", map[string]string{
		"user_id":   strconv.FormatInt(userID, 10),
		"server_id": strconv.FormatInt(serverID, 10),
	})
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "content").Str, nil
}

func (c *BrokerClient) SaveMessage(ctx context.Context, userID, serverID int64, content string) error {
	_, err := c.post(ctx, "/message/save", map[string]interface{}{
		"user_id":   userID,
		"server_id": serverID,
		"content":   content,
	})
	return err
}

func (c *BrokerClient) ResetMessage(ctx context.Context, userID, serverID int64) error {
	_, err := c.post(ctx, "/message/reset", map[string]interface{}{
		"user_id":   userID,
		"server_id": serverID,
	})
	return err
}

// SendMessage asks the broker to dispatch the stored message into a
// channel. Returns the human-readable answer relayed from the gateway.
func (c *BrokerClient) SendMessage(ctx context.Context, userID, serverID, channelID int64) (string, error) {
	body, err := c.post(ctx, "/message/send", map[string]interface{}{
		"user_id":    userID,
		"server_id":  serverID,
		"channel_id": channelID,
	})
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "answer").Raw, nil
}

func (c *BrokerClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("GET %s: NewRequest failed: %w", path, err)
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	return c.do(req, path)
}

func (c *BrokerClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("POST %s: marshal request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("POST %s: NewRequest failed: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path)
}

func (c *BrokerClient) do(req *http.Request, path string) ([]byte, error) {
	res, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", path, err)
	}
	switch res.StatusCode {
	case 200:
		return body, nil
	case 401:
		return nil, ErrUnauthorized
	case 404:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%s returned HTTP %d", path, res.StatusCode)
	}
}
