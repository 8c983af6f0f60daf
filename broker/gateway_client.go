package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/guard-project/guard/internal"
)

// GatewayClient is the broker's view of the chat gateway process.
type GatewayClient interface {
	// Health checks the gateway is alive. Returns the gateway's status code
	// and body so /test/test_bot can relay them verbatim.
	Health(ctx context.Context) (status int, body []byte, err error)
	// Reconcile filters and enriches a raw guild list against the gateway's
	// live membership.
	Reconcile(ctx context.Context, guilds []internal.GuildDescriptor) (map[int64]internal.EnrichedGuild, error)
	// SendMessage asks the gateway to post content into a channel. Returns
	// the gateway's status code and response body; err is only set when the
	// gateway could not be reached at all.
	SendMessage(ctx context.Context, userID, serverID, channelID int64, content string) (status int, answer json.RawMessage, err error)
}

// HTTPGatewayClient talks to the gateway over its HTTP surface.
type HTTPGatewayClient struct {
	Client  *http.Client
	BaseURL string
}

func (g *HTTPGatewayClient) Health(ctx context.Context) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", g.BaseURL+"/health", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway /health: NewRequest failed: %w", err)
	}
	res, err := g.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway /health: request failed: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway /health: read body: %w", err)
	}
	return res.StatusCode, body, nil
}

type reconcileRequest struct {
	Guilds []internal.GuildDescriptor `json:"guilds"`
}

type reconcileResponse struct {
	Success  string                           `json:"success"`
	Approved map[int64]internal.EnrichedGuild `json:"approved"`
}

func (g *HTTPGatewayClient) Reconcile(ctx context.Context, guilds []internal.GuildDescriptor) (map[int64]internal.EnrichedGuild, error) {
	status, body, err := g.post(ctx, "/overhaul_guilds", reconcileRequest{Guilds: guilds})
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &internal.HandlerError{
			StatusCode: 502,
			Err:        fmt.Errorf("gateway /overhaul_guilds returned HTTP %d", status),
		}
	}
	var resp reconcileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gateway /overhaul_guilds: decode response: %w", err)
	}
	if resp.Approved == nil {
		resp.Approved = make(map[int64]internal.EnrichedGuild)
	}
	return resp.Approved, nil
}

type sendMessageRequest struct {
	UserID    int64  `json:"user_id"`
	ServerID  int64  `json:"server_id"`
	ChannelID int64  `json:"channel_id"`
	Content   string `json:"content"`
}

func (g *HTTPGatewayClient) SendMessage(ctx context.Context, userID, serverID, channelID int64, content string) (int, json.RawMessage, error) {
	status, body, err := g.post(ctx, "/send_message", sendMessageRequest{
		UserID:    userID,
		ServerID:  serverID,
		ChannelID: channelID,
		Content:   content,
	})
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

func (g *HTTPGatewayClient) post(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway %s: marshal request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", g.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, fmt.Errorf("gateway %s: NewRequest failed: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := g.Client.Do(req)
	if err != nil {
		return 0, nil, &internal.HandlerError{
			StatusCode: 502,
			Err:        fmt.Errorf("gateway %s: request failed: %w", path, err),
		}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway %s: read body: %w", path, err)
	}
	return res.StatusCode, body, nil
}
