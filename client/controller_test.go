package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionJSON = `{
	"status": "success",
	"user_id": 42,
	"guilds": {
		"7": {
			"id": 7,
			"name": "G",
			"channels": {"100": "general"},
			"members": {"42": "alice"}
		}
	}
}`

// fakeBroker is an httptest stand-in for the authorization broker, just
// enough surface for the controller and poller.
type fakeBroker struct {
	srv      *httptest.Server
	messages map[[2]int64]string
	botDown  bool
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	fb := &fakeBroker{
		messages: make(map[[2]int64]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/test/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/test/test_bot", func(w http.ResponseWriter, r *http.Request) {
		if fb.botDown {
			w.WriteHeader(502)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/user/session", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "tok123" {
			w.WriteHeader(401)
			w.Write([]byte(`{"status":"error","error":"Unauthorized"}`))
			return
		}
		w.Write([]byte(testSessionJSON))
	})
	mux.HandleFunc("/message/save", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID   int64  `json:"user_id"`
			ServerID int64  `json:"server_id"`
			Content  string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fb.messages[[2]int64{body.UserID, body.ServerID}] = body.Content
		w.Write([]byte(`{"status":"save"}`))
	})
	mux.HandleFunc("/message/get", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		serverID := r.URL.Query().Get("server_id")
		if userID == "42" && serverID == "7" {
			content, ok := fb.messages[[2]int64{42, 7}]
			if !ok {
				content = "Default message"
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "success", "content": content,
			})
			return
		}
		w.WriteHeader(404)
		w.Write([]byte(`{"status":"error","error":"message not found"}`))
	})
	mux.HandleFunc("/message/reset", func(w http.ResponseWriter, r *http.Request) {
		delete(fb.messages, [2]int64{42, 7})
		w.Write([]byte(`{"status":"reset"}`))
	})
	mux.HandleFunc("/message/send", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","answer":{"success":"sent"}}`))
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBroker) client() *BrokerClient {
	return &BrokerClient{
		Client:  fb.srv.Client(),
		BaseURL: fb.srv.URL,
	}
}

// freeLoopbackAddr reserves a loopback port and releases it so the
// controller's listener can bind it. Slightly racy but fine for tests.
func freeLoopbackAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func newTestController(t *testing.T, fb *fakeBroker, statuses *[]string) (*Controller, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "guard.json")
	listenAddr := freeLoopbackAddr(t)
	c, err := NewController(ControllerOpts{
		API:        fb.client(),
		ConfigPath: cfgPath,
		ListenAddr: listenAddr,
		OpenBrowser: func(url string) error {
			// stand in for the user completing the OAuth dance: the
			// broker's final redirect lands on the loopback listener
			go func() {
				res, err := http.Get("http://" + listenAddr + "/auth-success?state=tok123")
				if err == nil {
					res.Body.Close()
				}
			}()
			return nil
		},
		OnStatus: func(s string) {
			if statuses != nil {
				*statuses = append(*statuses, s)
			}
		},
	})
	require.NoError(t, err)
	return c, cfgPath
}

func TestControllerLoginFlow(t *testing.T) {
	fb := newFakeBroker(t)
	c, cfgPath := newTestController(t, fb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Login(ctx))

	assert.EqualValues(t, 42, c.UserID())
	guilds := c.Guilds()
	require.Contains(t, guilds, int64(7))
	assert.Equal(t, "G", guilds[7].Name)
	assert.Equal(t, "general", guilds[7].Channels[100])
	assert.Equal(t, "alice", guilds[7].Members[42])

	// the state token must have been persisted for resumption
	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "tok123", cfg.State)
}

func TestControllerLoginCancelled(t *testing.T) {
	fb := newFakeBroker(t)
	cfgPath := filepath.Join(t.TempDir(), "guard.json")
	c, err := NewController(ControllerOpts{
		API:        fb.client(),
		ConfigPath: cfgPath,
		ListenAddr: freeLoopbackAddr(t),
		OpenBrowser: func(url string) error {
			return nil // browser never completes the flow
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Login(ctx), context.DeadlineExceeded)
	assert.EqualValues(t, 0, c.UserID())
}

func TestControllerMessageOps(t *testing.T) {
	fb := newFakeBroker(t)
	var fetched []string
	cfgPath := filepath.Join(t.TempDir(), "guard.json")
	c, err := NewController(ControllerOpts{
		API:         fb.client(),
		ConfigPath:  cfgPath,
		ListenAddr:  freeLoopbackAddr(t),
		OpenBrowser: func(string) error { return nil },
		OnMessage:   func(content string) { fetched = append(fetched, content) },
	})
	require.NoError(t, err)
	ctx := context.Background()

	// operations before login must fail without touching the broker
	require.Error(t, c.SaveMessage(ctx, "hi").Wait())

	require.NoError(t, c.completeAuth(ctx, "tok123"))
	require.NoError(t, c.SelectGuild(7))

	require.NoError(t, c.SaveMessage(ctx, "hello there").Wait())
	require.NoError(t, c.FetchMessage(ctx).Wait())
	require.Equal(t, []string{"hello there"}, fetched)

	require.NoError(t, c.ResetMessage(ctx).Wait())
	assert.Equal(t, "Default message", fetched[len(fetched)-1])

	require.NoError(t, c.SendMessage(ctx, 100).Wait())
}

func TestControllerSelectGuildRejectsUnknown(t *testing.T) {
	fb := newFakeBroker(t)
	c, _ := newTestController(t, fb, nil)
	require.NoError(t, c.completeAuth(context.Background(), "tok123"))
	assert.Error(t, c.SelectGuild(999))
	assert.EqualValues(t, 0, c.SelectedGuild())
}

func TestControllerResume(t *testing.T) {
	fb := newFakeBroker(t)
	cfgPath := filepath.Join(t.TempDir(), "guard.json")
	cfg := &Config{State: "tok123", ServerID: 7}
	require.NoError(t, cfg.Save(cfgPath))

	c, err := NewController(ControllerOpts{
		API:         fb.client(),
		ConfigPath:  cfgPath,
		ListenAddr:  freeLoopbackAddr(t),
		OpenBrowser: func(string) error { t.Errorf("resume must not open a browser"); return nil },
	})
	require.NoError(t, err)
	require.NoError(t, c.Resume(context.Background()))
	assert.EqualValues(t, 42, c.UserID())
	assert.EqualValues(t, 7, c.SelectedGuild())
}

func TestControllerResumeExpiredToken(t *testing.T) {
	fb := newFakeBroker(t)
	cfgPath := filepath.Join(t.TempDir(), "guard.json")
	cfg := &Config{State: "stale-token"}
	require.NoError(t, cfg.Save(cfgPath))

	c, err := NewController(ControllerOpts{
		API:         fb.client(),
		ConfigPath:  cfgPath,
		ListenAddr:  freeLoopbackAddr(t),
		OpenBrowser: func(string) error { return nil },
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Resume(context.Background()), ErrUnauthorized)
}

func TestStatusPoller(t *testing.T) {
	fb := newFakeBroker(t)
	p := NewStatusPoller(fb.client(), 0)
	var got []HealthStatus
	p.SetCallback(func(s HealthStatus) { got = append(got, s) })
	defer p.Stop()

	status := p.Poll(context.Background())
	assert.True(t, status.BrokerUp)
	assert.True(t, status.GatewayUp)

	fb.botDown = true
	status = p.Poll(context.Background())
	assert.True(t, status.BrokerUp)
	assert.False(t, status.GatewayUp)

	require.Len(t, got, 2)
}

func TestStatusPollerRunStops(t *testing.T) {
	fb := newFakeBroker(t)
	p := NewStatusPoller(fb.client(), 5*time.Millisecond)
	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guard.json")

	// missing file is a fresh start, not an error
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)

	cfg.State = "tok"
	cfg.ServerID = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
