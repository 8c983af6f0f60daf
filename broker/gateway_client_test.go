package broker

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/guard-project/guard/gateway"
	"github.com/guard-project/guard/internal"
	"github.com/guard-project/guard/pubsub"
)

// These tests run the client against the real gateway router, not a stub,
// so the two processes cannot drift apart on the wire format.
func newLiveGateway(t *testing.T) *HTTPGatewayClient {
	t.Helper()
	roster := gateway.NewRoster(false)
	t.Cleanup(roster.Teardown)
	ps := pubsub.NewPubSub(16)
	done := make(chan struct{})
	go func() {
		roster.Subscribe(ps)
		close(done)
	}()
	err := ps.Notify(pubsub.ChanRoster, &pubsub.GuildJoin{
		GuildID:  7,
		Name:     "G",
		Channels: map[int64]string{100: "general"},
		Members:  map[int64]string{42: "alice"},
	})
	assertNoError(t, err)
	ps.Close()
	<-done

	h := gateway.NewHandler(roster, gateway.LoggingSender{}, false)
	t.Cleanup(h.Teardown)
	srv := httptest.NewServer(gateway.Router(h, false))
	t.Cleanup(srv.Close)
	return &HTTPGatewayClient{
		Client:  srv.Client(),
		BaseURL: srv.URL,
	}
}

func TestGatewayClientReconcile(t *testing.T) {
	gc := newLiveGateway(t)
	approved, err := gc.Reconcile(context.Background(), []internal.GuildDescriptor{
		{ID: 7, Name: "RenamedByCaller"},
		{ID: 8, Name: "NotOnRoster"},
	})
	assertNoError(t, err)
	assertEqual(t, len(approved), 1, "approved count")
	g := approved[7]
	assertEqual(t, g.Name, "RenamedByCaller", "caller's name wins")
	assertEqual(t, g.Channels[100], "general", "enriched channel")
	assertEqual(t, g.Members[42], "alice", "enriched member")
}

func TestGatewayClientSendMessage(t *testing.T) {
	gc := newLiveGateway(t)

	status, answer, err := gc.SendMessage(context.Background(), 42, 7, 100, "hi")
	assertNoError(t, err)
	assertEqual(t, status, 200, "send status")
	assertEqual(t, gjson.GetBytes(answer, "success").Str, "sent", "send answer")

	status, answer, err = gc.SendMessage(context.Background(), 42, 999, 100, "hi")
	assertNoError(t, err)
	assertEqual(t, status, 404, "unknown server status")
	assertEqual(t, gjson.GetBytes(answer, "error").Str, "Server not found", "unknown server answer")
}

func TestGatewayClientHealth(t *testing.T) {
	gc := newLiveGateway(t)
	status, body, err := gc.Health(context.Background())
	assertNoError(t, err)
	assertEqual(t, status, 200, "health status")
	assertEqual(t, gjson.GetBytes(body, "status").Str, "ok", "health body")
}
