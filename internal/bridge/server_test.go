package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cptbot/internal/eventbus"
	"cptbot/internal/transport"
	logx "cptbot/pkg/logx"
)

type fakeAdapter struct {
	unknownChannels map[string]bool
	sendErr         error
	sent            []sentMessage
}

type sentMessage struct {
	channelID string
	content   string
	embed     *transport.Embed
}

func (f *fakeAdapter) Start(context.Context) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error  { return nil }

func (f *fakeAdapter) ResolveChannel(_ context.Context, channelID string) error {
	if f.unknownChannels[channelID] {
		return transport.ErrChannelNotFound
	}
	return nil
}

func (f *fakeAdapter) SendMessage(_ context.Context, target transport.ChatTarget, msg transport.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: target.ChannelID, content: msg.Content, embed: msg.Embed})
	return nil
}

const testSecret = "hunter2"

func newTestServer(t *testing.T, adapter *fakeAdapter) *httptest.Server {
	t.Helper()
	s := NewServer(Config{Addr: ":0", Secret: testSecret}, adapter, nil, logx.Nop())
	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postNotify(t *testing.T, ts *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/notify", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func TestNotifyRejectsBadToken(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	ts := newTestServer(t, adapter)

	for _, token := range []string{"", "wrong", testSecret + "x"} {
		resp := postNotify(t, ts, token, `{"channel_id":"123","message":"hi"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
		if got := decodeBody(t, resp)["error"]; got != "Unauthorized" {
			t.Fatalf("error = %q, want Unauthorized", got)
		}
	}
	if len(adapter.sent) != 0 {
		t.Fatal("unauthorized request reached the adapter")
	}
}

func TestNotifyRejectsAllWhenSecretEmpty(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	s := NewServer(Config{Addr: ":0", Secret: ""}, adapter, nil, logx.Nop())
	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/notify", strings.NewReader(`{"channel_id":"1","message":"x"}`))
	req.Header.Set("Authorization", "Bearer ")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with empty secret", resp.StatusCode)
	}
}

func TestNotifyBadJSON(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAdapter{})
	resp := postNotify(t, ts, testSecret, `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "Bad Request" {
		t.Fatalf("error = %q, want Bad Request", got)
	}
}

func TestNotifyMissingChannel(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAdapter{})
	resp := postNotify(t, ts, testSecret, `{"message":"hi"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "channel_id is required" {
		t.Fatalf("error = %q, want channel_id is required", got)
	}
}

func TestNotifyUnknownChannel(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{unknownChannels: map[string]bool{"999": true}}
	ts := newTestServer(t, adapter)
	resp := postNotify(t, ts, testSecret, `{"channel_id":"999","message":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "Channel not found" {
		t.Fatalf("error = %q, want Channel not found", got)
	}
}

func TestNotifyDispatchFailure(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{sendErr: errors.New("gateway exploded: secret detail")}
	ts := newTestServer(t, adapter)
	resp := postNotify(t, ts, testSecret, `{"channel_id":"123","message":"hi"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	// Internal error text must not leak into the response body.
	if got := decodeBody(t, resp)["error"]; got != "Internal Server Error" {
		t.Fatalf("error = %q, want generic Internal Server Error", got)
	}
}

func TestNotifySuccess(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	ts := newTestServer(t, adapter)

	body := `{"channel_id":"123","message":"Briefing um 19z","role_id":"456","embed":{"title":"CPT","description":"heute"}}`
	resp := postNotify(t, ts, testSecret, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["status"] != "ok" || got["message"] != "Notification sent" {
		t.Fatalf("body = %v, want ok/Notification sent", got)
	}

	if len(adapter.sent) != 1 {
		t.Fatalf("adapter received %d messages, want 1", len(adapter.sent))
	}
	sent := adapter.sent[0]
	if sent.channelID != "123" {
		t.Fatalf("channel = %q, want 123", sent.channelID)
	}
	if want := "<@&456> Briefing um 19z"; sent.content != want {
		t.Fatalf("content = %q, want %q", sent.content, want)
	}
	if sent.embed == nil || sent.embed.Title != "CPT" {
		t.Fatalf("embed = %+v, want title CPT", sent.embed)
	}
}

func TestNotifyNumericIDs(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	ts := newTestServer(t, adapter)

	// The event manager sends snowflakes as JSON numbers now and then.
	resp := postNotify(t, ts, testSecret, `{"channel_id":123456789012345678,"message":"hi","role_id":987}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	sent := adapter.sent[0]
	if sent.channelID != "123456789012345678" {
		t.Fatalf("channel = %q, want stringified snowflake", sent.channelID)
	}
	if !strings.HasPrefix(sent.content, "<@&987> ") {
		t.Fatalf("content = %q, want role mention prefix", sent.content)
	}
}

func TestNotifyWithoutRoleSkipsMention(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	ts := newTestServer(t, adapter)

	resp := postNotify(t, ts, testSecret, `{"channel_id":"123","message":"plain"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := adapter.sent[0].content; got != "plain" {
		t.Fatalf("content = %q, want unchanged message", got)
	}
}

func TestNotifyPublishesOnBus(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	s := NewServer(Config{Addr: ":0", Secret: testSecret}, adapter, bus, logx.Nop())
	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)

	resp := postNotify(t, ts, testSecret, `{"channel_id":"123","message":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	e := <-ch
	if e.Type != eventbus.TypeBridgeNotify {
		t.Fatalf("event type = %q, want %q", e.Type, eventbus.TypeBridgeNotify)
	}
	notify, ok := e.Data.(NotifyEvent)
	if !ok {
		t.Fatalf("event data = %T, want NotifyEvent", e.Data)
	}
	if notify.ChannelID != "123" || !notify.OK || notify.Error != "" {
		t.Fatalf("event = %+v, want successful delivery to 123", notify)
	}

	// A failed send is published too, with the error attached.
	adapter.sendErr = errors.New("gateway exploded")
	resp = postNotify(t, ts, testSecret, `{"channel_id":"123","message":"hi"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	e = <-ch
	notify = e.Data.(NotifyEvent)
	if notify.OK || notify.Error != "gateway exploded" {
		t.Fatalf("event = %+v, want failed delivery", notify)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeAdapter{})
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}
