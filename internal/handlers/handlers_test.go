package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roadwatch/internal/auth"
	"roadwatch/internal/engine"
)

const testSecret = "handler-secret"

func newTestServer(t *testing.T, allowAnonymous bool) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(engine.DefaultConfig())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(NewRouter(eng, auth.NewAuthenticator(testSecret, allowAnonymous)))
	t.Cleanup(func() {
		eng.Stop()
		srv.Close()
	})
	return srv, eng
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.Sign([]byte(testSecret), engine.Claim{UserID: userID, DisplayName: userID}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

const speedTrap = `{"latitude":39.05,"longitude":-77.12,"reportType":"SPEED_TRAP","description":"radar"}`

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, true)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["alerts"] != 0.0 || body["connections"] != 0.0 {
		t.Errorf("body %v", body)
	}
}

func TestCreateAlert(t *testing.T) {
	srv, _ := newTestServer(t, true)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", "", speedTrap)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d", resp.StatusCode)
	}

	tok := tokenFor(t, "R1")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", tok, speedTrap)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["reporterId"] != "R1" || body["reportType"] != "SPEED_TRAP" || body["confirmations"] != 0.0 {
		t.Errorf("body %v", body)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("remaining header %q, want 4", got)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/alerts/"+body["id"].(string), "", "")
	if resp.StatusCode != http.StatusOK || body["description"] != "radar" {
		t.Errorf("get: status %d body %v", resp.StatusCode, body)
	}
}

func TestCreateAlert_Rejects(t *testing.T) {
	srv, _ := newTestServer(t, true)
	tok := tokenFor(t, "R1")

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad type", `{"latitude":1,"longitude":2,"reportType":"POTHOLE"}`, http.StatusBadRequest, engine.CodeInvalidReport},
		{"bad latitude", `{"latitude":91,"longitude":2,"reportType":"MOBILE"}`, http.StatusBadRequest, engine.CodeInvalidLocation},
		{"missing longitude", `{"latitude":1,"reportType":"MOBILE"}`, http.StatusBadRequest, engine.CodeInvalidLocation},
		{"unknown field", `{"latitude":1,"longitude":2,"reportType":"MOBILE","severity":9}`, http.StatusBadRequest, engine.CodeBadRequest},
		{"not json", `radar`, http.StatusBadRequest, engine.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", tok, tc.body)
			if resp.StatusCode != tc.status || errorCode(body) != tc.code {
				t.Errorf("status %d code %q, want %d %q", resp.StatusCode, errorCode(body), tc.status, tc.code)
			}
		})
	}

	_, body := doJSON(t, http.MethodGet, srv.URL+"/api/quota", tok, "")
	if body["remaining"] != 5.0 {
		t.Errorf("rejected reports consumed quota: %v", body)
	}
}

func TestCreateAlert_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, true)
	tok := tokenFor(t, "R1")
	for i := 0; i < 5; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", tok, speedTrap)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("report %d: status %d", i+1, resp.StatusCode)
		}
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", tok, speedTrap)
	if resp.StatusCode != http.StatusTooManyRequests || errorCode(body) != engine.CodeRateLimited {
		t.Errorf("sixth report: status %d body %v", resp.StatusCode, body)
	}

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/quota", tok, "")
	if body["remaining"] != 0.0 || body["limit"] != 5.0 || body["userId"] != "R1" {
		t.Errorf("quota %v", body)
	}
}

func TestConfirmAlert(t *testing.T) {
	srv, _ := newTestServer(t, true)
	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/alerts", tokenFor(t, "R1"), speedTrap)
	id := created["id"].(string)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/alerts/"+id+"/confirm", tokenFor(t, "R2"), "")
	if resp.StatusCode != http.StatusOK || body["confirmations"] != 1.0 {
		t.Errorf("confirm: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/alerts/missing/confirm", tokenFor(t, "R2"), "")
	if resp.StatusCode != http.StatusNotFound || errorCode(body) != engine.CodeNotFound {
		t.Errorf("missing: status %d body %v", resp.StatusCode, body)
	}
}

func TestListAlerts_SortedByDistance(t *testing.T) {
	srv, eng := newTestServer(t, true)
	lat := func(v float64) *float64 { return &v }
	for _, p := range [][2]float64{{39.30, -77.12}, {39.06, -77.12}, {39.15, -77.12}} {
		if _, err := eng.Report(fmt.Sprintf("R%.2f", p[0]), engine.AlertReport{Latitude: lat(p[0]), Longitude: lat(p[1]), ReportType: "MOBILE"}); err != nil {
			t.Fatal(err)
		}
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/alerts?lat=39.05&lng=-77.12&radius=10", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	alerts := body["alerts"].([]any)
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts within 10 miles, want 2", len(alerts))
	}
	first, second := alerts[0].(map[string]any), alerts[1].(map[string]any)
	if first["latitude"] != 39.06 || second["latitude"] != 39.15 {
		t.Errorf("order %v then %v", first["latitude"], second["latitude"])
	}
	d := first["distanceMiles"].(float64)
	if d < 0.6 || d > 0.8 {
		t.Errorf("distanceMiles %v, want about 0.69", d)
	}

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/alerts", "", "")
	if body["count"] != 3.0 {
		t.Errorf("unfiltered count %v", body["count"])
	}
	for _, a := range body["alerts"].([]any) {
		if _, ok := a.(map[string]any)["distanceMiles"]; ok {
			t.Error("distanceMiles present without a center")
		}
	}
}

func TestListAlerts_BadArea(t *testing.T) {
	srv, _ := newTestServer(t, true)
	for _, q := range []string{"radius=5", "lat=95&lng=0", "lat=1&lng=2&radius=-1", "lat=north&lng=2"} {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/alerts?"+q, "", "")
		if resp.StatusCode != http.StatusBadRequest || errorCode(body) != engine.CodeInvalidLocation {
			t.Errorf("%s: status %d body %v", q, resp.StatusCode, body)
		}
	}
}

func TestStatusPage(t *testing.T) {
	srv, eng := newTestServer(t, false)
	lat, lng := 39.05, -77.12
	if _, err := eng.Report("R1", engine.AlertReport{Latitude: &lat, Longitude: &lng, ReportType: "CHECKPOINT", Description: "<b>cones</b>"}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	page := buf.String()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("content type %q", resp.Header.Get("Content-Type"))
	}
	for _, want := range []string{"Roadwatch", "CHECKPOINT", "&lt;b&gt;cones&lt;/b&gt;", "A token is required"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("bad frame %s: %v", msg, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSocket_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, true)
	a := dial(t, srv, tokenFor(t, "U1"))
	readUntil(t, a, "alert:new")
	b := dial(t, srv, "")
	session := readUntil(t, b, "session")
	if !strings.Contains(string(session.Data), `"anonymous":true`) {
		t.Errorf("anonymous session %s", session.Data)
	}
	readUntil(t, b, "alert:new")

	send(t, a, `{"event":"location:update","data":{"latitude":39.05,"longitude":-77.12,"speed":42,"heading":180}}`)
	got := readUntil(t, b, "presence:update")
	for _, want := range []string{`"userId":"U1"`, `"speed":42`, `"heading":180`} {
		if !strings.Contains(string(got.Data), want) {
			t.Errorf("presence %s missing %s", got.Data, want)
		}
	}

	send(t, a, `{"event":"alert:report","data":{"latitude":39.05,"longitude":-77.12,"reportType":"ACCIDENT"}}`)
	ack := readUntil(t, a, "ack")
	if !strings.Contains(string(ack.Data), `"op":"alert:report"`) {
		t.Errorf("ack %s", ack.Data)
	}
	alert := readUntil(t, b, "alert:new")
	if !strings.Contains(string(alert.Data), `"reportType":"ACCIDENT"`) {
		t.Errorf("alert %s", alert.Data)
	}

	send(t, a, `{"event":"location:update","data":{"latitude":91,"longitude":0}}`)
	failure := readUntil(t, a, "error")
	if !strings.Contains(string(failure.Data), `"code":"invalid_location"`) {
		t.Errorf("failure %s", failure.Data)
	}

	send(t, a, `{"event":"teleport"}`)
	failure = readUntil(t, a, "error")
	if !strings.Contains(string(failure.Data), `"code":"bad_request"`) {
		t.Errorf("decode failure %s", failure.Data)
	}

	a.Close()
	off := readUntil(t, b, "presence:offline")
	if string(off.Data) != `{"userId":"U1"}` {
		t.Errorf("offline %s", off.Data)
	}
}

func TestSocket_RejectsAnonymousWhenDisabled(t *testing.T) {
	srv, _ := newTestServer(t, false)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("anonymous dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response %v", resp)
	}
}

func TestSocket_TokenAsSubprotocol(t *testing.T) {
	srv, _ := newTestServer(t, false)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dialer := websocket.Dialer{Subprotocols: []string{auth.ProtocolPrefix + tokenFor(t, "U7")}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	session := readUntil(t, conn, "session")
	if !strings.Contains(string(session.Data), `"userId":"U7"`) {
		t.Errorf("session %s", session.Data)
	}
}

func TestSocket_ReconnectSupersedes(t *testing.T) {
	srv, eng := newTestServer(t, true)
	tok := tokenFor(t, "U1")
	first := dial(t, srv, tok)
	readUntil(t, first, "alert:new")
	second := dial(t, srv, tok)
	readUntil(t, second, "alert:new")

	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("superseded socket closed with %v", err)
			}
			break
		}
	}
	if got := eng.Stats().Connections; got != 1 {
		t.Errorf("connections %d, want 1", got)
	}
}

func TestStream_RelaysBroadcasts(t *testing.T) {
	srv, eng := newTestServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		if !lines.Scan() {
			t.Fatalf("stream ended: %v", lines.Err())
		}
		return lines.Text()
	}
	// presence snapshot, alert snapshot
	for _, want := range []string{"event: presence:update", "data: []", "", "event: alert:new", "data: []", ""} {
		if got := next(); got != want {
			t.Fatalf("line %q, want %q", got, want)
		}
	}

	lat, lng := 39.05, -77.12
	rec, err := eng.Report("R1", engine.AlertReport{Latitude: &lat, Longitude: &lng, ReportType: "MOBILE"})
	if err != nil {
		t.Fatal(err)
	}
	if got := next(); got != "event: alert:new" {
		t.Fatalf("line %q", got)
	}
	if got := next(); !strings.Contains(got, `"id":"`+rec.ID+`"`) {
		t.Errorf("data %q", got)
	}
	if got := eng.Stats().Observers; got != 1 {
		t.Errorf("observers %d, want 1", got)
	}
}

func TestStream_RequiresTokenWhenAnonymousDisabled(t *testing.T) {
	srv, _ := newTestServer(t, false)
	resp, err := http.Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", resp.StatusCode)
	}
}

func TestSocket_AnonymousQuotaSurvivesReconnect(t *testing.T) {
	srv, _ := newTestServer(t, true)
	first := dial(t, srv, "")
	readUntil(t, first, "alert:new")
	for i := 0; i < 5; i++ {
		send(t, first, `{"event":"alert:report","data":{"latitude":39.05,"longitude":-77.12,"reportType":"POLICE"}}`)
		readUntil(t, first, "ack")
	}
	first.Close()

	second := dial(t, srv, "")
	readUntil(t, second, "alert:new")
	send(t, second, `{"event":"alert:report","data":{"latitude":39.05,"longitude":-77.12,"reportType":"POLICE"}}`)
	failure := readUntil(t, second, "error")
	if !strings.Contains(string(failure.Data), `"code":"rate_limited"`) {
		t.Errorf("reconnected anonymous report %s", failure.Data)
	}
}
