package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"roadwatch/internal/engine"
	"roadwatch/internal/geo"
)

func TestDecode_LocationUpdate(t *testing.T) {
	op, in, err := Decode([]byte(`{"event":"location:update","data":{"latitude":39.05,"longitude":-77.12,"heading":180,"speed":42,"vehicleId":"car-1"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if op != engine.OpLocationUpdate {
		t.Errorf("op %q", op)
	}
	u, ok := in.(engine.LocationUpdate)
	if !ok {
		t.Fatalf("intent %#v, want LocationUpdate", in)
	}
	if *u.Latitude != 39.05 || *u.Longitude != -77.12 || *u.Heading != 180 || *u.Speed != 42 || u.VehicleID != "car-1" {
		t.Errorf("update %+v", u)
	}
}

func TestDecode_LocationUpdateOptionalFieldsAbsent(t *testing.T) {
	_, in, err := Decode([]byte(`{"event":"location:update","data":{"latitude":1,"longitude":2}}`))
	if err != nil {
		t.Fatal(err)
	}
	u := in.(engine.LocationUpdate)
	if u.Heading != nil || u.Speed != nil {
		t.Errorf("absent heading/speed decoded as %v/%v", u.Heading, u.Speed)
	}
}

func TestDecode_StopWithoutData(t *testing.T) {
	_, in, err := Decode([]byte(`{"event":"location:stop"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := in.(engine.LocationStop); !ok {
		t.Errorf("intent %#v, want LocationStop", in)
	}
}

func TestDecode_ReportAndConfirm(t *testing.T) {
	_, in, err := Decode([]byte(`{"event":"alert:report","data":{"latitude":1,"longitude":2,"reportType":"SPEED_TRAP","description":"radar"}}`))
	if err != nil {
		t.Fatal(err)
	}
	r := in.(engine.AlertReport)
	if r.ReportType != "SPEED_TRAP" || r.Description != "radar" {
		t.Errorf("report %+v", r)
	}

	_, in, err = Decode([]byte(`{"event":"alert:confirm","data":{"alertId":"abc"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if c := in.(engine.AlertConfirm); c.AlertID != "abc" {
		t.Errorf("confirm %+v", c)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `hello`, ErrMalformed},
		{"no event", `{"data":{}}`, ErrMalformed},
		{"unknown event", `{"event":"chat:send","data":{}}`, ErrUnknownEvent},
		{"unknown field", `{"event":"location:update","data":{"latitude":1,"longitude":2,"altitude":3}}`, ErrMalformed},
		{"wrong type", `{"event":"location:update","data":{"latitude":"north","longitude":2}}`, ErrMalformed},
		{"confirm without id", `{"event":"alert:confirm","data":{}}`, ErrMalformed},
		{"report without data", `{"event":"alert:report"}`, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, in, err := Decode([]byte(tc.frame))
			if !errors.Is(err, tc.want) {
				t.Errorf("err %v, want %v", err, tc.want)
			}
			if in != nil {
				t.Errorf("intent %#v returned with error", in)
			}
		})
	}
}

func TestEncode_PresenceUpdate(t *testing.T) {
	speed, heading := 42.0, 180.0
	b, err := Encode(engine.PresenceUpdate{Record: engine.PresenceRecord{
		UserID:  "U1",
		Point:   geo.Point{Lat: 39.05, Lng: -77.12},
		Speed:   &speed,
		Heading: &heading,
	}})
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != "presence:update" {
		t.Errorf("event %q", env.Event)
	}
	if env.Data["userId"] != "U1" || env.Data["speed"] != 42.0 || env.Data["heading"] != 180.0 {
		t.Errorf("data %v", env.Data)
	}
	if env.Data["latitude"] != 39.05 || env.Data["longitude"] != -77.12 {
		t.Errorf("position %v", env.Data)
	}
}

func TestEncode_SnapshotsAreArrays(t *testing.T) {
	b, err := Encode(engine.AlertSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"data":[]`) {
		t.Errorf("empty snapshot encoded as %s", b)
	}
	b, err = Encode(engine.PresenceSnapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"event":"presence:update"`) || !strings.Contains(string(b), `"data":[]`) {
		t.Errorf("presence snapshot encoded as %s", b)
	}
}

func TestEncode_AlertRecordFields(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	b, err := Encode(engine.AlertConfirmed{Alert: engine.AlertRecord{
		ID:            "a1",
		ReporterID:    "R1",
		Point:         geo.Point{Lat: 1, Lng: 2},
		Category:      engine.CategorySpeedTrap,
		Confirmations: 2,
		CreatedAt:     now,
		ExpiresAt:     now.Add(40 * time.Minute),
	}})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"event":"alert:confirmed"`, `"id":"a1"`, `"reportType":"SPEED_TRAP"`, `"confirmations":2`, `"expiresAt":"2024-06-01T08:40:00Z"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("%s missing %s", b, want)
		}
	}
}

func TestEncode_SmallEvents(t *testing.T) {
	cases := map[string]engine.Event{
		`{"event":"presence:offline","data":{"userId":"u1"}}`:                                 engine.PresenceOffline{UserID: "u1"},
		`{"event":"alert:expired","data":{"alertId":"a1"}}`:                                   engine.AlertExpired{AlertID: "a1"},
		`{"event":"ack","data":{"op":"alert:report","alertId":"a1"}}`:                         engine.Ack{Op: engine.OpAlertReport, AlertID: "a1"},
		`{"event":"error","data":{"op":"alert:report","code":"rate_limited","message":"no"}}`: engine.Failure{Op: engine.OpAlertReport, Code: engine.CodeRateLimited, Message: "no"},
	}
	for want, ev := range cases {
		b, err := Encode(ev)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != want {
			t.Errorf("Encode(%#v) = %s, want %s", ev, b, want)
		}
	}
}
