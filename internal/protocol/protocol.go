// Package protocol is the JSON wire format for the live socket. Every frame
// is an envelope {"event": name, "data": payload}. Decoding only accepts the
// four inbound operations; anything else is rejected before reaching the engine.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roadwatch/internal/engine"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the frame shared by both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type locationUpdatePayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	VehicleID string   `json:"vehicleId,omitempty"`
}

type alertReportPayload struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	ReportType  string   `json:"reportType"`
	Description string   `json:"description,omitempty"`
}

type alertConfirmPayload struct {
	AlertID string `json:"alertId"`
}

// Decode parses one inbound frame into an engine intent. The returned op is
// the frame's event name when it could be read, so a caller can address a
// failure reply even when the payload is bad.
func Decode(frame []byte) (op string, in engine.Intent, err error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Event {
	case engine.OpLocationUpdate:
		var p locationUpdatePayload
		if err := decodeStrict(env.Data, &p); err != nil {
			return env.Event, nil, err
		}
		return env.Event, engine.LocationUpdate{
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Heading:   p.Heading,
			Speed:     p.Speed,
			VehicleID: p.VehicleID,
		}, nil
	case engine.OpLocationStop:
		return env.Event, engine.LocationStop{}, nil
	case engine.OpAlertReport:
		var p alertReportPayload
		if err := decodeStrict(env.Data, &p); err != nil {
			return env.Event, nil, err
		}
		return env.Event, engine.AlertReport{
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			ReportType:  p.ReportType,
			Description: p.Description,
		}, nil
	case engine.OpAlertConfirm:
		var p alertConfirmPayload
		if err := decodeStrict(env.Data, &p); err != nil {
			return env.Event, nil, err
		}
		if p.AlertID == "" {
			return env.Event, nil, fmt.Errorf("%w: alertId is required", ErrMalformed)
		}
		return env.Event, engine.AlertConfirm{AlertID: p.AlertID}, nil
	case "":
		return "", nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	default:
		return env.Event, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeStrict(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

type offlinePayload struct {
	UserID string `json:"userId"`
}

type expiredPayload struct {
	AlertID string `json:"alertId"`
}

type ackPayload struct {
	Op      string `json:"op"`
	AlertID string `json:"alertId,omitempty"`
}

type errorPayload struct {
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sessionPayload struct {
	engine.Identity
	ServerTime time.Time `json:"serverTime"`
}

// Payload returns the data part of an outbound event.
func Payload(ev engine.Event) any {
	switch v := ev.(type) {
	case engine.Session:
		return sessionPayload{Identity: v.Identity, ServerTime: time.Now().UTC()}
	case engine.PresenceUpdate:
		return v.Record
	case engine.PresenceSnapshot:
		if v.Records == nil {
			return []engine.PresenceRecord{}
		}
		return v.Records
	case engine.PresenceOffline:
		return offlinePayload{UserID: v.UserID}
	case engine.AlertNew:
		return v.Alert
	case engine.AlertSnapshot:
		if v.Alerts == nil {
			return []engine.AlertRecord{}
		}
		return v.Alerts
	case engine.AlertConfirmed:
		return v.Alert
	case engine.AlertExpired:
		return expiredPayload{AlertID: v.AlertID}
	case engine.Ack:
		return ackPayload{Op: v.Op, AlertID: v.AlertID}
	case engine.Failure:
		return errorPayload{Op: v.Op, Code: v.Code, Message: v.Message}
	default:
		return nil
	}
}

// EncodePayload renders only the data part of an outbound event.
func EncodePayload(ev engine.Event) ([]byte, error) {
	return json.Marshal(Payload(ev))
}

// Encode renders an outbound event as an envelope.
func Encode(ev engine.Event) ([]byte, error) {
	data, err := EncodePayload(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.Name(), Data: data})
}

// DecodeFailure is the reply sent when a frame cannot be decoded.
func DecodeFailure(op string, err error) engine.Failure {
	return engine.Failure{Op: op, Code: engine.CodeBadRequest, Message: err.Error()}
}
