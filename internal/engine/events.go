package engine

// Outbound event names.
const (
	EventSession        = "session"
	EventPresenceUpdate = "presence:update"
	EventPresenceOff    = "presence:offline"
	EventAlertNew       = "alert:new"
	EventAlertConfirmed = "alert:confirmed"
	EventAlertExpired   = "alert:expired"
	EventAck            = "ack"
	EventError          = "error"
)

// Inbound operation names.
const (
	OpLocationUpdate = "location:update"
	OpLocationStop   = "location:stop"
	OpAlertReport    = "alert:report"
	OpAlertConfirm   = "alert:confirm"
)

// Event is an outbound message. The set of implementations is closed.
type Event interface {
	Name() string
	isEvent()
}

// Session greets a newly connected peer with the identity it was given.
type Session struct{ Identity Identity }

// PresenceUpdate carries one user's new motion state.
type PresenceUpdate struct{ Record PresenceRecord }

// PresenceSnapshot seeds a new peer with everyone currently broadcasting.
type PresenceSnapshot struct{ Records []PresenceRecord }

// PresenceOffline announces that a user stopped broadcasting or left.
type PresenceOffline struct{ UserID string }

// AlertNew carries a freshly created alert.
type AlertNew struct{ Alert AlertRecord }

// AlertSnapshot seeds a new peer with every live alert.
type AlertSnapshot struct{ Alerts []AlertRecord }

// AlertConfirmed carries an alert after a confirmation renewed it.
type AlertConfirmed struct{ Alert AlertRecord }

// AlertExpired announces an alert eviction.
type AlertExpired struct{ AlertID string }

// Ack tells the caller its intent succeeded.
type Ack struct {
	Op      string
	AlertID string
}

// Failure tells the caller its intent was rejected and why.
type Failure struct {
	Op      string
	Code    string
	Message string
}

func (Session) Name() string          { return EventSession }
func (PresenceUpdate) Name() string   { return EventPresenceUpdate }
func (PresenceSnapshot) Name() string { return EventPresenceUpdate }
func (PresenceOffline) Name() string  { return EventPresenceOff }
func (AlertNew) Name() string         { return EventAlertNew }
func (AlertSnapshot) Name() string    { return EventAlertNew }
func (AlertConfirmed) Name() string   { return EventAlertConfirmed }
func (AlertExpired) Name() string     { return EventAlertExpired }
func (Ack) Name() string              { return EventAck }
func (Failure) Name() string          { return EventError }

func (Session) isEvent()          {}
func (PresenceUpdate) isEvent()   {}
func (PresenceSnapshot) isEvent() {}
func (PresenceOffline) isEvent()  {}
func (AlertNew) isEvent()         {}
func (AlertSnapshot) isEvent()    {}
func (AlertConfirmed) isEvent()   {}
func (AlertExpired) isEvent()     {}
func (Ack) isEvent()              {}
func (Failure) isEvent()          {}

// Intent is an inbound request from a connection. The set of implementations is closed.
type Intent interface {
	Op() string
	isIntent()
}

// LocationUpdate reports the sender's position and optional motion.
type LocationUpdate struct {
	Latitude  *float64
	Longitude *float64
	Heading   *float64
	Speed     *float64
	VehicleID string
}

// LocationStop asks to stop broadcasting the sender's position.
type LocationStop struct{}

// AlertReport submits a new hazard report.
type AlertReport struct {
	Latitude    *float64
	Longitude   *float64
	ReportType  string
	Description string
}

// AlertConfirm corroborates an existing alert.
type AlertConfirm struct {
	AlertID string
}

func (LocationUpdate) Op() string { return OpLocationUpdate }
func (LocationStop) Op() string   { return OpLocationStop }
func (AlertReport) Op() string    { return OpAlertReport }
func (AlertConfirm) Op() string   { return OpAlertConfirm }

func (LocationUpdate) isIntent() {}
func (LocationStop) isIntent()   {}
func (AlertReport) isIntent()    {}
func (AlertConfirm) isIntent()   {}
