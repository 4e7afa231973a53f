package viewmodel

// StatusPage holds data for the live status page.
type StatusPage struct {
	Title         string
	Connections   int
	Observers     int
	Dropped       int64
	Alerts        []AlertRow
	Presence      []PresenceRow
	StreamURL     string
	SocketURL     string
	GeneratedAt   string
	AnonymousOK   bool
	ReportLimit   int
	ReportWindow  string
	AlertLifetime string
}

// AlertRow is one live alert rendered in the alerts table.
type AlertRow struct {
	ID            string
	Category      string
	Description   string
	Latitude      string
	Longitude     string
	Confirmations int
	ExpiresIn     string
}

// PresenceRow is one broadcasting user rendered in the presence table.
type PresenceRow struct {
	Name      string
	Latitude  string
	Longitude string
	Speed     string
	Heading   string
	SeenAgo   string
}
