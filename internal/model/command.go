package model

// AdminCommand is a parsed control command from either side of the bridge.
// Validated against the admin allow-list before any side effect.
type AdminCommand struct {
	IssuerID  string
	ChannelID string
	Verb      string
	Args      []string
}
