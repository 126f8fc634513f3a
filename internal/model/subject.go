package model

// Subject is a monitored username. Lifecycle is owned by configuration;
// the poller treats the list as read-only.
type Subject struct {
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}
