package config

// ReminderConfig controls the persistent event scheduler.
type ReminderConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
	// PersistenceFile is the JSON store for pending events.
	// Default: data/events.json.
	PersistenceFile string `yaml:"persistence_file"`
	// MaxRemindersPerUser caps pending reminders per user. Default: 5.
	MaxRemindersPerUser int `yaml:"max_reminders_per_user"`
	// GracePeriod still fires events that came due while the process
	// was down, if they are no older than this. Default: 0 (fire all).
	GracePeriod Duration `yaml:"grace_period"`
	// MaxRetries bounds delivery retries per event. Default: 3.
	MaxRetries int `yaml:"max_retries"`
	// CleanupExpiredEvents purges stale terminal events at load.
	// Default: true.
	CleanupExpiredEvents *bool `yaml:"cleanup_expired_events"`
}

// IsEnabled reports whether the scheduler runs.
func (r ReminderConfig) IsEnabled() bool {
	return boolOr(r.Enabled, true)
}

// CleanupEnabled reports whether stale events are purged at load.
func (r ReminderConfig) CleanupEnabled() bool {
	return boolOr(r.CleanupExpiredEvents, true)
}
