package config

import "time"

// AppConfig is populated from the yaml config file, then overridden by
// MEDSAFE_* environment variables.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"MEDSAFE_LISTEN_ADDR" env-default:":8080"`

	DBDriver string `yaml:"db_driver" env:"MEDSAFE_DB_DRIVER" env-default:"sqlite"`
	DBPath   string `yaml:"db_path" env:"MEDSAFE_DB_PATH" env-default:"medsafe.db"`
	DBURL    string `yaml:"db_url" env:"MEDSAFE_DB_URL"`

	// Pepper is mixed into every password hash alongside the per-user salt.
	Pepper            string `yaml:"pepper" env:"MEDSAFE_PEPPER" env-default:"medsafe-dev-pepper"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes" env:"MEDSAFE_SESSION_TTL_MINUTES" env-default:"480"`

	Incidents   IncidentsConfig   `yaml:"incidents"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type IncidentsConfig struct {
	// RegNoFormat uses {year} and {seq} tokens; {seq:N} zero-pads to N digits.
	RegNoFormat string `yaml:"reg_no_format" env:"MEDSAFE_REG_NO_FORMAT" env-default:"PSI-{year}-{seq:05}"`
}

type MaintenanceConfig struct {
	Schedule           string `yaml:"schedule" env:"MEDSAFE_MAINTENANCE_SCHEDULE" env-default:"@hourly"`
	AuditRetentionDays int    `yaml:"audit_retention_days" env:"MEDSAFE_AUDIT_RETENTION_DAYS" env-default:"365"`
}

func (c *AppConfig) EffectiveSessionTTL() time.Duration {
	if c == nil || c.SessionTTLMinutes <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
