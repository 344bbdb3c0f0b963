package settings

import (
	"slices"
	"strings"
)

// DefaultOriginPort is the port embedded in the second pair of derived origins.
const DefaultOriginPort = 20059

// flagValues are the spellings of an enabled DJANGO_DEBUG, compared
// case-insensitively.
var flagValues = []string{"1", "true", "yes", "on"}

// ParseFlag reports whether s enables a flag the way the patched settings
// module reads DJANGO_DEBUG. Anything outside flagValues is false.
func ParseFlag(s string) bool {
	return slices.Contains(flagValues, strings.ToLower(s))
}

// Supported database engines.
const (
	EnginePostgres = "postgresql"
	EngineSQLite   = "sqlite3"
)

// Database describes the DATABASES["default"] entry.
type Database struct {
	Engine   string
	Name     string
	User     string
	Password string
	Host     string
	Port     int
}

// Values is the full set of settings the patcher writes into a settings module.
type Values struct {
	ProjectName  string
	SecretKey    string
	Debug        bool
	AllowedHosts []string
	OriginPort   int
	Database     Database
	StaticURL    string
	StaticRoot   string
	TimeZone     string
	UseTZ        bool
}

// TrustedOrigins returns the CSRF trusted origins derived from the allowed hosts.
func (v Values) TrustedOrigins() []string {
	return TrustedOrigins(v.AllowedHosts, v.OriginPort)
}
