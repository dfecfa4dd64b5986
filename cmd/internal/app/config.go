package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Credential store backends.
const (
	CredentialStoreFile     = "file"
	CredentialStoreSQLite   = "sqlite"
	CredentialStorePostgres = "postgres"
	CredentialStoreMemory   = "memory"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// APIURL is the base URL of the remote collaborators.
	APIURL string

	// EntryPath is where the guard redirects unauthenticated views.
	EntryPath string

	CredentialStore string
	CredentialPath  string

	// CredentialKey seals the persisted credential at rest when set.
	CredentialKey string

	// If true, LEXION_CREDENTIAL_KEY MUST be set and plaintext credentials
	// found in the store are refused.
	RequireSealedCredential bool

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// At most one camera source may be configured.
	CameraURL string
	CameraDir string
}

// LoadConfig loads Config from environment variables with defaults. The
// error lists every malformed variable; the returned Config still carries
// the defaults for them.
func LoadConfig() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	env := newEnvReader(lookup)
	cfg := Config{
		HTTPAddr:  env.str("LEXION_HTTP_ADDR", "127.0.0.1:5173"),
		LogLevel:  env.str("LEXION_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(env.str("LEXION_LOG_FORMAT", "")),

		ReadHeaderTimeout: env.duration("LEXION_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.duration("LEXION_HTTP_READ_TIMEOUT", 15*time.Second),
		// Flows run on a context detached from the request; this bounds only
		// the response write, never a remote call.
		WriteTimeout:    env.duration("LEXION_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     env.duration("LEXION_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:  env.positive("LEXION_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout: env.duration("LEXION_SHUTDOWN_TIMEOUT", 10*time.Second),

		APIURL:    env.str("LEXION_API_URL", "http://127.0.0.1:8000"),
		EntryPath: env.str("LEXION_ENTRY_PATH", "/login"),

		CredentialStore: strings.ToLower(env.str("LEXION_CREDENTIAL_STORE", CredentialStoreFile)),
		CredentialPath:  env.str("LEXION_CREDENTIAL_PATH", ""),
		CredentialKey:   env.secret("LEXION_CREDENTIAL_KEY"),

		RequireSealedCredential: env.boolean("LEXION_REQUIRE_SEALED_CREDENTIAL", false),

		DatabaseURL: env.str("LEXION_DATABASE_URL", ""),
		DBMaxConns:  env.count("LEXION_DB_MAX_CONNS", 4),
		DBMinConns:  env.count("LEXION_DB_MIN_CONNS", 0),

		CameraURL: env.str("LEXION_CAMERA_URL", ""),
		CameraDir: env.str("LEXION_CAMERA_DIR", ""),
	}
	return cfg, env.err()
}

// Validate fails fast on invalid combinations.
func (c Config) Validate() error {
	var errs []error

	switch c.CredentialStore {
	case CredentialStoreFile, CredentialStoreSQLite, CredentialStoreMemory:
	case CredentialStorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("LEXION_CREDENTIAL_STORE=postgres requires LEXION_DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEXION_CREDENTIAL_STORE: unknown backend %q", c.CredentialStore))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", LogFormatJSON, LogFormatPretty:
	default:
		errs = append(errs, fmt.Errorf("LEXION_LOG_FORMAT: unknown format %q", c.LogFormat))
	}

	if !strings.HasPrefix(c.EntryPath, "/") {
		errs = append(errs, fmt.Errorf("LEXION_ENTRY_PATH must be an absolute path, got %q", c.EntryPath))
	}

	if c.CameraURL != "" && c.CameraDir != "" {
		errs = append(errs, errors.New("set at most one of LEXION_CAMERA_URL and LEXION_CAMERA_DIR"))
	}

	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, errors.New("LEXION_DB_MIN_CONNS must not exceed LEXION_DB_MAX_CONNS"))
	}

	if err := ValidateSecurityConfig(c); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// credentialPath resolves the on-disk location for file and sqlite stores.
func (c Config) credentialPath() (string, error) {
	if c.CredentialPath != "" {
		return c.CredentialPath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	name := "credential"
	if c.CredentialStore == CredentialStoreSQLite {
		name = "credential.db"
	}
	return filepath.Join(dir, "lexion", name), nil
}
