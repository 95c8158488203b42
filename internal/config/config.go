package config // package config loads application configuration from environment variables

import (
	"encoding/base64" // base64 decodes the extension secret issued by the platform
	"log"             // log is used to report configuration errors and halt execution
	"os"              // os provides access to environment variables
	"strconv"         // strconv converts strings to other types
	"time"            // time expresses the outbound request timeout
)

// DefaultPubSubURL is the platform endpoint used to push refresh messages to
// connected viewer clients.  It can be overridden with PUBSUB_URL, which the
// tests use to point the notifier at a local stub.
const DefaultPubSubURL = "https://api.twitch.tv/helix/extensions/pubsub"

// Config holds all runtime configuration values.  It is constructed once at
// startup and passed by value to the components that need it; nothing in the
// service reads the environment after Load returns.
type Config struct {
	Env             string        // application environment (e.g. "dev", "prod")
	Port            string        // HTTP port to listen on
	DBUser          string        // database username
	DBPass          string        // database password (optional)
	DBHost          string        // database host address
	DBPort          string        // database port number
	DBName          string        // database name
	ExtensionSecret []byte        // decoded shared secret used to sign and verify extension JWTs
	ClientID        string        // extension client id sent with pub/sub requests
	RequestTimeout  time.Duration // timeout for outbound webhook and pub/sub calls
	PubSubURL       string        // pub/sub endpoint; defaults to DefaultPubSubURL
	AuthBypass      bool          // skip credential verification and inject a fixed identity (dev/test only)
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values cause
// the program to exit with a fatal log message.  The extension secret is
// provided by the platform as base64 and is decoded here, so rotating it
// invalidates every outstanding token the moment the process restarts.
func Load() Config {
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		ClientID:       must("EXTENSION_CLIENT_ID"),
		RequestTimeout: time.Duration(intOr("REQUEST_TIMEOUT_SECONDS", 5)) * time.Second,
		PubSubURL:      getenv("PUBSUB_URL", DefaultPubSubURL),
		AuthBypass:     os.Getenv("AUTH_BYPASS") == "true",
	}

	secret, err := base64.StdEncoding.DecodeString(must("EXTENSION_SECRET"))
	if err != nil {
		log.Fatalf("EXTENSION_SECRET is not valid base64: %v", err)
	}
	cfg.ExtensionSecret = secret

	// The bypass switch exists for local development and the test suite.  It
	// must never be reachable in a production deployment, so refuse to start
	// rather than silently serving unauthenticated requests.
	if cfg.AuthBypass && cfg.Env == "prod" {
		log.Fatal("AUTH_BYPASS must not be enabled when APP_ENV=prod")
	}

	return cfg
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// getenv returns the value of an environment variable or a default when unset.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// intOr parses an optional integer environment variable, falling back to def
// when unset.  An unparseable value is a fatal configuration error.
func intOr(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
