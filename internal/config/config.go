package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
)

type Config struct {
	// Round parameters
	Collateral   uint64
	RevealWindow time.Duration
	MaxNodes     uint64 // 0 = uncapped
	SlashPolicy  string // "pool" or "slasher"

	StoreBackend string // cometbft-db backend: memdb, goleveldb, pebbledb
	DataDir      string
	DBDialect    string // postgres only
	DBDsn        string // DSN string passed to GORM driver

	// Simulation
	SimNodes     int
	SimTruth     bool
	SimLiars     int
	SimSilent    int
	SimLeakers   int
	SimStepDelay time.Duration

	Monikers []string // display names for simulated nodes, in join order
	Headless bool     // no TUI, run the simulation and print the settlement
	Debug    bool     // if true: show logs
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %d\n", key, v, def)
		return def
	}
	return n
}

func getenvUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %d\n", key, v, def)
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

func getenvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() Config {
	cfg := Config{
		Collateral:   getenvUint("ORACLE_COLLATERAL", 1_000_000),
		RevealWindow: getenvDuration("ORACLE_REVEAL_WINDOW", time.Hour),
		MaxNodes:     getenvUint("ORACLE_MAX_NODES", 16),
		SlashPolicy:  strings.ToLower(getenv("ORACLE_SLASH_POLICY", "pool")),
		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", "memdb")),
		DataDir:      getenv("DATA_DIR", "./data"),
		SimNodes:     getenvInt("SIM_NODES", 5),
		SimTruth:     getenvBool("SIM_TRUTH", true),
		SimLiars:     getenvInt("SIM_LIARS", 1),
		SimSilent:    getenvInt("SIM_SILENT", 1),
		SimLeakers:   getenvInt("SIM_LEAKERS", 0),
		SimStepDelay: getenvDuration("SIM_STEP_DELAY", 400*time.Millisecond),
		Monikers:     getenvList("NODE_MONIKERS"),
		Headless:     getenvBool("HEADLESS", false),
		Debug:        getenvBool("DEBUG", false),
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

// Validate checks the simulation can be staged with these numbers.
func (c Config) Validate() error {
	if c.Collateral == 0 {
		return fmt.Errorf("ORACLE_COLLATERAL must be positive")
	}
	if c.RevealWindow < time.Second {
		return fmt.Errorf("ORACLE_REVEAL_WINDOW must be at least 1s, got %s", c.RevealWindow)
	}
	if c.SimNodes < 1 {
		return fmt.Errorf("SIM_NODES must be positive, got %d", c.SimNodes)
	}
	if c.MaxNodes > 0 && uint64(c.SimNodes) > c.MaxNodes {
		return fmt.Errorf("SIM_NODES=%d exceeds ORACLE_MAX_NODES=%d", c.SimNodes, c.MaxNodes)
	}
	if c.SimLiars < 0 || c.SimSilent < 0 || c.SimLeakers < 0 {
		return fmt.Errorf("SIM_LIARS, SIM_SILENT and SIM_LEAKERS must not be negative")
	}
	if c.SimLiars+c.SimSilent+c.SimLeakers > c.SimNodes {
		return fmt.Errorf("SIM_LIARS+SIM_SILENT+SIM_LEAKERS=%d exceeds SIM_NODES=%d",
			c.SimLiars+c.SimSilent+c.SimLeakers, c.SimNodes)
	}
	if c.SimLeakers > 0 && c.SimLeakers >= c.SimNodes {
		return fmt.Errorf("SIM_LEAKERS=%d needs at least one other node to report it", c.SimLeakers)
	}
	return nil
}

// Persistent reports whether state outlives the process.
func (c Config) Persistent() bool {
	return c.DBDialect != "" || c.StoreBackend != "memdb"
}

func (c Config) String() string {
	return fmt.Sprintf("store=%s db=%s nodes=%d policy=%s", c.StoreBackend, c.DBDialect, c.SimNodes, c.SlashPolicy)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"collateral=%d reveal_window=%s max_nodes=%d slash_policy=%s store=%s data_dir=%s db=%s dsn=%s sim_nodes=%d liars=%d silent=%d leakers=%d headless=%t",
		c.Collateral,
		c.RevealWindow,
		c.MaxNodes,
		c.SlashPolicy,
		c.StoreBackend,
		c.DataDir,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.SimNodes,
		c.SimLiars,
		c.SimSilent,
		c.SimLeakers,
		c.Headless,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
