package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Config is the env-driven runtime configuration. Flags in the CLIs override
// the values loaded here.
type Config struct {
	StoreDir       string
	PrintToConsole bool
	AllChat        bool

	RequestTimeoutSecs int
	PollFloorMS        int
	PollCeilingMS      int
	FetchRetryLimit    int
	RebootstrapLimit   int
	StorageErrorLimit  int

	HTTP HTTPConfig
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Metrics     bool
	AccessLog   bool
}

const (
	defaultStoreDir       = "."
	defaultRequestTimeout = 15
	defaultPollFloorMS    = 500
	defaultPollCeilingMS  = 30000
	defaultFetchRetries   = 5
	defaultRebootstraps   = 3
	defaultStorageErrors  = 5
	defaultRateRPS        = 10
	defaultRateBurst      = 20
)

func Load() Config {
	cfg := Config{}

	cfg.StoreDir = strings.TrimSpace(os.Getenv("SCOOP_STORE_DIR"))
	if cfg.StoreDir == "" {
		cfg.StoreDir = defaultStoreDir
	}
	cfg.PrintToConsole = readBool("SCOOP_PRINT", false)
	cfg.AllChat = readBool("SCOOP_ALL_CHAT", false)

	cfg.RequestTimeoutSecs = readInt("SCOOP_REQUEST_TIMEOUT_SECS", defaultRequestTimeout)
	cfg.PollFloorMS = readInt("SCOOP_POLL_FLOOR_MS", defaultPollFloorMS)
	cfg.PollCeilingMS = readInt("SCOOP_POLL_CEILING_MS", defaultPollCeilingMS)
	cfg.FetchRetryLimit = readInt("SCOOP_FETCH_RETRIES", defaultFetchRetries)
	cfg.RebootstrapLimit = readInt("SCOOP_REBOOTSTRAPS", defaultRebootstraps)
	cfg.StorageErrorLimit = readInt("SCOOP_STORAGE_ERRORS", defaultStorageErrors)

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("SCOOP_HTTP_ADDR"))
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("SCOOP_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateRPS = readInt("SCOOP_HTTP_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("SCOOP_HTTP_RATE_BURST", defaultRateBurst)
	cfg.HTTP.Metrics = readBool("SCOOP_HTTP_METRICS", false)
	cfg.HTTP.AccessLog = readBool("SCOOP_HTTP_ACCESS_LOG", false)

	return cfg
}

// Summary renders the effective configuration as one JSON line for the
// startup log.
func (c Config) Summary() string {
	payload := map[string]any{
		"store_dir":            c.StoreDir,
		"print":                c.PrintToConsole,
		"all_chat":             c.AllChat,
		"request_timeout_secs": c.RequestTimeoutSecs,
		"poll_floor_ms":        c.PollFloorMS,
		"poll_ceiling_ms":      c.PollCeilingMS,
		"fetch_retries":        c.FetchRetryLimit,
		"rebootstraps":         c.RebootstrapLimit,
		"storage_errors":       c.StorageErrorLimit,
	}
	if c.HTTP.Addr != "" {
		payload["http"] = map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": len(c.HTTP.CORSOrigins),
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"metrics":      c.HTTP.Metrics,
			"access_log":   c.HTTP.AccessLog,
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
