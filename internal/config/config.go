package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// KRXCategories are the upstream API groupings, in reporting order.
var KRXCategories = []string{"index", "stock", "securities", "bond", "derivative", "general", "esg"}

// defaultKRXPaths holds per-category defaults; only stock has one.
var defaultKRXPaths = map[string]string{
	"stock": "sto/stk_isu_base_info",
}

type Config struct {
	Env         string
	ListenAddr  string
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	DartAPIKey  string
	DartBaseURL string

	KRXAPIKey     string
	KRXOpenAPIURL string
	KRXPortalURL  string
	KRXRatePerSec float64
	KRXPaths      map[string][]string

	KINDBaseURL     string
	DefaultCorpCode string

	HTTPTimeout time.Duration
	Timezone    *time.Location

	LogLevel  string
	LogFormat string
}

var ErrMissingDatabaseURL = errors.New("DATABASE_URL not set")

// Load reads .env files (if present) and the process environment.
// The returned Config is usable even when err is ErrMissingDatabaseURL, so
// callers that do not touch Postgres can decide to continue.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// missing files are fine; variables already set are not overridden
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("SQLITE_PATH", "ipopipe.db")
	v.SetDefault("DART_BASE_URL", "https://opendart.fss.or.kr/api")
	v.SetDefault("KRX_OPENAPI_BASE_URL", "https://data-dbg.krx.co.kr/svc/apis")
	v.SetDefault("KRX_PORTAL_URL", "https://data.krx.co.kr/comm/bldAttendant/getJsonData.cmd")
	v.SetDefault("KRX_RATE_PER_SEC", 5.0)
	v.SetDefault("KIND_BASE_URL", "https://kind.krx.co.kr/listinvstg")
	v.SetDefault("DEFAULT_CORP_CODE", "00126380")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("TIMEZONE", "Asia/Seoul")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "auto")
	for _, c := range KRXCategories {
		// an explicitly empty variable turns the category off
		if _, set := os.LookupEnv(KRXPathKey(c)); !set {
			v.SetDefault(KRXPathKey(c), defaultKRXPaths[c])
		}
	}
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:             v.GetString("APP_ENV"),
		ListenAddr:      v.GetString("LISTEN_ADDR"),
		StoreDriver:     strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		SQLitePath:      v.GetString("SQLITE_PATH"),
		DartAPIKey:      v.GetString("DART_API_KEY"),
		DartBaseURL:     v.GetString("DART_BASE_URL"),
		KRXAPIKey:       v.GetString("KRX_API_KEY"),
		KRXOpenAPIURL:   v.GetString("KRX_OPENAPI_BASE_URL"),
		KRXPortalURL:    v.GetString("KRX_PORTAL_URL"),
		KRXRatePerSec:   v.GetFloat64("KRX_RATE_PER_SEC"),
		KINDBaseURL:     v.GetString("KIND_BASE_URL"),
		DefaultCorpCode: v.GetString("DEFAULT_CORP_CODE"),
		HTTPTimeout:     v.GetDuration("HTTP_TIMEOUT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		KRXPaths:        make(map[string][]string, len(KRXCategories)),
	}
	for _, c := range KRXCategories {
		cfg.KRXPaths[c] = SplitPaths(v.GetString(KRXPathKey(c)))
	}

	loc, err := time.LoadLocation(v.GetString("TIMEZONE"))
	if err != nil {
		return cfg, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Timezone = loc

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, ErrMissingDatabaseURL
		}
	case "sqlite":
	default:
		return cfg, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// SplitPaths parses a comma separated path list, dropping blanks.
func SplitPaths(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// KRXPathKey is the environment key holding a category's path list.
func KRXPathKey(category string) string {
	return "KRX_API_" + strings.ToUpper(category) + "_PATH"
}
