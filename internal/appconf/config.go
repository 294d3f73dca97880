// Package appconf loads service configuration: a YAML file for endpoints and
// tuning, environment variables (optionally from a .env file) for secrets,
// validated before the server starts.
package appconf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      int         `yaml:"port" validate:"gt=0,lt=65536"`
	Env       Environment `yaml:"env"`
	LogLevel  string      `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	ApiKeys   []string    `yaml:"apiKeys"`
	RateLimit int         `yaml:"rateLimit" validate:"gte=0"`
	Verbose   bool        `yaml:"verbose"`
	TimeZone  string      `yaml:"timeZone" validate:"required"`

	Arrivals  ArrivalsConfig  `yaml:"arrivals"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	Feeds     FeedsConfig     `yaml:"feeds"`
}

type ArrivalsConfig struct {
	ResultLimit       int           `yaml:"resultLimit" validate:"gt=0,lte=20"`
	QueryTimeout      time.Duration `yaml:"queryTimeout" validate:"gt=0"`
	AlertsTimeout     time.Duration `yaml:"alertsTimeout" validate:"gt=0"`
	BatchConcurrency  int           `yaml:"batchConcurrency" validate:"gt=0"`
	CorrelationWindow time.Duration `yaml:"correlationWindow" validate:"gt=0"`
	ScheduledGrace    time.Duration `yaml:"scheduledGrace" validate:"gte=0"`
	// SparseMetroRoutes are metro routes whose feed routinely omits stops.
	SparseMetroRoutes []string `yaml:"sparseMetroRoutes"`
}

type SnapshotsConfig struct {
	ScratchDir string `yaml:"scratchDir"`
	// Families maps a schedule family (subway, rail, ferry) to its SQLite file.
	Families map[string]string `yaml:"families"`
}

// EndpointSet is one GTFS-realtime source. Routes overrides Default per route id.
type EndpointSet struct {
	Default string            `yaml:"default" validate:"omitempty,url"`
	Routes  map[string]string `yaml:"routes" validate:"dive,url"`
}

type NJTConfig struct {
	BaseURL  string        `yaml:"baseURL" validate:"omitempty,url"`
	TokenTTL time.Duration `yaml:"tokenTTL" validate:"gte=0"`
	Username string        `yaml:"-"`
	Password string        `yaml:"-"`
}

type FeedsConfig struct {
	HTTPTimeout time.Duration `yaml:"httpTimeout" validate:"gt=0"`
	// GTFSRT is keyed by mode: subway, lirr, mnr, path, ferry.
	GTFSRT      map[string]EndpointSet `yaml:"gtfsrt" validate:"dive"`
	BusFleetURL string                 `yaml:"busFleetURL" validate:"omitempty,url"`
	BusFleetTTL time.Duration          `yaml:"busFleetTTL" validate:"gte=0"`
	SIRIURL     string                 `yaml:"siriURL" validate:"omitempty,url"`
	// Alerts is keyed by mode.
	Alerts  map[string]string `yaml:"alerts" validate:"dive,url"`
	NJRail  NJTConfig         `yaml:"njRail"`
	NJBus   NJTConfig         `yaml:"njBus"`
	MTAKey  string            `yaml:"-"`
	SIRIKey string            `yaml:"-"`
}

const mtaFeedBase = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/"

// Default returns a configuration that runs against the public endpoints.
func Default() Config {
	subway := func(suffix string) string { return mtaFeedBase + "nyct%2Fgtfs" + suffix }
	return Config{
		Port:      4000,
		Env:       Development,
		LogLevel:  "info",
		RateLimit: 100,
		TimeZone:  "America/New_York",
		Arrivals: ArrivalsConfig{
			ResultLimit:       3,
			QueryTimeout:      25 * time.Second,
			AlertsTimeout:     5 * time.Second,
			BatchConcurrency:  8,
			CorrelationWindow: 20 * time.Minute,
			ScheduledGrace:    5 * time.Minute,
			SparseMetroRoutes: []string{"1024"},
		},
		Snapshots: SnapshotsConfig{
			Families: map[string]string{
				"subway": "data/subway.db",
				"rail":   "data/rail.db",
				"ferry":  "data/ferry.db",
			},
		},
		Feeds: FeedsConfig{
			HTTPTimeout: 10 * time.Second,
			GTFSRT: map[string]EndpointSet{
				"subway": {
					Default: subway(""),
					Routes: map[string]string{
						"A": subway("-ace"), "C": subway("-ace"), "E": subway("-ace"),
						"B": subway("-bdfm"), "D": subway("-bdfm"), "F": subway("-bdfm"), "M": subway("-bdfm"),
						"G": subway("-g"),
						"J": subway("-jz"), "Z": subway("-jz"),
						"N": subway("-nqrw"), "Q": subway("-nqrw"), "R": subway("-nqrw"), "W": subway("-nqrw"),
						"L":  subway("-l"),
						"SI": subway("-si"),
					},
				},
				"lirr":  {Default: mtaFeedBase + "lirr%2Fgtfs-lirr"},
				"mnr":   {Default: mtaFeedBase + "mnr%2Fgtfs-mnr"},
				"ferry": {Default: "https://nycferry.connexionz.net/rtt/public/utility/gtfsrealtime.aspx/tripupdate"},
				"path": {
					Default: "https://path.transitdata.nyc/gtfsrt",
					Routes: map[string]string{
						"859":   "https://path.transitdata.nyc/gtfsrt?route=859",
						"860":   "https://path.transitdata.nyc/gtfsrt?route=860",
						"861":   "https://path.transitdata.nyc/gtfsrt?route=861",
						"862":   "https://path.transitdata.nyc/gtfsrt?route=862",
						"1024":  "https://path.transitdata.nyc/gtfsrt?route=1024",
						"74320": "https://path.transitdata.nyc/gtfsrt?route=74320",
					},
				},
			},
			BusFleetURL: "https://gtfsrt.prod.obanyc.com/tripUpdates",
			BusFleetTTL: 30 * time.Second,
			SIRIURL:     "https://bustime.mta.info/api/siri/stop-monitoring.json",
			Alerts: map[string]string{
				"subway": mtaFeedBase + "camsys%2Fsubway-alerts",
				"lirr":   mtaFeedBase + "camsys%2Flirr-alerts",
				"mnr":    mtaFeedBase + "camsys%2Fmnr-alerts",
				"bus":    mtaFeedBase + "camsys%2Fbus-alerts",
			},
			NJRail: NJTConfig{BaseURL: "https://raildata.njtransit.com/api/TrainData", TokenTTL: 23 * time.Hour},
			NJBus:  NJTConfig{BaseURL: "https://pcsdata.njtransit.com/api/BUSDV2", TokenTTL: 12 * time.Hour},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then secrets from the environment. envFiles are loaded first without
// overriding variables already set; missing files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv copies secrets and a few operational overrides from the environment.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&c.Feeds.MTAKey, "MTA_API_KEY")
	setString(&c.Feeds.SIRIKey, "BUSTIME_API_KEY")
	setString(&c.Feeds.NJRail.Username, "NJT_RAIL_USERNAME")
	setString(&c.Feeds.NJRail.Password, "NJT_RAIL_PASSWORD")
	setString(&c.Feeds.NJBus.Username, "NJT_BUS_USERNAME")
	setString(&c.Feeds.NJBus.Password, "NJT_BUS_PASSWORD")
	setString(&c.LogLevel, "LOG_LEVEL")
	if keys := os.Getenv("API_KEYS"); keys != "" {
		c.ApiKeys = ParseAPIKeys(keys)
	}
	if env := os.Getenv("TRIPCARDS_ENV"); env != "" {
		if parsed, err := ParseEnvironment(env); err == nil {
			c.Env = parsed
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseAPIKeys splits a comma-separated key list, dropping blanks.
func ParseAPIKeys(s string) []string {
	keys := []string{}
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
