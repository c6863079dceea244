package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	offlinecache "github.com/offline-cache/offline-cache"
	"github.com/offline-cache/offline-cache/cache"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvConfig is the environment side of the configuration.
// Flags override these values, the config file fills in the rest.
type EnvConfig struct {
	Origin     string `env:"OFFLINE_CACHE_ORIGIN"`
	Host       string `env:"OFFLINE_CACHE_ORIGIN_HOST"`
	Port       int    `env:"OFFLINE_CACHE_PORT" envDefault:"8080"`
	DB         string `env:"OFFLINE_CACHE_DB" envDefault:"offline-cache.db"`
	ConfigFile string `env:"OFFLINE_CACHE_CONFIG"`
	LogFile    string `env:"OFFLINE_CACHE_LOG_FILE"`
}

var (
	// CLI flags, with defaults from the environment
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	dbFilenameFlag     string
	cacheVersionFlag   int
	apiPrefixFlag      string
	holdFlag           bool
	noSyncFlag         bool
	syncIntervalFlag   time.Duration
	maxEntriesFlag     int
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	var envConfig EnvConfig
	_ = env.Parse(&envConfig)

	flag.StringVar(&configFilenameFlag, "config", envConfig.ConfigFile, "Path of YAML config file")
	flag.StringVar(&originFlag, "origin", envConfig.Origin, "Origin URL to proxy to")
	flag.StringVar(&hostFlag, "host", envConfig.Host, "Hostname of origin")
	flag.IntVar(&portFlag, "port", envConfig.Port, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", envConfig.DB, "Cache DB file name (use 'memory' for in-memory db)")
	flag.IntVar(&cacheVersionFlag, "cache-version", 0, "Cache namespace version (overrides config file)")
	flag.StringVar(&apiPrefixFlag, "api-prefix", "", "Path prefix of the mutating API (overrides config file)")
	flag.BoolVar(&holdFlag, "hold", false, "Hold activation until a SKIP_WAITING message")
	flag.BoolVar(&noSyncFlag, "no-sync", false, "Disable the connectivity watcher")
	flag.DurationVar(&syncIntervalFlag, "sync-interval", 0, "Interval between connectivity probes")
	flag.IntVar(&maxEntriesFlag, "max-entries", 0, "Max number of cached assets, 0 for unbounded (overrides config file)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", envConfig.LogFile, "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	cacheConfig := offlinecache.Config{
		Logger:         &log.Logger,
		OriginHost:     hostFlag,
		Version:        cacheVersionFlag,
		APIPrefix:      apiPrefixFlag,
		HoldActivation: holdFlag,
		DisableSync:    noSyncFlag,
		SyncInterval:   syncIntervalFlag,
	}

	origin := originFlag
	maxEntries := maxEntriesFlag

	// the config file fills in whatever flags and env did not set
	if configFilenameFlag != "" {
		fileConfig, err := offlinecache.ReadFileConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
		if origin == "" {
			origin = fileConfig.Origin
		}
		if cacheConfig.OriginHost == "" {
			cacheConfig.OriginHost = fileConfig.Host
		}
		if cacheConfig.Version == 0 {
			cacheConfig.Version = fileConfig.Version
		}
		if cacheConfig.APIPrefix == "" {
			cacheConfig.APIPrefix = fileConfig.APIPrefix
		}
		if maxEntries == 0 {
			maxEntries = fileConfig.MaxEntries
		}
		cacheConfig.Precache = fileConfig.Precache
		cacheConfig.Shell = fileConfig.Shell
		cacheConfig.Rules = fileConfig.Rules
	}

	if maxEntries > 0 {
		cacheConfig.Eviction = cache.NewFIFOEviction(maxEntries)
	}

	// set up sqlite provider
	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}
	cacheConfig.Cache = cache.NewSQLiteCache(dbFilename)

	// get the downstream server address
	if origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originUrl, err := url.Parse(origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}
	cacheConfig.OriginURL = *originUrl

	ocache := offlinecache.CreateCache(cacheConfig)
	log.Info().Msgf("Serving port %v with offline cache for %s", portFlag, cacheConfig.OriginURL.String())
	err = http.ListenAndServe(fmt.Sprintf(":%d", portFlag), ocache)

	if err != nil {
		panic(err)
	}
}
