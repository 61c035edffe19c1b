package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/polyvox/polyvox/internal/realtime"
)

// RealtimeConfig carries the recognized tuning knobs of the subtitle
// pipeline, all read from the environment.
type RealtimeConfig struct {
	realtime.Options

	// StrictParticipants rejects a second connection for an already
	// connected participant id instead of superseding it.
	StrictParticipants bool

	// HistoryBackend selects the durable store: "postgres" (default),
	// "mongo", or "none".
	HistoryBackend string

	// TranslateProvider selects the translator: "google" (default) or
	// "vertex".
	TranslateProvider string

	// ArchiveBucket enables GCS archiving of final segments when set.
	ArchiveBucket string

	// IdleMeetingTimeout ends meetings that stay empty this long. Zero
	// disables the sweeper.
	IdleMeetingTimeout time.Duration
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envInt(key string, def int) int {
	return int(envInt64(key, int64(def)))
}

func envBool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true")
}

// LoadRealtime reads the pipeline configuration with production defaults.
func LoadRealtime() RealtimeConfig {
	cfg := RealtimeConfig{
		Options: realtime.Options{
			MinBufferMS:   envInt64("REALTIME_MIN_BUFFER_MS", 500),
			MaxBufferMS:   envInt64("REALTIME_MAX_BUFFER_MS", 5000),
			MaxWorkers:    envInt("REALTIME_MAX_WORKERS", 8),
			CacheSize:     envInt("REALTIME_CACHE_SIZE", 1000),
			MinConfidence: 0,
		},
		StrictParticipants: envBool("REALTIME_STRICT_PARTICIPANTS"),
		HistoryBackend:     strings.TrimSpace(os.Getenv("HISTORY_BACKEND")),
		TranslateProvider:  strings.TrimSpace(os.Getenv("TRANSLATE_PROVIDER")),
		ArchiveBucket:      strings.TrimSpace(os.Getenv("ARCHIVE_BUCKET")),
		IdleMeetingTimeout: time.Duration(envInt64("REALTIME_IDLE_MEETING_TIMEOUT_SEC", 120)) * time.Second,
	}

	if langs := strings.TrimSpace(os.Getenv("REALTIME_DEFAULT_LANGUAGES")); langs != "" {
		for _, l := range strings.Split(langs, ",") {
			if l = strings.TrimSpace(l); l != "" {
				cfg.DefaultLanguages = append(cfg.DefaultLanguages, l)
			}
		}
	}
	if len(cfg.DefaultLanguages) == 0 {
		cfg.DefaultLanguages = []string{"ko", "en"}
	}

	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = "postgres"
	}
	if cfg.TranslateProvider == "" {
		cfg.TranslateProvider = "google"
	}
	return cfg
}
