package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ReaderConfig describes one physical Wiegand reader and the relay it
// drives.  ExpectedBits is 26 or 34.
type ReaderConfig struct {
	ID           int
	D0Pin        int
	D1Pin        int
	ExpectedBits int
	RelayPin     int
	StreamURL    string // RTSP address of the camera covering this lane
}

type Config struct {
	HTTPAddr string
	APIKey   string
	EntityID string

	// Local persistence
	DataDir   string
	ImagesDir string
	JSONDir   string // pending/uploaded subdirectories live under here

	Readers []ReaderConfig

	// Hardware
	PigpioAddr     string
	CaptureTimeout time.Duration

	// Decode / decide
	InterBitTimeout time.Duration
	RelayDwell      time.Duration

	// Connectivity probe
	ProbeURL     string
	ProbeTimeout time.Duration
	ProbeTTL     time.Duration

	// Remote sinks
	TransactionSinkURL string
	BlobSinkURL        string
	JSONSinkURL        string
	RelayCommandURL    string
	UploadTimeout      time.Duration
	JSONUploadTimeout  time.Duration

	// Optional direct-to-S3 image uploads instead of the multipart sink.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Sync engine
	SyncIdleInterval time.Duration
	SyncBusyInterval time.Duration
	SyncBatchSize    int
	SyncBatchPause   time.Duration
	ImageWorkers     int
	JSONWorkers      int
	RescanLimit      int

	// Retention / storage
	StorageCheckInterval     time.Duration
	TransactionRetentionDays int
	StatsRetentionDays       int
	JSONRetentionDays        int
}

func FromEnv() Config {
	dataDir := getenvDefault("GATEKEEPER_DATA_DIR", "./data")

	cfg := Config{
		HTTPAddr: getenvDefault("GATEKEEPER_HTTP_ADDR", ":5001"),
		APIKey:   os.Getenv("GATEKEEPER_API_KEY"),
		EntityID: getenvDefault("GATEKEEPER_ENTITY_ID", "default_entity"),

		DataDir:   dataDir,
		ImagesDir: getenvDefault("GATEKEEPER_IMAGES_DIR", filepath.Join(dataDir, "images")),
		JSONDir:   getenvDefault("GATEKEEPER_JSON_DIR", filepath.Join(dataDir, "json_uploads")),

		PigpioAddr:     getenvDefault("GATEKEEPER_PIGPIO_ADDR", "localhost:8888"),
		CaptureTimeout: getenvDuration("GATEKEEPER_CAPTURE_TIMEOUT", 10*time.Second),

		InterBitTimeout: getenvDuration("GATEKEEPER_INTERBIT_TIMEOUT", 25*time.Millisecond),
		RelayDwell:      getenvDuration("GATEKEEPER_RELAY_DWELL", time.Second),

		ProbeURL:     getenvDefault("GATEKEEPER_PROBE_URL", "http://clients3.google.com/generate_204"),
		ProbeTimeout: getenvDuration("GATEKEEPER_PROBE_TIMEOUT", 2*time.Second),
		ProbeTTL:     getenvDuration("GATEKEEPER_PROBE_TTL", 10*time.Second),

		TransactionSinkURL: os.Getenv("GATEKEEPER_TX_SINK_URL"),
		BlobSinkURL:        os.Getenv("GATEKEEPER_BLOB_SINK_URL"),
		JSONSinkURL:        os.Getenv("GATEKEEPER_JSON_SINK_URL"),
		RelayCommandURL:    os.Getenv("GATEKEEPER_RELAY_COMMAND_URL"),
		UploadTimeout:      getenvDuration("GATEKEEPER_UPLOAD_TIMEOUT", 45*time.Second),
		JSONUploadTimeout:  getenvDuration("GATEKEEPER_JSON_UPLOAD_TIMEOUT", 60*time.Second),

		S3Endpoint:  os.Getenv("GATEKEEPER_S3_ENDPOINT"),
		S3AccessKey: os.Getenv("GATEKEEPER_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("GATEKEEPER_S3_SECRET_KEY"),
		S3Bucket:    getenvDefault("GATEKEEPER_S3_BUCKET", "captures"),
		S3UseSSL:    getenvBool("GATEKEEPER_S3_USE_SSL", true),

		SyncIdleInterval: getenvDuration("GATEKEEPER_SYNC_INTERVAL", 60*time.Second),
		SyncBusyInterval: getenvDuration("GATEKEEPER_FAST_SYNC_INTERVAL", 15*time.Second),
		SyncBatchSize:    getenvInt("GATEKEEPER_SYNC_BATCH_SIZE", 10),
		SyncBatchPause:   getenvDuration("GATEKEEPER_SYNC_BATCH_PAUSE", time.Second),
		ImageWorkers:     getenvInt("GATEKEEPER_IMAGE_UPLOAD_WORKERS", 5),
		JSONWorkers:      getenvInt("GATEKEEPER_JSON_UPLOAD_WORKERS", 5),
		RescanLimit:      getenvInt("GATEKEEPER_RESCAN_LIMIT", 100),

		StorageCheckInterval:     getenvDuration("GATEKEEPER_STORAGE_CHECK_INTERVAL", 5*time.Minute),
		TransactionRetentionDays: getenvInt("GATEKEEPER_TRANSACTION_RETENTION_DAYS", 120),
		StatsRetentionDays:       getenvInt("GATEKEEPER_STATS_RETENTION_DAYS", 20),
		JSONRetentionDays:        getenvInt("GATEKEEPER_JSON_RETENTION_DAYS", 120),
	}

	for i := 1; i <= getenvInt("GATEKEEPER_READERS", 3); i++ {
		n := strconv.Itoa(i)
		cfg.Readers = append(cfg.Readers, ReaderConfig{
			ID:           i,
			D0Pin:        getenvInt("GATEKEEPER_D0_PIN_"+n, 17+i),
			D1Pin:        getenvInt("GATEKEEPER_D1_PIN_"+n, 22+i),
			ExpectedBits: getenvInt("GATEKEEPER_WIEGAND_BITS_"+n, 26),
			RelayPin:     getenvInt("GATEKEEPER_RELAY_PIN_"+n, 24+i),
			StreamURL:    os.Getenv("GATEKEEPER_CAMERA_" + n + "_RTSP"),
		})
	}

	return cfg
}

// UsersFile and friends are the single atomically-rewritten files backing
// the local stores.
func (c Config) UsersFile() string       { return filepath.Join(c.DataDir, "users.json") }
func (c Config) BlockedFile() string     { return filepath.Join(c.DataDir, "blocked_users.json") }
func (c Config) TransactionsFile() string { return filepath.Join(c.DataDir, "transactions_cache.json") }
func (c Config) DailyStatsFile() string  { return filepath.Join(c.DataDir, "daily_stats.json") }

func (c Config) JSONPendingDir() string  { return filepath.Join(c.JSONDir, "pending") }
func (c Config) JSONUploadedDir() string { return filepath.Join(c.JSONDir, "uploaded") }

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
