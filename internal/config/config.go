// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	RetryManual  = "manual"
	RetryBackoff = "backoff"
)

// Główny config aplikacji
type Config struct {
	Terminal            string   `json:"terminal"` // id kasy w eventach, domyślnie hostname
	AutoStart           bool     `json:"auto_start"`
	SyncIntervalSeconds int      `json:"sync_interval_seconds"`
	BatchSize           int      `json:"batch_size"`
	MaxOfflineQueue     int      `json:"max_offline_queue"` // miękki limit, tylko ostrzeżenie
	Retry               Retry    `json:"retry"`
	PullKinds           []string `json:"pull_kinds"`

	Database     Database     `json:"database"`
	Remote       Remote       `json:"remote"`
	Connectivity Connectivity `json:"connectivity"`
	Dashboard    Dashboard    `json:"dashboard"`
	Events       Events       `json:"events"`
	Importer     Importer     `json:"importer"`
	Log          Log          `json:"log"`
}

type Retry struct {
	Policy      string `json:"policy"` // manual / backoff
	MaxAttempts int    `json:"max_attempts"`
	BaseSeconds int    `json:"base_seconds"`
	MaxSeconds  int    `json:"max_seconds"`
}

type Database struct {
	Driver string `json:"driver"` // sqlite (pure go) / sqlite-cgo
	File   string `json:"file,omitempty"`
}

// Remote: nazwa magazynu zdalnego + surowy JSON dla jego fabryki
type Remote struct {
	Kind     string                     `json:"kind"`
	Settings map[string]json.RawMessage `json:"settings"`
	// memory trzyma dane tylko w procesie; bez tej flagi app.Open go odrzuca
	AllowVolatile bool `json:"allow_volatile,omitempty"`
}

type Connectivity struct {
	ProbeSeconds   int `json:"probe_seconds"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

type Dashboard struct {
	Listen string `json:"listen"` // np. 127.0.0.1:8089, puste = wyłączony
}

type Events struct {
	AMQPURL  string `json:"amqp_url"`
	Exchange string `json:"exchange"`
}

type Importer struct {
	WatchDir string `json:"watch_dir"` // puste = import wyłączony
	PollSec  int    `json:"poll_sec"`
}

type Log struct {
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Console    bool `json:"console"`
}

// domyślna konfiguracja HTTP magazynu (zapisywana przy pierwszym starcie)
type httpDefaults struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type sqlDefaults struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

func Default() *Config {
	rawHTTP, _ := json.Marshal(httpDefaults{
		BaseURL:        "http://127.0.0.1:8090",
		APIKey:         "change-me",
		TimeoutSeconds: 10,
	})
	rawSQL, _ := json.Marshal(sqlDefaults{
		Driver: "postgres",
		DSN:    "host=localhost user=pos password=pos dbname=pos port=5432 sslmode=disable",
	})

	cfg := &Config{
		AutoStart: false,
		Remote: Remote{
			Kind: "http",
			Settings: map[string]json.RawMessage{
				"http": rawHTTP,
				"sql":  rawSQL,
			},
		},
		Log: Log{Console: true},
	}
	cfg.Normalize()
	return cfg
}

// Normalize uzupełnia zera wartościami domyślnymi.
func (c *Config) Normalize() {
	if c.Terminal == "" {
		if host, err := os.Hostname(); err == nil {
			c.Terminal = host
		}
	}
	if c.SyncIntervalSeconds <= 0 {
		c.SyncIntervalSeconds = 30
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxOfflineQueue <= 0 {
		c.MaxOfflineQueue = 100
	}
	if c.Retry.Policy == "" {
		c.Retry.Policy = RetryManual
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseSeconds <= 0 {
		c.Retry.BaseSeconds = 60
	}
	if c.Retry.MaxSeconds <= 0 {
		c.Retry.MaxSeconds = 3600
	}
	if c.PullKinds == nil {
		c.PullKinds = []string{"product", "category", "user", "customer"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Remote.Kind == "" {
		c.Remote.Kind = "http"
	}
	if c.Remote.Settings == nil {
		c.Remote.Settings = map[string]json.RawMessage{}
	}
	if c.Connectivity.ProbeSeconds <= 0 {
		c.Connectivity.ProbeSeconds = 10
	}
	if c.Connectivity.TimeoutSeconds <= 0 {
		c.Connectivity.TimeoutSeconds = 5
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "pos_sync"
	}
	if c.Importer.PollSec <= 0 {
		c.Importer.PollSec = 60
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.ProbeSeconds) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Connectivity.TimeoutSeconds) * time.Second
}

func LoadOrCreate(path string) (*Config, bool, error) {
	// upewnij się, że katalog istnieje
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("błąd zapisu domyślnego configa: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("błąd otwierania configa: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("błąd parsowania configa: %w", err)
	}
	cfg.Normalize()
	return &cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// RemoteSettings zwraca surowy JSON dla wybranego magazynu (nil gdy brak).
func (c *Config) RemoteSettings() json.RawMessage {
	return c.Remote.Settings[c.Remote.Kind]
}

// Helper do odczytu ustawień konkretnego magazynu do struktury docelowej
func (c *Config) UnmarshalRemote(name string, v any) error {
	raw, ok := c.Remote.Settings[name]
	if !ok {
		return fmt.Errorf("brak ustawień magazynu %q w configu", name)
	}
	return json.Unmarshal(raw, v)
}
