package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Default FIR position prefixes (Munich FIR plus military fields), matching
// the historical deployment.
const defaultPrefixes = "EDMM,EDDM,EDDN,ETSI,ETSL,ETSN,EDJA,EDMA,EDMO,EDMS,EDMT,EDMV,EDMY,EDDP,EDDC,EDDE"

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Training TrainingConfig `json:"training"`
	Check    CheckConfig    `json:"check"`
	Bridge   BridgeConfig   `json:"bridge"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
}

type DiscordConfig struct {
	Token        string `json:"token"`
	GuildID      string `json:"guild_id"`
	CPTChannelID string `json:"cpt_channel_id"`
	CPTRoleID    string `json:"cpt_role_id"`
}

type TrainingConfig struct {
	URL      string   `json:"url"`
	Token    string   `json:"token"`
	Prefixes []string `json:"prefixes"`
	Timeout  string   `json:"timeout"`
}

type CheckConfig struct {
	Interval  string `json:"interval"`   // e.g. "3h"
	StatePath string `json:"state_path"` // announcement record file
}

type BridgeConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Secret  string `json:"secret"`
}

type LoggingConfig struct {
	Level   string           `json:"level"`
	Console bool             `json:"console"`
	File    LogFileConfig    `json:"file"`
	Discord LogDiscordConfig `json:"discord"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LogDiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Check.Interval) == "" {
		c.Check.Interval = "3h"
	}
	if strings.TrimSpace(c.Check.StatePath) == "" {
		c.Check.StatePath = "data/cpts.json"
	}
	if len(c.Training.Prefixes) == 0 {
		c.Training.Prefixes = strings.Split(defaultPrefixes, ",")
	}
	if strings.TrimSpace(c.Bridge.Addr) == "" {
		c.Bridge.Addr = ":8081"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "INFO"
	}
}

// applyEnvOverrides layers the environment variables the original deployment
// used on top of the file config, so secrets can stay out of the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("CPT_CHANNEL_ID"); v != "" {
		c.Discord.CPTChannelID = v
	}
	if v := os.Getenv("CPT_ROLE_ID"); v != "" {
		c.Discord.CPTRoleID = v
	}
	if v := os.Getenv("TRAINING_API_URL"); v != "" {
		c.Training.URL = v
	}
	if v := os.Getenv("TRAINING_API_TOKEN"); v != "" {
		c.Training.Token = v
	}
	if v := os.Getenv("FIR_PREFIXES"); v != "" {
		c.Training.Prefixes = strings.Split(v, ",")
	}
	if v := os.Getenv("EVENT_MANAGER_API_TOKEN"); v != "" {
		c.Bridge.Secret = v
		c.Bridge.Enabled = true
	}
	if v := os.Getenv("EVENT_API_PORT"); v != "" {
		c.Bridge.Addr = ":" + v
	}
}

// Validate reports the startup-fatal problems. Everything else degrades at
// runtime instead.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord.token (or DISCORD_TOKEN) is required")
	}
	if _, err := parseDurationField("check.interval", c.Check.Interval); err != nil {
		return err
	}
	return nil
}

type ConfigManager struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	subs []chan *Config
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) Load() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, format, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	m.mu.Lock()
	m.cfg = &cfg
	m.mu.Unlock()
	return &cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) Subscribe(buffer int) <-chan *Config {
	ch := make(chan *Config, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *ConfigManager) publish(cfg *Config) {
	m.mu.RLock()
	subs := append([]chan *Config{}, m.subs...)
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
			// drop if slow subscriber
		}
	}
}

func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := m.Load()
			if err == nil && cfg != nil {
				m.publish(cfg)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.Events:
			if ev.Name == filepath.Join(dir, file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			}
		case <-w.Errors:
			// keep watching
		}
	}
}
