package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/utils"
	"go.yaml.in/yaml/v3"
)

// Config holds the device configuration
type Config struct {
	DeviceID   string `yaml:"device_id"`   // Unique device identifier (auto-generated if not set)
	DeviceName string `yaml:"device_name"` // Human readable name shown to peers
	Role       string `yaml:"role"`        // "camera" or "monitor"
	RoomID     string `yaml:"room_id"`     // Room to join
	SignalURL  string `yaml:"signal_url"`  // Signaling server base URL (http(s) or ws(s))
	AutoJoin   bool   `yaml:"auto_join"`   // Join the room on startup

	ICEServers []string `yaml:"ice_servers"` // STUN/TURN server URLs
	RTPListen  string   `yaml:"rtp_listen"`  // UDP addr the camera ingests RTP from

	ServerAddr string `yaml:"server_addr"` // Local control API address
	DBPath     string `yaml:"db_path"`     // Transition journal database
	LogLevel   string `yaml:"log_level"`

	Version string `yaml:"-"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

// DeviceType returns the configured role as a model type.
func (c *Config) DeviceType() model.DeviceType {
	return model.DeviceType(c.Role)
}

// Save writes the current configuration back to the file
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	err = os.WriteFile(c.file, data, 0o644)
	if err != nil {
		return err
	}

	return nil
}

// EnsureDefaults sets default values for missing config fields
func (c *Config) EnsureDefaults(save bool) error {
	changed := false
	c.mu.Lock()

	// Env overrides
	if signalURL := utils.Env("WATCHROOM_SIGNAL_URL", ""); signalURL != "" {
		c.SignalURL = signalURL
	}
	if roomID := utils.Env("WATCHROOM_ROOM_ID", ""); roomID != "" {
		c.RoomID = roomID
	}
	if role := utils.Env("WATCHROOM_ROLE", ""); role != "" {
		c.Role = role
	}
	if logLevel := utils.Env("WATCHROOM_LOG_LEVEL", ""); logLevel != "" {
		c.LogLevel = logLevel
	}

	// Create defaults
	if c.DeviceID == "" {
		deviceID, _ := utils.GenerateID()
		c.DeviceID = c.Role + "-" + deviceID
		changed = true
	}

	if c.Role == "" {
		c.Role = string(model.DeviceTypeMonitor)
		changed = true
	}

	if len(c.ICEServers) == 0 {
		c.ICEServers = []string{"stun:stun.l.google.com:19302"}
		changed = true
	}

	if c.RTPListen == "" {
		c.RTPListen = "127.0.0.1:5004"
		changed = true
	}

	if c.ServerAddr == "" {
		c.ServerAddr = ":3030"
		changed = true
	}

	if c.DBPath == "" {
		c.DBPath = "watchroom.db"
		changed = true
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}

	c.mu.Unlock()

	if changed && save {
		return c.Save()
	}
	return nil
}

// Validate rejects configurations the controllers cannot run with.
func (c *Config) Validate() error {
	if !c.DeviceType().Valid() {
		return fmt.Errorf("invalid role %q (must be camera or monitor)", c.Role)
	}
	if c.SignalURL == "" {
		return fmt.Errorf("signal_url is required")
	}
	if c.RoomID == "" {
		return fmt.Errorf("room_id is required")
	}
	return nil
}

// Load loads configuration from the specified file and environment variables
func Load(version, file, logLevel string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Version: version,
		file:    file,
	}

	yamlFeeder := feeder.Yaml{Path: file}
	_ = config.New().AddFeeder(yamlFeeder).AddStruct(cfg).Feed()

	if err := cfg.EnsureDefaults(true); err != nil {
		return nil, err
	}

	// Override log level from command-line argument
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	return cfg, nil
}
