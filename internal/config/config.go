package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultRelayURL = "ws://localhost:8080/ws"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultCodec    = "json"
	DefaultCapacity = 6

	DefaultSettleDelay       = 500 * time.Millisecond
	DefaultAnnounceDelay     = time.Second
	DefaultStateRequestDelay = 300 * time.Millisecond

	DefaultRelayAddr  = ":8080"
	DefaultReadLimit  = 64 * 1024
	DefaultPingPeriod = 54 * time.Second
)

// Config holds application configuration
type Config struct {
	// RelayURL is the websocket endpoint of the signaling relay
	RelayURL string `mapstructure:"relay_url"`
	Room     string `mapstructure:"room"`
	Codec    string `mapstructure:"codec"`
	Capacity int    `mapstructure:"capacity"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_username"`
	TURNPass   string `mapstructure:"turn_password"`
	ForceRelay bool   `mapstructure:"force_relay"`

	// Sequencing delays of the room protocol
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	AnnounceDelay     time.Duration `mapstructure:"announce_delay"`
	StateRequestDelay time.Duration `mapstructure:"state_request_delay"`
	ResumeViewing     bool          `mapstructure:"resume_viewing"`

	// Local media
	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`
	NoVideo   bool   `mapstructure:"no_video"`

	// Reference relay server
	RelayAddr  string        `mapstructure:"relay_addr"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	ConfigFile string

	RelayURL   string
	Room       string
	Codec      string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	VideoFile string
	AudioFile string
	NoVideo   bool

	RelayAddr string
}

// envNames keeps the variable names users already know.
var envNames = map[string]string{
	"relay_url":     "RELAY_URL",
	"room":          "ROOM",
	"codec":         "SIGNALING_CODEC",
	"stun_server":   "STUN_SERVER",
	"turn_server":   "TURN_SERVER",
	"turn_username": "TURN_USERNAME",
	"turn_password": "TURN_PASSWORD",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. slotmesh.yaml in the working directory or ~/.config/slotmesh
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("slotmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/slotmesh")
	}

	setDefaults(v)

	v.SetEnvPrefix("SLOTMESH")
	v.AutomaticEnv()
	for key, env := range envNames {
		if err := v.BindEnv(key, env, "SLOTMESH_"+env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	applyOverrides(v, opts)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay_url", DefaultRelayURL)
	v.SetDefault("room", "")
	v.SetDefault("codec", DefaultCodec)
	v.SetDefault("capacity", DefaultCapacity)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_password", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("settle_delay", DefaultSettleDelay)
	v.SetDefault("announce_delay", DefaultAnnounceDelay)
	v.SetDefault("state_request_delay", DefaultStateRequestDelay)
	v.SetDefault("resume_viewing", true)
	v.SetDefault("video_file", "")
	v.SetDefault("audio_file", "")
	v.SetDefault("no_video", false)
	v.SetDefault("relay_addr", DefaultRelayAddr)
	v.SetDefault("read_limit", DefaultReadLimit)
	v.SetDefault("ping_period", DefaultPingPeriod)
}

func applyOverrides(v *viper.Viper, opts Options) {
	strs := map[string]string{
		"relay_url":     opts.RelayURL,
		"room":          opts.Room,
		"codec":         opts.Codec,
		"stun_server":   opts.STUNServer,
		"turn_server":   opts.TURNServer,
		"turn_username": opts.TURNUser,
		"turn_password": opts.TURNPass,
		"video_file":    opts.VideoFile,
		"audio_file":    opts.AudioFile,
		"relay_addr":    opts.RelayAddr,
	}
	for key, val := range strs {
		if val != "" {
			v.Set(key, val)
		}
	}
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}
	if opts.NoVideo {
		v.Set("no_video", true)
	}
}

// Validate rejects values the room cannot run with.
func (c *Config) Validate() error {
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown signaling codec %q (want json or msgpack)", c.Codec)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.SettleDelay < 0 || c.AnnounceDelay < 0 || c.StateRequestDelay < 0 {
		return errors.New("protocol delays must not be negative")
	}
	if c.RelayURL == "" {
		return errors.New("relay URL is required")
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
