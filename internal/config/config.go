package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Capture modes
const (
	ModeTab      = "tab"
	ModeLoopback = "loopback"
)

// Channel types
const (
	ChannelInput   = "input"
	ChannelMonitor = "monitor"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Client     ClientConfig     `mapstructure:"client" yaml:"client"`
	Visualizer VisualizerConfig `mapstructure:"visualizer" yaml:"visualizer"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	State      StateConfig      `mapstructure:"state" yaml:"state"`
}

type ServerConfig struct {
	Listen  string `mapstructure:"listen" yaml:"listen"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

type ClientConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	Owner     bool   `mapstructure:"owner" yaml:"owner"` // only the owner may mark, edit or delete errors
}

// VisualizerConfig mirrors the pixel geometry of the waveform view.
type VisualizerConfig struct {
	BarWidth          float64 `mapstructure:"bar_width" yaml:"bar_width"`
	BarGap            float64 `mapstructure:"bar_gap" yaml:"bar_gap"`
	ScrollSpeed       float64 `mapstructure:"scroll_speed" yaml:"scroll_speed"` // px per second
	Width             float64 `mapstructure:"width" yaml:"width"`
	SampleIntervalMs  int     `mapstructure:"sample_interval_ms" yaml:"sample_interval_ms"`
	InputSensitivity  float64 `mapstructure:"input_sensitivity" yaml:"input_sensitivity"`
	OutputSensitivity float64 `mapstructure:"output_sensitivity" yaml:"output_sensitivity"`
	MaxBarHeight      float64 `mapstructure:"max_bar_height" yaml:"max_bar_height"`
}

type CaptureConfig struct {
	Mode       string                        `mapstructure:"mode" yaml:"mode"`
	SampleRate int                           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Format     string                        `mapstructure:"format" yaml:"format"`
	Directory  string                        `mapstructure:"directory" yaml:"directory"`
	Channels   []ChannelDefinition           `mapstructure:"channels" yaml:"channels"`
	Modes      map[string][]ChannelReference `mapstructure:"modes" yaml:"modes"`
}

type ChannelDefinition struct {
	ID     string  `mapstructure:"id" yaml:"id"`
	Name   string  `mapstructure:"name" yaml:"name"`
	Source string  `mapstructure:"source" yaml:"source"`
	Type   string  `mapstructure:"type" yaml:"type"`
	Volume float64 `mapstructure:"volume" yaml:"volume"`
}

type ChannelReference struct {
	Ref    string   `mapstructure:"ref" yaml:"ref"`
	Volume *float64 `mapstructure:"volume,omitempty" yaml:"volume,omitempty"`
}

// Channel is a resolved capture channel for one mode.
type Channel struct {
	Name   string  `yaml:"name"`
	Source string  `yaml:"source"`
	Type   string  `yaml:"type"`
	Volume float64 `yaml:"volume"`
}

type StateConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// ErrUnknownMode is returned when a capture mode has no channel list.
var ErrUnknownMode = errors.New("unknown capture mode")

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.data_dir", filepath.Join(home, ".local", "share", "rehearse"))

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.timeout_ms", 30000)
	v.SetDefault("client.owner", true)

	v.SetDefault("visualizer.bar_width", 5.0)
	v.SetDefault("visualizer.bar_gap", 11.0)
	v.SetDefault("visualizer.scroll_speed", 50.0)
	v.SetDefault("visualizer.width", 600.0)
	v.SetDefault("visualizer.sample_interval_ms", 200)
	v.SetDefault("visualizer.input_sensitivity", 2.0)
	v.SetDefault("visualizer.output_sensitivity", 1.0)
	v.SetDefault("visualizer.max_bar_height", 240.0)

	v.SetDefault("capture.mode", ModeTab)
	v.SetDefault("capture.sample_rate", 48000)
	v.SetDefault("capture.format", "wav")
	v.SetDefault("capture.directory", filepath.Join(os.TempDir(), "rehearse"))
	v.SetDefault("capture.channels", []map[string]interface{}{
		{"id": "mic", "name": "mic", "source": "system:capture_1", "type": ChannelInput, "volume": 1.0},
		{"id": "tab", "name": "tab", "source": "system:monitor_FL", "type": ChannelMonitor, "volume": 1.0},
		{"id": "loopback", "name": "loopback", "source": "loopback:monitor_FL", "type": ChannelMonitor, "volume": 1.0},
	})
	v.SetDefault("capture.modes", map[string]interface{}{
		ModeTab:      []map[string]interface{}{{"ref": "tab"}, {"ref": "mic"}},
		ModeLoopback: []map[string]interface{}{{"ref": "loopback"}},
	})

	v.SetDefault("state.directory", filepath.Join(home, ".config", "rehearse"))
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid built-in config: %v", err))
	}
	return &cfg
}

// Load reads configFile on top of the defaults. A missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REHEARSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) && !isNotFound(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Server.DataDir = expandPath(cfg.Server.DataDir)
	cfg.Capture.Directory = expandPath(cfg.Capture.Directory)
	cfg.State.Directory = expandPath(cfg.State.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && os.IsNotExist(pathErr)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validateServer(c.Server); err != nil {
		return err
	}
	if err := validateClient(c.Client); err != nil {
		return err
	}
	if err := validateVisualizer(c.Visualizer); err != nil {
		return err
	}
	return validateCapture(c.Capture)
}

func validateServer(s ServerConfig) error {
	if s.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if s.DataDir == "" {
		return fmt.Errorf("server.data_dir is required")
	}
	return nil
}

func validateClient(c ClientConfig) error {
	if c.BaseURL == "" {
		return fmt.Errorf("client.base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("client.base_url must start with http:// or https://, got: %s", c.BaseURL)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("client.timeout_ms must be >= 0, got: %d", c.TimeoutMs)
	}
	return nil
}

func validateVisualizer(v VisualizerConfig) error {
	if v.BarWidth <= 0 {
		return fmt.Errorf("visualizer.bar_width must be > 0, got: %.2f", v.BarWidth)
	}
	if v.BarGap < 0 {
		return fmt.Errorf("visualizer.bar_gap must be >= 0, got: %.2f", v.BarGap)
	}
	if v.Width < v.BarWidth {
		return fmt.Errorf("visualizer.width must be >= bar_width, got: %.2f", v.Width)
	}
	if v.ScrollSpeed <= 0 {
		return fmt.Errorf("visualizer.scroll_speed must be > 0, got: %.2f", v.ScrollSpeed)
	}
	if v.SampleIntervalMs <= 0 {
		return fmt.Errorf("visualizer.sample_interval_ms must be > 0, got: %d", v.SampleIntervalMs)
	}
	if v.MaxBarHeight <= 0 {
		return fmt.Errorf("visualizer.max_bar_height must be > 0, got: %.2f", v.MaxBarHeight)
	}
	return nil
}

func validateCapture(c CaptureConfig) error {
	if c.Mode != ModeTab && c.Mode != ModeLoopback {
		return fmt.Errorf("capture.mode must be '%s' or '%s', got: %s", ModeTab, ModeLoopback, c.Mode)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be > 0, got: %d", c.SampleRate)
	}
	if c.Format != "wav" && c.Format != "flac" {
		return fmt.Errorf("capture.format must be 'wav' or 'flac', got: %s", c.Format)
	}

	seenIDs := make(map[string]bool)
	for i, def := range c.Channels {
		prefix := fmt.Sprintf("capture.channels[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if def.Name == "" {
			return fmt.Errorf("%s: 'name' is required", prefix)
		}
		if def.Type != ChannelInput && def.Type != ChannelMonitor {
			return fmt.Errorf("%s: 'type' must be 'input' or 'monitor', got: %s", prefix, def.Type)
		}
		if !isValidAudioSource(def.Source) {
			return fmt.Errorf("%s: source must be a valid audio source (device:port), got: %s", prefix, def.Source)
		}
		if def.Volume <= 0 {
			return fmt.Errorf("%s: 'volume' must be > 0, got: %.2f", prefix, def.Volume)
		}
	}

	for mode, refs := range c.Modes {
		if len(refs) == 0 {
			return fmt.Errorf("capture.modes.%s: at least one channel is required", mode)
		}
		for i, ref := range refs {
			prefix := fmt.Sprintf("capture.modes.%s[%d]", mode, i)
			if ref.Ref == "" {
				return fmt.Errorf("%s: 'ref' is required", prefix)
			}
			if !seenIDs[ref.Ref] {
				return fmt.Errorf("%s: references undefined channel '%s'", prefix, ref.Ref)
			}
			if ref.Volume != nil && *ref.Volume <= 0 {
				return fmt.Errorf("%s: volume override must be > 0, got %.2f", prefix, *ref.Volume)
			}
		}
	}

	if _, ok := c.Modes[c.Mode]; !ok {
		return fmt.Errorf("capture.mode '%s' has no entry in capture.modes", c.Mode)
	}

	return nil
}

// ResolveMode returns the channels recorded in the given capture mode,
// with per-mode volume overrides applied.
func (c *Config) ResolveMode(mode string) ([]Channel, error) {
	refs, ok := c.Capture.Modes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	channels := make([]Channel, 0, len(refs))
	for i, ref := range refs {
		var def *ChannelDefinition
		for j := range c.Capture.Channels {
			if c.Capture.Channels[j].ID == ref.Ref {
				def = &c.Capture.Channels[j]
				break
			}
		}
		if def == nil {
			return nil, fmt.Errorf("mode %s channel[%d]: reference '%s' not found", mode, i, ref.Ref)
		}

		ch := Channel{
			Name:   def.Name,
			Source: def.Source,
			Type:   def.Type,
			Volume: def.Volume,
		}
		if ref.Volume != nil {
			ch.Volume = *ref.Volume
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// AlternateMode returns the fallback capture mode for mode.
func AlternateMode(mode string) string {
	if mode == ModeLoopback {
		return ModeTab
	}
	return ModeLoopback
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isValidAudioSource accepts JACK/PipeWire port names of the form device:port.
// Device names may contain colons, so the port is taken after the last one.
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	lastColonIndex := strings.LastIndex(source, ":")
	if lastColonIndex == -1 {
		return true
	}

	deviceName := strings.TrimSpace(source[:lastColonIndex])
	port := strings.TrimSpace(source[lastColonIndex+1:])
	return deviceName != "" && port != ""
}
