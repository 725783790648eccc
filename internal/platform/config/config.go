package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"

	"kizuna/internal/domain"
	apperrors "kizuna/internal/platform/errors"
)

// TransferSettings configure default transfer behavior.
type TransferSettings struct {
	Compression         bool   `toml:"compression"`
	Encryption          bool   `toml:"encryption"`
	DefaultDownloadPath string `toml:"default_download_path,omitempty"`
	AutoAcceptTrusted   bool   `toml:"auto_accept_trusted"`
}

// StreamSettings configure default streaming behavior.
type StreamSettings struct {
	DefaultQuality string `toml:"default_quality"`
	AutoRecord     bool   `toml:"auto_record"`
	RecordingPath  string `toml:"recording_path,omitempty"`
}

// Profile is a named overlay of settings. Parent names another profile whose
// settings apply first; chains run one level only.
type Profile struct {
	Description string         `toml:"description"`
	Parent      string         `toml:"parent,omitempty"`
	Settings    map[string]any `toml:"settings"`
}

// CLIConfig is the persistent user configuration.
type CLIConfig struct {
	DefaultPeer      string              `toml:"default_peer,omitempty"`
	OutputFormat     domain.OutputFormat `toml:"output_format"`
	ColorMode        domain.ColorMode    `toml:"color_mode"`
	TransferSettings TransferSettings    `toml:"transfer_settings"`
	StreamSettings   StreamSettings      `toml:"stream_settings"`
	Profiles         map[string]Profile  `toml:"profiles"`
}

// Default returns the built-in configuration, the lowest layer of the merge.
func Default() CLIConfig {
	return CLIConfig{
		OutputFormat: domain.FormatTable,
		ColorMode:    domain.ColorAuto,
		TransferSettings: TransferSettings{
			Compression: true,
			Encryption:  true,
		},
		StreamSettings: StreamSettings{
			DefaultQuality: "medium",
		},
		Profiles: map[string]Profile{},
	}
}

// Path returns the config file location under the platform user-config dir.
func Path() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", apperrors.Config("resolve user config dir: " + err.Error())
	}
	return filepath.Join(base, "kizuna", "config.toml"), nil
}

// Load reads and validates the config at path, layering it over defaults.
// A missing file yields the defaults.
func Load(path string) (CLIConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return CLIConfig{}, apperrors.IO(err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return CLIConfig{}, apperrors.Config(fmt.Sprintf("parse %s: %v", path, err))
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	if err := cfg.Validate(); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

// Save validates and writes the config, creating the directory as needed.
func Save(path string, cfg CLIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.IO(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return apperrors.IO(err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return apperrors.Config("encode config: " + err.Error())
	}
	return nil
}

// Validate enforces the cross-field rules: quality preset membership and that
// referenced paths, when they exist, are directories.
func (c CLIConfig) Validate() error {
	if !domain.ValidStreamQuality(c.StreamSettings.DefaultQuality) {
		return apperrors.Config("stream_settings.default_quality must be one of low, medium, high, ultra")
	}
	if _, ok := domain.ParseOutputFormat(string(c.OutputFormat)); !ok {
		return apperrors.Config("output_format must be one of table, json, csv, minimal")
	}
	if _, ok := domain.ParseColorMode(string(c.ColorMode)); !ok {
		return apperrors.Config("color_mode must be one of auto, always, never")
	}
	if err := mustBeDirIfExists("transfer_settings.default_download_path", c.TransferSettings.DefaultDownloadPath); err != nil {
		return err
	}
	if err := mustBeDirIfExists("stream_settings.recording_path", c.StreamSettings.RecordingPath); err != nil {
		return err
	}
	return nil
}

func mustBeDirIfExists(key, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		// Missing paths are allowed; they are created on use.
		return nil
	}
	if !info.IsDir() {
		return apperrors.Config(key + ": " + path + " exists and is not a directory")
	}
	return nil
}

// ApplyProfile resolves the named profile (parent first, one level) and
// overlays its settings. Cycles and deeper chains are configuration errors.
func (c CLIConfig) ApplyProfile(name string) (CLIConfig, error) {
	profile, ok := c.Profiles[name]
	if !ok {
		return CLIConfig{}, apperrors.Config("profile not found: " + name)
	}
	out := c
	if profile.Parent != "" {
		parent, ok := c.Profiles[profile.Parent]
		if !ok {
			return CLIConfig{}, apperrors.Config("profile " + name + ": parent not found: " + profile.Parent)
		}
		if parent.Parent != "" {
			return CLIConfig{}, apperrors.Config("profile " + name + ": inheritance chains are limited to one level")
		}
		var err error
		out, err = out.applySettings(parent.Settings)
		if err != nil {
			return CLIConfig{}, err
		}
	}
	return out.applySettings(profile.Settings)
}

func (c CLIConfig) applySettings(settings map[string]any) (CLIConfig, error) {
	out := c
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := out.Set(k, fmt.Sprint(settings[k])); err != nil {
			return CLIConfig{}, err
		}
	}
	return out, nil
}

// Get reads a value by dotted key; the surface of `config get`.
func (c CLIConfig) Get(key string) (string, error) {
	switch key {
	case "default_peer":
		return c.DefaultPeer, nil
	case "output_format":
		return string(c.OutputFormat), nil
	case "color_mode":
		return string(c.ColorMode), nil
	case "transfer_settings.compression":
		return strconv.FormatBool(c.TransferSettings.Compression), nil
	case "transfer_settings.encryption":
		return strconv.FormatBool(c.TransferSettings.Encryption), nil
	case "transfer_settings.default_download_path":
		return c.TransferSettings.DefaultDownloadPath, nil
	case "transfer_settings.auto_accept_trusted":
		return strconv.FormatBool(c.TransferSettings.AutoAcceptTrusted), nil
	case "stream_settings.default_quality":
		return c.StreamSettings.DefaultQuality, nil
	case "stream_settings.auto_record":
		return strconv.FormatBool(c.StreamSettings.AutoRecord), nil
	case "stream_settings.recording_path":
		return c.StreamSettings.RecordingPath, nil
	}
	return "", apperrors.Config("unknown key: " + key)
}

// Set writes a value by dotted key; the surface of `config set` and profile
// overlays.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "default_peer":
		c.DefaultPeer = value
	case "output_format":
		format, ok := domain.ParseOutputFormat(value)
		if !ok {
			return apperrors.Config("output_format: invalid value " + value)
		}
		c.OutputFormat = format
	case "color_mode":
		mode, ok := domain.ParseColorMode(value)
		if !ok {
			return apperrors.Config("color_mode: invalid value " + value)
		}
		c.ColorMode = mode
	case "transfer_settings.compression":
		return setBool(&c.TransferSettings.Compression, key, value)
	case "transfer_settings.encryption":
		return setBool(&c.TransferSettings.Encryption, key, value)
	case "transfer_settings.default_download_path":
		c.TransferSettings.DefaultDownloadPath = value
	case "transfer_settings.auto_accept_trusted":
		return setBool(&c.TransferSettings.AutoAcceptTrusted, key, value)
	case "stream_settings.default_quality":
		if !domain.ValidStreamQuality(value) {
			return apperrors.Config("stream_settings.default_quality: invalid value " + value)
		}
		c.StreamSettings.DefaultQuality = value
	case "stream_settings.auto_record":
		return setBool(&c.StreamSettings.AutoRecord, key, value)
	case "stream_settings.recording_path":
		c.StreamSettings.RecordingPath = value
	default:
		return apperrors.Config("unknown key: " + key)
	}
	return nil
}

// Keys lists every settable key, sorted; the surface of `config list`.
func Keys() []string {
	return []string{
		"color_mode",
		"default_peer",
		"output_format",
		"stream_settings.auto_record",
		"stream_settings.default_quality",
		"stream_settings.recording_path",
		"transfer_settings.auto_accept_trusted",
		"transfer_settings.compression",
		"transfer_settings.default_download_path",
		"transfer_settings.encryption",
	}
}

func setBool(dst *bool, key, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return apperrors.Config(key + ": expected true or false, got " + value)
	}
	*dst = v
	return nil
}
