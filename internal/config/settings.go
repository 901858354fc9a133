package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. ODOO_IMAGES_ODOO_HOST.
const EnvPrefix = "ODOO_IMAGES"

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general" mapstructure:"general"`
	Odoo    OdooSettings    `json:"odoo" mapstructure:"odoo"`
	Network NetworkSettings `json:"network" mapstructure:"network"`
	Browser BrowserSettings `json:"browser" mapstructure:"browser"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	OutputDir string `json:"output_dir" mapstructure:"output_dir"`
	BucketURL string `json:"bucket_url" mapstructure:"bucket_url"`
	Theme     int    `json:"theme" mapstructure:"theme"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// OdooSettings describes the host application.
type OdooSettings struct {
	Host        string `json:"host" mapstructure:"host"`
	Model       string `json:"model" mapstructure:"model"`
	ImageField  string `json:"image_field" mapstructure:"image_field"`
	IDColumn    string `json:"id_column" mapstructure:"id_column"`
	LabelColumn string `json:"label_column" mapstructure:"label_column"`
	PageMarker  string `json:"page_marker" mapstructure:"page_marker"`
}

// NetworkSettings contains HTTP client parameters.
type NetworkSettings struct {
	UserAgent           string        `json:"user_agent" mapstructure:"user_agent"`
	ProxyURL            string        `json:"proxy_url" mapstructure:"proxy_url"`
	Timeout             time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries          int           `json:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond   float64       `json:"requests_per_second" mapstructure:"requests_per_second"`
	StrictContentType   bool          `json:"strict_content_type" mapstructure:"strict_content_type"`
	SkipTLSVerification bool          `json:"skip_tls_verification" mapstructure:"skip_tls_verification"`
}

// BrowserSettings configures page integration.
type BrowserSettings struct {
	RemoteURL string `json:"remote_url" mapstructure:"remote_url"`
	Headless  bool   `json:"headless" mapstructure:"headless"`
	StartURL  string `json:"start_url" mapstructure:"start_url"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // Dotted key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "bool", "duration", "float64"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "general.output_dir", Label: "Output Dir", Description: "Directory images and archives are saved to. Ignored when a bucket URL is set.", Type: "string"},
			{Key: "general.bucket_url", Label: "Bucket URL", Description: "Save to a blob bucket instead (file://, s3://, gs://).", Type: "string"},
			{Key: "general.theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
		},
		"Odoo": {
			{Key: "odoo.host", Label: "Host", Description: "Base URL of the Odoo instance, e.g. https://mycompany.odoo.com.", Type: "string"},
			{Key: "odoo.model", Label: "Model", Description: "Model whose images are downloaded.", Type: "string"},
			{Key: "odoo.image_field", Label: "Image Field", Description: "Binary field served by /web/image.", Type: "string"},
			{Key: "odoo.id_column", Label: "ID Column", Description: "List view column holding the record ID. Must be visible.", Type: "string"},
			{Key: "odoo.label_column", Label: "Label Column", Description: "List view column used to name files. Falls back to the ID.", Type: "string"},
			{Key: "odoo.page_marker", Label: "Page Marker", Description: "URL fragment that identifies the product list view.", Type: "string"},
		},
		"Network": {
			{Key: "network.user_agent", Label: "User Agent", Description: "Custom User-Agent string for HTTP requests. Leave empty for default.", Type: "string"},
			{Key: "network.proxy_url", Label: "Proxy URL", Description: "HTTP/HTTPS or SOCKS5 proxy URL. Leave empty to use system default.", Type: "string"},
			{Key: "network.timeout", Label: "Timeout", Description: "Per-image request timeout (e.g., 60s).", Type: "duration"},
			{Key: "network.max_retries", Label: "Max Retries", Description: "Extra attempts per image after a failure. 0 disables retries.", Type: "int"},
			{Key: "network.requests_per_second", Label: "Requests/Second", Description: "Limit on image requests per second. 0 means unlimited.", Type: "float64"},
			{Key: "network.strict_content_type", Label: "Strict Content Type", Description: "Treat non-image responses as failed items.", Type: "bool"},
			{Key: "network.skip_tls_verification", Label: "Skip TLS Verify", Description: "Accept self-signed certificates.", Type: "bool"},
		},
		"Browser": {
			{Key: "browser.remote_url", Label: "Remote URL", Description: "DevTools websocket URL of a running Chrome. Empty launches a new one.", Type: "string"},
			{Key: "browser.headless", Label: "Headless", Description: "Launch Chrome without a window.", Type: "bool"},
			{Key: "browser.start_url", Label: "Start URL", Description: "Page opened when launching Chrome.", Type: "string"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Odoo", "Network", "Browser"}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			OutputDir: defaultDir,
			Theme:     ThemeAdaptive,
		},
		Odoo: OdooSettings{
			Model:       "product.template",
			ImageField:  "image_1920",
			IDColumn:    "id",
			LabelColumn: "barcode",
			PageMarker:  "model=product.template",
		},
		Network: NetworkSettings{
			UserAgent: "", // Empty means use default UA
			Timeout:   60 * time.Second,
		},
		Browser: BrowserSettings{
			Headless: false,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom reads the given file (JSON or YAML, by extension) on top of
// the defaults and applies ODOO_IMAGES_* environment overrides.
func LoadSettingsFrom(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read settings %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	return settings, nil
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("general.output_dir", d.General.OutputDir)
	v.SetDefault("general.bucket_url", d.General.BucketURL)
	v.SetDefault("general.theme", d.General.Theme)

	v.SetDefault("odoo.host", d.Odoo.Host)
	v.SetDefault("odoo.model", d.Odoo.Model)
	v.SetDefault("odoo.image_field", d.Odoo.ImageField)
	v.SetDefault("odoo.id_column", d.Odoo.IDColumn)
	v.SetDefault("odoo.label_column", d.Odoo.LabelColumn)
	v.SetDefault("odoo.page_marker", d.Odoo.PageMarker)

	v.SetDefault("network.user_agent", d.Network.UserAgent)
	v.SetDefault("network.proxy_url", d.Network.ProxyURL)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("network.max_retries", d.Network.MaxRetries)
	v.SetDefault("network.requests_per_second", d.Network.RequestsPerSecond)
	v.SetDefault("network.strict_content_type", d.Network.StrictContentType)
	v.SetDefault("network.skip_tls_verification", d.Network.SkipTLSVerification)

	v.SetDefault("browser.remote_url", d.Browser.RemoteURL)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.start_url", d.Browser.StartURL)
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// RuntimeConfig is the subset of settings the fetch engine needs.
type RuntimeConfig struct {
	Host                string
	Model               string
	ImageField          string
	UserAgent           string
	ProxyURL            string
	Timeout             time.Duration
	MaxRetries          int
	RequestsPerSecond   float64
	StrictContentType   bool
	SkipTLSVerification bool
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Host:                strings.TrimRight(s.Odoo.Host, "/"),
		Model:               s.Odoo.Model,
		ImageField:          s.Odoo.ImageField,
		UserAgent:           s.Network.UserAgent,
		ProxyURL:            s.Network.ProxyURL,
		Timeout:             s.Network.Timeout,
		MaxRetries:          s.Network.MaxRetries,
		RequestsPerSecond:   s.Network.RequestsPerSecond,
		StrictContentType:   s.Network.StrictContentType,
		SkipTLSVerification: s.Network.SkipTLSVerification,
	}
}

// BucketURL returns where artifacts are written: the explicit bucket URL if
// set, otherwise a file:// bucket rooted at the output directory.
func (s *Settings) BucketURL() string {
	if s.General.BucketURL != "" {
		return s.General.BucketURL
	}
	dir := s.General.OutputDir
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	path := filepath.ToSlash(dir)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path // Windows drive letters
	}
	return (&url.URL{Scheme: "file", Path: path, RawQuery: "metadata=skip"}).String()
}

// Value returns the setting stored under a dotted key from GetSettingsMetadata.
func (s *Settings) Value(key string) (any, bool) {
	switch key {
	case "general.output_dir":
		return s.General.OutputDir, true
	case "general.bucket_url":
		return s.General.BucketURL, true
	case "general.theme":
		return s.General.Theme, true
	case "odoo.host":
		return s.Odoo.Host, true
	case "odoo.model":
		return s.Odoo.Model, true
	case "odoo.image_field":
		return s.Odoo.ImageField, true
	case "odoo.id_column":
		return s.Odoo.IDColumn, true
	case "odoo.label_column":
		return s.Odoo.LabelColumn, true
	case "odoo.page_marker":
		return s.Odoo.PageMarker, true
	case "network.user_agent":
		return s.Network.UserAgent, true
	case "network.proxy_url":
		return s.Network.ProxyURL, true
	case "network.timeout":
		return s.Network.Timeout, true
	case "network.max_retries":
		return s.Network.MaxRetries, true
	case "network.requests_per_second":
		return s.Network.RequestsPerSecond, true
	case "network.strict_content_type":
		return s.Network.StrictContentType, true
	case "network.skip_tls_verification":
		return s.Network.SkipTLSVerification, true
	case "browser.remote_url":
		return s.Browser.RemoteURL, true
	case "browser.headless":
		return s.Browser.Headless, true
	case "browser.start_url":
		return s.Browser.StartURL, true
	}
	return nil, false
}
