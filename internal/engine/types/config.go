package types

import (
	"time"
)

// Odoo endpoint defaults
const (
	DefaultModel      = "product.template"
	DefaultImageField = "image_1920"
	DefaultIDColumn   = "id"
	DefaultLabelCol   = "barcode"

	// ImageExtension is appended to every saved image and archive entry
	ImageExtension = ".jpg"

	// ArchiveName is the key used for multi-product bundles
	ArchiveName = "urunler.zip"
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	FetchTimeout                 = 60 * time.Second
	ProbeTimeout                 = 30 * time.Second
)

// Job lifecycle
const (
	// ResetDelay is how long a finished job stays visible before returning to idle
	ResetDelay = 2 * time.Second

	RetryBaseDelay = 500 * time.Millisecond
)

// Channel buffer sizes
const (
	ProgressChannelBuffer = 100
)

// RuntimeConfig holds dynamic settings that can override defaults
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
	Headers             map[string]string // Extra request headers (session cookie etc.)
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return r.UserAgent
}

// GetModel returns configured value or default
func (r *RuntimeConfig) GetModel() string {
	if r == nil || r.Model == "" {
		return DefaultModel
	}
	return r.Model
}

// GetImageField returns configured value or default
func (r *RuntimeConfig) GetImageField() string {
	if r == nil || r.ImageField == "" {
		return DefaultImageField
	}
	return r.ImageField
}

// GetTimeout returns configured value or default
func (r *RuntimeConfig) GetTimeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return FetchTimeout
	}
	return r.Timeout
}

// GetMaxRetries returns the number of extra attempts per item. Zero means a single attempt.
func (r *RuntimeConfig) GetMaxRetries() int {
	if r == nil || r.MaxRetries < 0 {
		return 0
	}
	return r.MaxRetries
}
