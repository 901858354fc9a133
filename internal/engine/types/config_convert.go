package types

import "github.com/surge-downloader/odoo-images/internal/config"

// ConvertRuntimeConfig converts the app-level RuntimeConfig to the engine-level RuntimeConfig.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	return &RuntimeConfig{
		Host:                rc.Host,
		Model:               rc.Model,
		ImageField:          rc.ImageField,
		UserAgent:           rc.UserAgent,
		ProxyURL:            rc.ProxyURL,
		Timeout:             rc.Timeout,
		MaxRetries:          rc.MaxRetries,
		RequestsPerSecond:   rc.RequestsPerSecond,
		StrictContentType:   rc.StrictContentType,
		SkipTLSVerification: rc.SkipTLSVerification,
	}
}
