package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildImageURL returns the /web/image URL serving a record's binary image field.
// Example: https://erp.example.com/web/image?model=product.template&id=42&field=image_1920
func BuildImageURL(host, model, field, id string) (string, error) {
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("host %q must be an absolute URL", host)
	}

	base.Path = strings.TrimRight(base.Path, "/") + "/web/image"
	// Keep the parameter order the web client uses; url.Values would sort them
	base.RawQuery = "model=" + url.QueryEscape(model) +
		"&id=" + url.QueryEscape(id) +
		"&field=" + url.QueryEscape(field)
	return base.String(), nil
}

// OriginOf returns scheme://host of a page URL.
func OriginOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %q", rawURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// IsProductPage reports whether a page URL shows the product list view.
func IsProductPage(rawURL, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(rawURL, marker)
}
