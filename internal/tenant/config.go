// Package tenant resolves and mutates per-tenant widget configuration.
//
// Configuration lives in a single JSON object keyed by tenant id. The "default"
// record supplies a value for every field; tenant records only carry overrides
// and are deep-merged on top of it.
package tenant

import (
	"strings"
)

// Reserved tenant ids.
const (
	DefaultID = "default"
	AgencyID  = "agency"
)

// Record field names.
const (
	FieldBrand          = "brand"
	FieldLinks          = "links"
	FieldTheme          = "theme"
	FieldCopy           = "copy"
	FieldAllowedDomains = "allowedDomains"
	FieldWidgetKey      = "widgetKey"
	FieldWebhookURL     = "webhookUrl"
	FieldLeadEmailTo    = "leadEmailTo"
)

// DemoLinkPlaceholder is replaced with the process-wide demo link.
const DemoLinkPlaceholder = "{{DEMO_LINK}}"

// secretFields never leave the server.
var secretFields = []string{FieldWidgetKey, FieldAllowedDomains, FieldWebhookURL, FieldLeadEmailTo}

// Config is a tenant configuration record, either raw from the store or the
// effective result of merging it over the default record.
type Config map[string]any

// Public returns a deep copy with secret and internal fields removed, safe to
// send to a browser.
func (c Config) Public() Config {
	clean := Config(cloneMap(c))
	for _, k := range secretFields {
		delete(clean, k)
	}
	return clean
}

// BrandName returns brand.name.
func (c Config) BrandName() string {
	return c.nestedString(FieldBrand, "name")
}

// LogoText returns brand.logoText.
func (c Config) LogoText() string {
	return c.nestedString(FieldBrand, "logoText")
}

// DemoLink returns links.demo.
func (c Config) DemoLink() string {
	return c.nestedString(FieldLinks, "demo")
}

// Theme returns the theme mapping, never nil.
func (c Config) Theme() map[string]any {
	if m, ok := c[FieldTheme].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Accent returns theme.accentB, the widget button colour.
func (c Config) Accent() string {
	return c.nestedString(FieldTheme, "accentB")
}

// AllowedDomains returns the non-empty allowed embedding domains.
func (c Config) AllowedDomains() []string {
	return stringList(c[FieldAllowedDomains])
}

// WidgetKey returns the configured widget secret, empty when unset.
func (c Config) WidgetKey() string {
	return c.string(FieldWidgetKey)
}

// WebhookURL returns the lead webhook target, empty when unset.
func (c Config) WebhookURL() string {
	return c.string(FieldWebhookURL)
}

// LeadEmailTo returns the lead notification address, empty when unset.
func (c Config) LeadEmailTo() string {
	return c.string(FieldLeadEmailTo)
}

func (c Config) string(key string) string {
	s, _ := c[key].(string)
	return strings.TrimSpace(s)
}

func (c Config) nestedString(outer, inner string) string {
	m, ok := c[outer].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[inner].(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	var out []string
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case []string:
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// DefaultRecord is the seed written when no configuration file exists yet.
func DefaultRecord() map[string]any {
	return map[string]any{
		FieldBrand: map[string]any{"name": "Assistant", "logoText": "AI"},
		FieldLinks: map[string]any{"demo": DemoLinkPlaceholder},
		FieldTheme: map[string]any{
			"accentA": "#6366f1",
			"accentB": "#22d3ee",
			"bgA":     "#0b1020",
			"bgB":     "#111a33",
		},
		FieldCopy: map[string]any{
			"title":    "Assistant",
			"subtitle": "Answers, qualifies, books meetings",
			"greeting": "Hi! What can I help you with today?",
		},
		FieldAllowedDomains: []any{},
	}
}
