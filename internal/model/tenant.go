package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDomainsNotList is returned when allowed_domains is not a JSON array.
var ErrDomainsNotList = errors.New("allowed_domains must be a list")

// DomainList decodes allowed_domains. It accepts null or an array of
// scalars, which are stringified and trimmed; blank entries are dropped.
type DomainList []string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DomainList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*d = DomainList{}
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return ErrDomainsNotList
	}
	out := make(DomainList, 0, len(items))
	for _, item := range items {
		var s string
		switch v := item.(type) {
		case nil:
			continue
		case string:
			s = v
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*d = out
	return nil
}

// LooseObject decodes a JSON object and silently ignores any other value.
type LooseObject map[string]any

// UnmarshalJSON implements json.Unmarshaler.
func (o *LooseObject) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw.(map[string]any); ok {
		*o = m
	}
	return nil
}

// CreateTenantRequest is the body of POST /admin/create-client.
type CreateTenantRequest struct {
	ClientID       string      `json:"client_id"`
	BrandName      string      `json:"brand_name"`
	LogoText       string      `json:"logo_text"`
	DemoLink       string      `json:"demo_link"`
	AllowedDomains DomainList  `json:"allowed_domains"`
	Theme          LooseObject `json:"theme"`
	Copy           LooseObject `json:"copy"`
	WebhookURL     string      `json:"webhook_url"`
	LeadEmailTo    string      `json:"lead_email_to"`
}

// UpdateTenantRequest is the body of POST /admin/update-client. Absent keys
// leave the stored value untouched.
type UpdateTenantRequest struct {
	ClientID       string      `json:"client_id"`
	AllowedDomains *DomainList `json:"allowed_domains"`
	DemoLink       *string     `json:"demo_link"`
	BrandName      *string     `json:"brand_name"`
	LogoText       *string     `json:"logo_text"`
	Theme          LooseObject `json:"theme"`
	WebhookURL     *string     `json:"webhook_url"`
	LeadEmailTo    *string     `json:"lead_email_to"`
}

// RotateKeyRequest is the body of POST /admin/rotate-key.
type RotateKeyRequest struct {
	ClientID string `json:"client_id"`
}

// TenantCreated is returned after provisioning a tenant.
type TenantCreated struct {
	OK         bool   `json:"ok"`
	ClientID   string `json:"client_id"`
	WidgetKey  string `json:"widget_key"`
	Snippet    string `json:"snippet"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// KeyRotated is returned after rotating a widget key.
type KeyRotated struct {
	OK        bool   `json:"ok"`
	ClientID  string `json:"client_id"`
	WidgetKey string `json:"widget_key"`
}

// OnboardRequest is the body of POST /onboard.
type OnboardRequest struct {
	Token          string      `json:"token"`
	SessionID      string      `json:"session_id"`
	ClientID       string      `json:"client_id"`
	AllowedDomains DomainList  `json:"allowed_domains"`
	DemoLink       string      `json:"demo_link"`
	LeadEmailTo    string      `json:"lead_email_to"`
	BrandName      string      `json:"brand_name"`
	Theme          LooseObject `json:"theme"`
}

// Dashboard is the admin data payload.
type Dashboard struct {
	Client string  `json:"client"`
	Stats  Stats   `json:"stats"`
	KPI    KPI     `json:"kpi"`
	Funnel *Funnel `json:"funnel,omitempty"`
	Leads  []Lead  `json:"leads"`
}
