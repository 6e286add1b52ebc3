package service

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

const defaultAccent = "#22d3ee"

// TenantStore persists tenant records.
type TenantStore interface {
	Create(t tenant.NewTenant) (string, error)
	Update(id string, p tenant.Patch) error
	RotateKey(id string) (string, error)
	List() ([]tenant.Summary, error)
}

// PromptWriter synthesizes a tenant's prompt file.
type PromptWriter interface {
	EnsureTenantPrompt(id, brandName, demoLink string) error
}

// TenantService provisions and edits tenants.
type TenantService struct {
	store    TenantStore
	prompts  PromptWriter
	demoLink string
	logger   *logger.Logger
}

// NewTenantService creates a new tenant service. demoLink is used when a new
// tenant does not bring its own.
func NewTenantService(store TenantStore, prompts PromptWriter, demoLink string, log *logger.Logger) *TenantService {
	return &TenantService{
		store:    store,
		prompts:  prompts,
		demoLink: demoLink,
		logger:   log,
	}
}

// Create provisions a tenant and returns its widget key and embed snippet.
// baseURL is the public origin the snippet and preview link point at.
func (s *TenantService) Create(req model.CreateTenantRequest, baseURL string) (*model.TenantCreated, error) {
	id, err := tenant.ValidateNewID(req.ClientID)
	if err != nil {
		return nil, err
	}

	brand := strings.TrimSpace(req.BrandName)
	if brand == "" {
		brand = id
	}
	logo := strings.TrimSpace(req.LogoText)
	if logo == "" {
		logo = Initials(brand)
	}
	demo := strings.TrimSpace(req.DemoLink)
	if demo == "" {
		demo = s.demoLink
	}

	key, err := s.store.Create(tenant.NewTenant{
		ID:             id,
		BrandName:      brand,
		LogoText:       logo,
		DemoLink:       demo,
		AllowedDomains: []string(req.AllowedDomains),
		Theme:          req.Theme,
		Copy:           req.Copy,
		WebhookURL:     strings.TrimSpace(req.WebhookURL),
		LeadEmailTo:    strings.TrimSpace(req.LeadEmailTo),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client %s: %w", id, err)
	}

	if err := s.prompts.EnsureTenantPrompt(id, brand, demo); err != nil {
		s.logger.Warn("failed to write tenant prompt", zap.String("tenant_id", id), zap.Error(err))
	}

	s.logger.Info("tenant created", zap.String("tenant_id", id))

	accent, _ := req.Theme["accentB"].(string)
	baseURL = strings.TrimRight(baseURL, "/")
	return &model.TenantCreated{
		OK:         true,
		ClientID:   id,
		WidgetKey:  key,
		Snippet:    Snippet(baseURL, id, key, accent),
		PreviewURL: baseURL + "/?client=" + id,
	}, nil
}

// Update applies the keys present in req to an existing tenant.
func (s *TenantService) Update(req model.UpdateTenantRequest) error {
	id, err := tenant.ValidateNewID(req.ClientID)
	if err != nil {
		return err
	}

	p := tenant.Patch{
		DemoLink:    trimmed(req.DemoLink),
		BrandName:   trimmed(req.BrandName),
		LogoText:    trimmed(req.LogoText),
		Theme:       req.Theme,
		WebhookURL:  trimmed(req.WebhookURL),
		LeadEmailTo: trimmed(req.LeadEmailTo),
	}
	if req.AllowedDomains != nil {
		domains := []string(*req.AllowedDomains)
		p.AllowedDomains = &domains
	}

	if err := s.store.Update(id, p); err != nil {
		return fmt.Errorf("failed to update client %s: %w", id, err)
	}
	s.logger.Info("tenant updated", zap.String("tenant_id", id))
	return nil
}

// RotateKey issues a new widget key for the tenant.
func (s *TenantService) RotateKey(req model.RotateKeyRequest) (*model.KeyRotated, error) {
	id, err := tenant.ValidateNewID(req.ClientID)
	if err != nil {
		return nil, err
	}
	key, err := s.store.RotateKey(id)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate key for %s: %w", id, err)
	}
	s.logger.Info("widget key rotated", zap.String("tenant_id", id))
	return &model.KeyRotated{OK: true, ClientID: id, WidgetKey: key}, nil
}

// List returns all tenants except the default record.
func (s *TenantService) List() ([]tenant.Summary, error) {
	return s.store.List()
}

// Snippet renders the script tag a tenant pastes into their site.
func Snippet(baseURL, id, key, accent string) string {
	if accent == "" {
		accent = defaultAccent
	}
	return fmt.Sprintf(`<script
  src="%s/widget.js"
  data-client="%s"
  data-key="%s"
  data-position="right"
  data-accent="%s">
</script>`, strings.TrimRight(baseURL, "/"), id, key, accent)
}

// Initials returns up to two upper-case initials of name.
func Initials(name string) string {
	var out []rune
	for _, word := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out = append(out, unicode.ToUpper([]rune(word)[0]))
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "AI"
	}
	return string(out)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
