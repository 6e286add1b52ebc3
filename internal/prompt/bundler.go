// Package prompt assembles the system instructions sent with every chat turn.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/capitalize-ai/chat-widget/internal/filecache"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
)

// Placeholders substituted in prompt files.
const (
	DemoLinkPlaceholder  = tenant.DemoLinkPlaceholder
	BrandNamePlaceholder = "{{BRAND_NAME}}"
)

const (
	coreFile     = "core.txt"
	agencyFile   = "agency_sales.txt"
	templateFile = "client_template.txt"
)

// Bundler reads prompt files from a directory through an mtime cache.
type Bundler struct {
	dir   string
	cache *filecache.Cache[string]
}

// NewBundler creates a bundler over dir.
func NewBundler(dir string) *Bundler {
	return &Bundler{
		dir:   dir,
		cache: filecache.New(filecache.Text),
	}
}

// Dir returns the prompt directory.
func (b *Bundler) Dir() string {
	return b.dir
}

// Bundle composes core.txt, the tenant's own file and agency_sales.txt,
// joined by a blank line, with placeholders substituted. Only core.txt is
// required; a missing core.txt is an error.
func (b *Bundler) Bundle(tenantID, demoLink, brandName string) (string, error) {
	core, err := b.cache.Get(b.path(coreFile))
	if err != nil {
		return "", fmt.Errorf("failed to read core prompt: %w", err)
	}
	parts := []string{core}

	if tenantID != tenant.DefaultID {
		text, ok, err := b.optional(tenantID + ".txt")
		if err != nil {
			return "", err
		}
		if ok {
			parts = append(parts, text)
		}
	}

	text, ok, err := b.optional(agencyFile)
	if err != nil {
		return "", err
	}
	if ok {
		parts = append(parts, text)
	}

	return Render(strings.Join(parts, "\n\n"), demoLink, brandName), nil
}

// EnsureTenantPrompt writes <id>.txt from client_template.txt unless the file
// already exists. An existing file is never overwritten.
func (b *Bundler) EnsureTenantPrompt(id, brandName, demoLink string) error {
	target := b.path(id + ".txt")
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	tmpl, err := b.cache.Get(b.path(templateFile))
	if err != nil {
		return fmt.Errorf("failed to read prompt template: %w", err)
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create prompt dir: %w", err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create tenant prompt: %w", err)
	}

	_, werr := f.WriteString(Render(tmpl, demoLink, brandName) + "\n")
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to write tenant prompt: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close tenant prompt: %w", cerr)
	}
	return nil
}

// Render substitutes the demo link and brand name and trims the result.
func Render(text, demoLink, brandName string) string {
	r := strings.NewReplacer(DemoLinkPlaceholder, demoLink, BrandNamePlaceholder, brandName)
	return strings.TrimSpace(r.Replace(text))
}

func (b *Bundler) optional(name string) (string, bool, error) {
	text, err := b.cache.Get(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read prompt %s: %w", name, err)
	}
	return text, true, nil
}

func (b *Bundler) path(name string) string {
	return filepath.Join(b.dir, filepath.Base(name))
}
