package tenant

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/capitalize-ai/chat-widget/internal/filecache"
	"github.com/capitalize-ai/chat-widget/pkg/metrics"
)

var (
	// ErrTenantExists is returned when creating an id that is already stored.
	ErrTenantExists = errors.New("client already exists")
	// ErrTenantNotFound is returned when mutating an id that is not stored.
	ErrTenantNotFound = errors.New("client not found")
)

// Summary is one row of the tenant listing.
type Summary struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

// NewTenant describes a tenant to create.
type NewTenant struct {
	ID             string
	BrandName      string
	LogoText       string
	DemoLink       string
	AllowedDomains []string
	Theme          map[string]any
	Copy           map[string]any
	WebhookURL     string
	LeadEmailTo    string
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	AllowedDomains *[]string
	DemoLink       *string
	BrandName      *string
	LogoText       *string
	Theme          map[string]any
	WebhookURL     *string
	LeadEmailTo    *string
}

// Store reads and writes the tenant configuration file.
//
// Reads go through an mtime cache without locking; a reader may see the
// previous version until the rename lands. Writes are serialized by an
// in-process mutex plus an exclusive file lock so that several server
// processes sharing the file never interleave read-modify-write cycles.
type Store struct {
	path     string
	demoLink string
	cache    *filecache.Cache[map[string]any]

	mu   sync.Mutex
	lock *flock.Flock
}

// NewStore creates a store backed by the JSON file at path. demoLink replaces
// the {{DEMO_LINK}} placeholder during resolution.
func NewStore(path, demoLink string) *Store {
	return &Store{
		path:     path,
		demoLink: demoLink,
		cache:    filecache.New(parseStore),
		lock:     flock.New(filepath.Join(filepath.Dir(path), ".clients.lock")),
	}
}

func parseStore(data []byte) (map[string]any, error) {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse tenant store: %w", err)
	}
	if all == nil {
		all = map[string]any{}
	}
	return all, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the whole parsed store. The returned map is shared with the
// cache and must not be modified.
func (s *Store) Load() (map[string]any, error) {
	return s.cache.Get(s.path)
}

// Resolve returns the effective configuration for id: the default record
// with the tenant's overrides merged on top. Unknown ids resolve to the
// default record alone.
func (s *Store) Resolve(id string) (Config, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}

	base, _ := all[DefaultID].(map[string]any)
	override, _ := all[id].(map[string]any)
	cfg := Config(Merge(base, override))

	links, ok := cfg[FieldLinks].(map[string]any)
	if !ok {
		links = map[string]any{}
		cfg[FieldLinks] = links
	}
	demo, _ := links["demo"].(string)
	if demo == "" {
		demo = DemoLinkPlaceholder
	}
	links["demo"] = strings.ReplaceAll(demo, DemoLinkPlaceholder, s.demoLink)

	return cfg, nil
}

// List returns every tenant except the default record, sorted by id.
func (s *Store) List() ([]Summary, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(all))
	for id, raw := range all {
		if id == DefaultID {
			continue
		}
		rec, _ := raw.(map[string]any)
		name := Config(rec).BrandName()
		if name == "" {
			name = id
		}
		out = append(out, Summary{ClientID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// EnsureDefault writes a minimal store holding only the default record when
// the file does not exist yet.
func (s *Store) EnsureDefault(defaults map[string]any) error {
	return s.mutate("init", func(all map[string]any) error {
		if _, ok := all[DefaultID]; ok {
			return errUnchanged
		}
		all[DefaultID] = defaults
		return nil
	})
}

// Create stores a new tenant record with a freshly generated widget key and
// returns that key.
func (s *Store) Create(t NewTenant) (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}

	err = s.mutate("create", func(all map[string]any) error {
		if _, ok := all[t.ID]; ok {
			return ErrTenantExists
		}
		domains := t.AllowedDomains
		if domains == nil {
			domains = []string{}
		}
		theme := t.Theme
		if theme == nil {
			theme = map[string]any{}
		}
		cp := t.Copy
		if cp == nil {
			cp = map[string]any{}
		}
		all[t.ID] = map[string]any{
			FieldBrand:          map[string]any{"name": t.BrandName, "logoText": t.LogoText},
			FieldLinks:          map[string]any{"demo": t.DemoLink},
			FieldAllowedDomains: domains,
			FieldWidgetKey:      key,
			FieldTheme:          theme,
			FieldCopy:           cp,
			FieldWebhookURL:     t.WebhookURL,
			FieldLeadEmailTo:    t.LeadEmailTo,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Update applies a partial patch to an existing tenant.
func (s *Store) Update(id string, p Patch) error {
	return s.mutate("update", func(all map[string]any) error {
		rec, ok := all[id].(map[string]any)
		if !ok {
			return ErrTenantNotFound
		}

		if p.AllowedDomains != nil {
			rec[FieldAllowedDomains] = *p.AllowedDomains
		}
		if p.DemoLink != nil {
			links := nestedMap(rec, FieldLinks)
			links["demo"] = *p.DemoLink
		}
		if p.BrandName != nil || p.LogoText != nil {
			brand := nestedMap(rec, FieldBrand)
			if p.BrandName != nil {
				brand["name"] = *p.BrandName
			}
			if p.LogoText != nil {
				brand["logoText"] = *p.LogoText
			}
		}
		if p.Theme != nil {
			rec[FieldTheme] = p.Theme
		}
		if p.WebhookURL != nil {
			rec[FieldWebhookURL] = *p.WebhookURL
		}
		if p.LeadEmailTo != nil {
			rec[FieldLeadEmailTo] = *p.LeadEmailTo
		}
		return nil
	})
}

// RotateKey replaces the tenant's widget key. The old key stops working as
// soon as the write lands.
func (s *Store) RotateKey(id string) (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	err = s.mutate("rotate_key", func(all map[string]any) error {
		rec, ok := all[id].(map[string]any)
		if !ok {
			return ErrTenantNotFound
		}
		rec[FieldWidgetKey] = key
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

var errUnchanged = errors.New("unchanged")

// mutate runs fn on a freshly read copy of the store under the write lock and
// atomically replaces the file with the result.
func (s *Store) mutate(op string, fn func(all map[string]any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock tenant store: %w", err)
	}
	defer s.lock.Unlock()

	all, err := s.readFresh()
	if err != nil {
		return err
	}

	if err := fn(all); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}

	if err := writeAtomic(s.path, all); err != nil {
		return err
	}
	s.cache.Invalidate(s.path)
	metrics.TenantStoreWrites.WithLabelValues(op).Inc()
	return nil
}

func (s *Store) readFresh() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant store: %w", err)
	}
	return parseStore(data)
}

func writeAtomic(path string, all map[string]any) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tenant store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace tenant store: %w", err)
	}
	return nil
}

func nestedMap(rec map[string]any, key string) map[string]any {
	m, ok := rec[key].(map[string]any)
	if !ok {
		m = map[string]any{}
		rec[key] = m
	}
	return m
}

// GenerateKey returns a random URL-safe widget secret.
func GenerateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate widget key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
