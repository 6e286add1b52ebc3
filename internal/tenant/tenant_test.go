package tenant

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
  "default": {
    "brand": {"name": "Acme Widget", "logoText": "AW"},
    "links": {"demo": "{{DEMO_LINK}}"},
    "theme": {"accentA": "#111111", "accentB": "#22d3ee"},
    "copy": {"greeting": "Hi there"},
    "allowedDomains": [],
    "widgetKey": ""
  },
  "alpha": {
    "brand": {"name": "Alpha Co"},
    "theme": {"accentB": "#ff0000"},
    "allowedDomains": ["example.com"],
    "widgetKey": "abc",
    "webhookUrl": "https://hooks.example.com/x",
    "leadEmailTo": "sales@alpha.test"
  }
}`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clients.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	return NewStore(path, "https://cal.example/demo")
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]any
		override map[string]any
		want     map[string]any
	}{
		{
			name:     "nested keys combine",
			base:     map[string]any{"a": map[string]any{"x": 1}},
			override: map[string]any{"a": map[string]any{"y": 2}},
			want:     map[string]any{"a": map[string]any{"x": 1, "y": 2}},
		},
		{
			name:     "override wins",
			base:     map[string]any{"a": map[string]any{"x": 1}},
			override: map[string]any{"a": map[string]any{"x": 2}},
			want:     map[string]any{"a": map[string]any{"x": 2}},
		},
		{
			name:     "scalar replaces map",
			base:     map[string]any{"a": map[string]any{"x": 1}},
			override: map[string]any{"a": 5},
			want:     map[string]any{"a": 5},
		},
		{
			name:     "lists replace wholesale",
			base:     map[string]any{"a": []any{"x", "y"}},
			override: map[string]any{"a": []any{"z"}},
			want:     map[string]any{"a": []any{"z"}},
		},
		{
			name:     "nil override",
			base:     map[string]any{"a": 1},
			override: nil,
			want:     map[string]any{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.base, tt.override))
		})
	}
}

func TestMergeDoesNotAlias(t *testing.T) {
	base := map[string]any{"a": map[string]any{"x": 1}, "l": []any{"one"}}
	override := map[string]any{"b": map[string]any{"y": 2}}

	out := Merge(base, override)
	out["a"].(map[string]any)["x"] = 99
	out["b"].(map[string]any)["y"] = 99
	out["l"].([]any)[0] = "changed"

	assert.Equal(t, 1, base["a"].(map[string]any)["x"])
	assert.Equal(t, 2, override["b"].(map[string]any)["y"])
	assert.Equal(t, "one", base["l"].([]any)[0])
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)

	t.Run("unknown id gets default values", func(t *testing.T) {
		got, err := s.Resolve("nobody")
		require.NoError(t, err)
		def, err := s.Resolve(DefaultID)
		require.NoError(t, err)
		assert.Equal(t, def, got)
		assert.Equal(t, "Acme Widget", got.BrandName())
	})

	t.Run("tenant overrides merge over default", func(t *testing.T) {
		got, err := s.Resolve("alpha")
		require.NoError(t, err)
		assert.Equal(t, "Alpha Co", got.BrandName())
		assert.Equal(t, "AW", got.LogoText())
		assert.Equal(t, "#ff0000", got.Accent())
		assert.Equal(t, "#111111", got.Theme()["accentA"])
		assert.Equal(t, []string{"example.com"}, got.AllowedDomains())
		assert.Equal(t, "abc", got.WidgetKey())
	})

	t.Run("demo placeholder replaced", func(t *testing.T) {
		got, err := s.Resolve("alpha")
		require.NoError(t, err)
		assert.Equal(t, "https://cal.example/demo", got.DemoLink())
	})

	t.Run("resolve result is private", func(t *testing.T) {
		got, err := s.Resolve("alpha")
		require.NoError(t, err)
		got.Theme()["accentB"] = "mutated"

		again, err := s.Resolve("alpha")
		require.NoError(t, err)
		assert.Equal(t, "#ff0000", again.Accent())
	})
}

func TestResolveMissingStore(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "clients.json"), "")
	_, err := s.Resolve("alpha")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPublicStripsSecrets(t *testing.T) {
	s := newTestStore(t)
	cfg, err := s.Resolve("alpha")
	require.NoError(t, err)

	pub := cfg.Public()
	for _, k := range []string{FieldWidgetKey, FieldAllowedDomains, FieldWebhookURL, FieldLeadEmailTo} {
		assert.NotContains(t, pub, k)
	}
	assert.Contains(t, pub, FieldBrand)
	assert.Equal(t, "abc", cfg.WidgetKey(), "original config untouched")
}

func TestHostAllowed(t *testing.T) {
	cfg := Config{FieldAllowedDomains: []any{"example.com"}}

	tests := []struct {
		referer string
		want    bool
	}{
		{"https://example.com/pricing", true},
		{"https://app.example.com/", true},
		{"http://APP.Example.com:8080/x", true},
		{"https://evilexample.com/", false},
		{"https://example.com.evil.io/", false},
		{"", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.referer, func(t *testing.T) {
			assert.Equal(t, tt.want, HostAllowed(cfg, tt.referer))
		})
	}

	t.Run("no domains allows all", func(t *testing.T) {
		assert.True(t, HostAllowed(Config{}, ""))
		assert.True(t, HostAllowed(Config{FieldAllowedDomains: []any{}}, "https://anywhere.io"))
	})

	t.Run("entries with scheme", func(t *testing.T) {
		c := Config{FieldAllowedDomains: []any{"https://shop.example.org/"}}
		assert.True(t, HostAllowed(c, "https://shop.example.org/cart"))
		assert.False(t, HostAllowed(c, "https://example.org/"))
	})
}

func TestKeyValid(t *testing.T) {
	cfg := Config{FieldWidgetKey: "abc"}
	assert.False(t, KeyValid(cfg, ""))
	assert.False(t, KeyValid(cfg, "abd"))
	assert.False(t, KeyValid(cfg, "abcd"))
	assert.True(t, KeyValid(cfg, "abc"))
	assert.True(t, KeyValid(Config{}, ""))
	assert.True(t, KeyValid(Config{}, "anything"))
}

func TestFrameAncestors(t *testing.T) {
	assert.Equal(t, "'self'", FrameAncestors(Config{}))
	assert.Equal(t,
		"'self' https://example.com http://example.com https://shop.test",
		FrameAncestors(Config{FieldAllowedDomains: []any{"example.com", "https://shop.test"}}),
	)
}

func TestParseID(t *testing.T) {
	assert.Equal(t, DefaultID, ParseID(""))
	assert.Equal(t, DefaultID, ParseID("   "))
	assert.Equal(t, DefaultID, ParseID("../etc/passwd"))
	assert.Equal(t, DefaultID, ParseID("this-id-is-way-too-long-to-be-accepted-by-anyone"))
	assert.Equal(t, "a", ParseID("a"))
	assert.Equal(t, "acme_co-1", ParseID(" acme_co-1 "))
}

func TestValidateNewID(t *testing.T) {
	id, err := ValidateNewID(" acme ")
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	for _, bad := range []string{"", "a", "default", "agency", "has space", "dots.not.ok"} {
		_, err := ValidateNewID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestCreateUpdateRotate(t *testing.T) {
	s := newTestStore(t)

	key, err := s.Create(NewTenant{
		ID:             "beta",
		BrandName:      "Beta",
		AllowedDomains: []string{"beta.io"},
		LeadEmailTo:    "owner@beta.io",
	})
	require.NoError(t, err)
	assert.Len(t, key, 32)

	cfg, err := s.Resolve("beta")
	require.NoError(t, err)
	assert.Equal(t, key, cfg.WidgetKey())
	assert.Equal(t, []string{"beta.io"}, cfg.AllowedDomains())
	assert.Equal(t, "owner@beta.io", cfg.LeadEmailTo())

	_, err = s.Create(NewTenant{ID: "beta"})
	assert.ErrorIs(t, err, ErrTenantExists)

	domains := []string{"beta.io", "beta.dev"}
	name := "Beta Labs"
	require.NoError(t, s.Update("beta", Patch{AllowedDomains: &domains, BrandName: &name}))
	cfg, err = s.Resolve("beta")
	require.NoError(t, err)
	assert.Equal(t, domains, cfg.AllowedDomains())
	assert.Equal(t, "Beta Labs", cfg.BrandName())

	assert.ErrorIs(t, s.Update("ghost", Patch{BrandName: &name}), ErrTenantNotFound)

	newKey, err := s.RotateKey("beta")
	require.NoError(t, err)
	assert.NotEqual(t, key, newKey)
	cfg, err = s.Resolve("beta")
	require.NoError(t, err)
	assert.False(t, KeyValid(cfg, key))
	assert.True(t, KeyValid(cfg, newKey))

	_, err = s.RotateKey("ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestWritesKeepFileValid(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(NewTenant{ID: "gamma"})
	require.NoError(t, err)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var all map[string]any
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Contains(t, all, "alpha")
	assert.Contains(t, all, "gamma")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(NewTenant{ID: "zeta"})
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{ClientID: "alpha", Name: "Alpha Co"},
		{ClientID: "zeta", Name: "zeta"},
	}, list)
}

func TestEnsureDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	s := NewStore(path, "")

	require.NoError(t, s.EnsureDefault(map[string]any{"brand": map[string]any{"name": "Seed"}}))
	cfg, err := s.Resolve(DefaultID)
	require.NoError(t, err)
	assert.Equal(t, "Seed", cfg.BrandName())

	require.NoError(t, s.EnsureDefault(map[string]any{"brand": map[string]any{"name": "Other"}}))
	cfg, err = s.Resolve(DefaultID)
	require.NoError(t, err)
	assert.Equal(t, "Seed", cfg.BrandName())
}

func TestConcurrentCreateSameID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	// Two stores on one file behave like two processes.
	stores := []*Store{NewStore(path, ""), NewStore(path, "")}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = stores[i%2].Create(NewTenant{ID: "race"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrTenantExists)
	}
	assert.Equal(t, 1, ok)
}
