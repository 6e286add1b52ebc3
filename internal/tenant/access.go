package tenant

import (
	"crypto/subtle"
	"net/url"
	"strings"
)

// These checks are advisory. Anyone who controls a page on an allowed domain,
// or who has read the widget key out of such a page, passes them. They keep
// casual copy-paste embedding off foreign sites; they are not a trust boundary.

// HostAllowed reports whether a page at referer may load the widget script.
// A tenant without allowed domains accepts every host.
func HostAllowed(cfg Config, referer string) bool {
	allowed := cfg.AllowedDomains()
	if len(allowed) == 0 {
		return true
	}
	host := hostOf(referer)
	if host == "" {
		return false
	}
	for _, a := range allowed {
		a = strings.ToLower(domainOf(a))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// KeyValid reports whether provided matches the tenant's widget key.
// A tenant without a key accepts every caller.
func KeyValid(cfg Config, provided string) bool {
	required := cfg.WidgetKey()
	if required == "" {
		return true
	}
	provided = strings.TrimSpace(provided)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(required)) == 1
}

// FrameAncestors returns the CSP frame-ancestors source list for the embed page.
func FrameAncestors(cfg Config) string {
	allowed := cfg.AllowedDomains()
	if len(allowed) == 0 {
		return "'self'"
	}
	origins := []string{"'self'"}
	for _, d := range allowed {
		if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
			origins = append(origins, d)
			continue
		}
		origins = append(origins, "https://"+d, "http://"+d)
	}
	return strings.Join(origins, " ")
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// domainOf strips an optional scheme, path and port from an allow-list entry.
func domainOf(entry string) string {
	if strings.Contains(entry, "://") {
		return hostOf(entry)
	}
	if i := strings.IndexAny(entry, "/:"); i >= 0 {
		entry = entry[:i]
	}
	return entry
}
