package links

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/tweetarchive/tweets/internal/urlcache"
)

const trackingPrefix = "utm_"

// legacyParam is the old video-site share marker
const legacyParam = "feature"

const canonicalVideoHost = "www.youtube.com"

var mobileVideoHosts = toSet("m.youtube.com", "youtube.com", "mobile.youtube.com")

// NormalizeStats reports what a normalization pass changed
type NormalizeStats struct {
	HTTPSHosts int
	Rewritten  int
}

// HTTPSHosts returns the hosts seen with an https target anywhere in entries
func HTTPSHosts(entries map[string]urlcache.Value) map[string]struct{} {
	hosts := map[string]struct{}{}
	for _, v := range entries {
		target, ok := v.URL()
		if !ok {
			continue
		}
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			continue
		}
		if strings.EqualFold(u.Scheme, "https") {
			hosts[strings.ToLower(u.Hostname())] = struct{}{}
		}
	}
	return hosts
}

// Normalize rewrites every resolved entry of c with NormalizeURL. It runs
// offline over the whole cache.
func Normalize(c *urlcache.Cache) NormalizeStats {
	entries := c.Snapshot()
	httpsHosts := HTTPSHosts(entries)
	stats := NormalizeStats{HTTPSHosts: len(httpsHosts)}

	for key, v := range entries {
		target, ok := v.URL()
		if !ok {
			continue
		}
		if n := NormalizeURL(target, httpsHosts); n != target {
			c.Set(key, urlcache.Resolved(n))
			stats.Rewritten++
		}
	}
	return stats
}

// NormalizeURL upgrades http to https for hosts known to serve https, drops
// tracking parameters and removes default ports. When parameters were
// dropped the remaining query is re-encoded sorted by name. Unparsable input
// is returned unchanged.
func NormalizeURL(raw string, httpsHosts map[string]struct{}) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return raw
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()

	if strings.EqualFold(u.Scheme, "http") {
		if _, ok := httpsHosts[host]; ok {
			u.Scheme = "https"
			if port == "80" {
				port = ""
			}
		}
	}

	hadLegacy := false
	if u.RawQuery != "" {
		q, err := url.ParseQuery(u.RawQuery)
		if err == nil {
			stripped := false
			for name := range q {
				lower := strings.ToLower(name)
				if lower == legacyParam {
					hadLegacy = true
				}
				if lower == legacyParam || strings.HasPrefix(lower, trackingPrefix) {
					delete(q, name)
					stripped = true
				}
			}
			if stripped {
				u.RawQuery = encodeSorted(q)
				u.ForceQuery = false
			}
		}
	}

	if hadLegacy {
		if _, ok := mobileVideoHosts[host]; ok {
			host = canonicalVideoHost
		}
	}

	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	return u.String()
}

func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
