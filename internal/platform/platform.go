// Package platform defines the closed set of supported content platforms and
// the pure routing helpers that map URLs onto them.
package platform

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform identifies one supported content source. It doubles as the routing
// key for connector dispatch and the cache key for connector instances.
type Platform string

// Supported platforms. Generic is the catch-all for URLs no identifier claims.
const (
	Xiaohongshu Platform = "xiaohongshu"
	Wechat      Platform = "wechat"
	Generic     Platform = "generic"
)

// identifierTable lists, in priority order, the URL substrings that claim a
// URL for a platform. Short-link hosts belong here too so shared links route
// to the right connector before redirect resolution.
var identifierTable = []struct {
	platform Platform
	markers  []string
}{
	{Xiaohongshu, []string{"xiaohongshu.com", "xhslink.com"}},
	{Wechat, []string{"mp.weixin.qq.com"}},
}

// Detect resolves the platform responsible for rawURL. The first matching
// identifier wins; URLs matching nothing resolve to Generic. Detect is a pure
// function: the same URL always yields the same platform.
func Detect(rawURL string) Platform {
	lowered := strings.ToLower(rawURL)
	for _, entry := range identifierTable {
		for _, marker := range entry.markers {
			if strings.Contains(lowered, marker) {
				return entry.platform
			}
		}
	}
	return Generic
}

// GroupByPlatform partitions urls by detected platform, preserving the input
// order within each group. The union of all groups is exactly the input.
func GroupByPlatform(urls []string) map[Platform][]string {
	groups := make(map[Platform][]string)
	for _, u := range urls {
		p := Detect(u)
		groups[p] = append(groups[p], u)
	}
	return groups
}

// All returns every supported platform in priority order, Generic last.
func All() []Platform {
	out := make([]Platform, 0, len(identifierTable)+1)
	for _, entry := range identifierTable {
		out = append(out, entry.platform)
	}
	return append(out, Generic)
}

// Parse validates a caller-supplied platform name.
func Parse(s string) (Platform, error) {
	candidate := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range All() {
		if candidate == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Host extracts the lowercase hostname of rawURL, or "unknown" when the URL
// does not parse. Used for metric labels and pacing keys.
func Host(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// NormalizeURL standardizes a URL so snapshot and cache keys do not split on
// cosmetic differences. It lowercases scheme/host, strips default ports and
// fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}
