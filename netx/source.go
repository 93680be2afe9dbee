package netx

import (
	"net/url"
	"strings"
)

// AssetSource is one image mirror, described by a URL template containing a
// {file} placeholder, e.g. "https://cdn.example.org/avg/characters/{file}.png".
type AssetSource struct {
	Name     string
	Template string
}

// URL renders the source URL for a serialized variant id. '#' is escaped so it
// is not read as a fragment.
func (s AssetSource) URL(file string) string {
	return strings.ReplaceAll(s.Template, "{file}", url.PathEscape(file))
}

// ParseAssetSources parses templates in priority order. Names default to the host.
func ParseAssetSources(templates []string) []AssetSource {
	out := make([]AssetSource, 0, len(templates))
	for _, t := range templates {
		t = strings.TrimSpace(t)
		if t == "" || !strings.Contains(t, "{file}") {
			continue
		}
		name := t
		if u, err := url.Parse(strings.ReplaceAll(t, "{file}", "x")); err == nil && u.Host != "" {
			name = u.Host
		}
		out = append(out, AssetSource{Name: name, Template: t})
	}
	return out
}
