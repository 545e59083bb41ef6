package scenario

import (
	"path"
	"strings"
)

// AssetMount is the URL path segment the API serves scenario resources
// under. Directives and turn responses carry refs resolved against it.
const AssetMount = "assets"

// ResolveAsset maps a configuration-relative resource reference (for example
// "images/road.png") onto the served asset root. Empty refs stay empty ("no
// background"); refs that would escape the root resolve to empty as well.
func ResolveAsset(baseDir, ref string) string {
	if ref == "" {
		return ""
	}
	cleaned := path.Clean(strings.TrimPrefix(ref, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	if baseDir == "" {
		return cleaned
	}
	return path.Join(baseDir, cleaned)
}
