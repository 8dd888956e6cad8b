package resolver

import "regexp"

// DevelopmentRegistryURL is used when no registry URL is configured and the
// host runs in development mode
const DevelopmentRegistryURL = "http://localhost:4000/registry"

var registryURLPattern = regexp.MustCompile(`(?i)^https?://`)

// ResolveRegistryURL picks the registry URL. An explicit value wins, then
// the development default, otherwise the registry is disabled ("").
func ResolveRegistryURL(explicit string, development bool) string {
	if explicit != "" {
		return explicit
	}
	if development {
		return DevelopmentRegistryURL
	}
	return ""
}

// RegistryEnabled reports whether url can be used to reach a registry
func RegistryEnabled(url string) bool {
	return registryURLPattern.MatchString(url)
}
