package version

// version is set at build time via -ldflags "-X github.com/civicmesh/presence/pkg/version.version=..."
var version = "dev"

// Get returns the current version
func Get() string {
	return version
}
