// ABOUTME: Version information for exocaster
// ABOUTME: Single source of truth for the version and product strings
package version

const (
	// Product is the short product name used in logs and banners.
	Product = "exocaster"

	// Version is the exocaster release version.
	Version = "0.3.0"
)
