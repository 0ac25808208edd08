package crawler

import (
	"time"
)

// Config holds the configuration for a crawler instance
type Config struct {
	DefaultTimeout  time.Duration // Default timeout for requests
	MaxConcurrency  int           // Maximum number of concurrent requests
	RateLimit       int           // Determines request delay range: base=1s/RateLimit, range=base to 1s
	UserAgent       string        // User agent string for requests
	SitemapTimeout  time.Duration // Timeout for a single sitemap fetch
	ExcludePatterns []string      // Substring patterns removed from the URL universe
}

// DefaultExcludePatterns matches URLs that never belong in the indexing
// universe: pagination queries, tag and author archives.
var DefaultExcludePatterns = []string{"?page=", "/tag/", "/author/"}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout:  30 * time.Second,
		MaxConcurrency:  10,
		RateLimit:       5,
		UserAgent:       "SEOLens/1.0 (+https://seolens.dev/bot)",
		SitemapTimeout:  30 * time.Second,
		ExcludePatterns: DefaultExcludePatterns,
	}
}
