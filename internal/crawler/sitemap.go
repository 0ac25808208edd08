package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SitemapIndex is the <sitemapindex> document pointing at child sitemaps.
type SitemapIndex struct {
	XMLName  xml.Name  `xml:"sitemapindex"`
	Sitemaps []Sitemap `xml:"sitemap"`
}

type Sitemap struct {
	Loc string `xml:"loc"`
}

// URLSet is the <urlset> document listing leaf page URLs.
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []URL    `xml:"url"`
}

type URL struct {
	Loc string `xml:"loc"`
}

// ParseSitemapTree resolves a sitemap (and any nested sitemap indexes) into
// the flat union of leaf URLs. Visited sitemap URLs are tracked so cyclic or
// duplicate index references terminate. A fetch or parse failure on a single
// node is logged and that subtree contributes nothing; the walk never aborts
// as a whole.
func (c *Crawler) ParseSitemapTree(ctx context.Context, rootSitemapURL string) []string {
	visited := make(map[string]bool)
	seen := make(map[string]bool)
	var urls []string

	c.walkSitemap(ctx, rootSitemapURL, visited, seen, &urls)

	log.Info().
		Str("sitemap", rootSitemapURL).
		Int("url_count", len(urls)).
		Int("sitemaps_visited", len(visited)).
		Msg("Finished sitemap tree walk")

	return urls
}

func (c *Crawler) walkSitemap(ctx context.Context, sitemapURL string, visited, seen map[string]bool, urls *[]string) {
	if visited[sitemapURL] {
		return
	}
	visited[sitemapURL] = true

	body, err := c.fetchSitemap(ctx, sitemapURL)
	if err != nil {
		log.Warn().Err(err).Str("sitemap", sitemapURL).Msg("Failed to fetch sitemap, skipping subtree")
		return
	}

	var index SitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, child := range index.Sitemaps {
			childURL := strings.TrimSpace(child.Loc)
			if childURL == "" {
				continue
			}
			c.walkSitemap(ctx, childURL, visited, seen, urls)
		}
		return
	}

	var urlSet URLSet
	if err := xml.Unmarshal(body, &urlSet); err != nil {
		log.Warn().Err(err).Str("sitemap", sitemapURL).Msg("Failed to parse sitemap XML, skipping")
		return
	}

	// Leaf URLs stay exactly as the sitemap published them. Filtering matches
	// against the raw string (query strings included); normalisation happens
	// later, when results are joined and merged.
	count := 0
	for _, entry := range urlSet.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		*urls = append(*urls, loc)
		count++
	}

	log.Debug().
		Str("sitemap", sitemapURL).
		Int("url_count", count).
		Msg("Extracted URLs from sitemap")
}

func (c *Crawler) fetchSitemap(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	client := &http.Client{Timeout: c.sitemapTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch sitemap: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *Crawler) sitemapTimeout() time.Duration {
	if c.config.SitemapTimeout > 0 {
		return c.config.SitemapTimeout
	}
	return 30 * time.Second
}

// FilterURLs drops any URL containing one of the exclude patterns. Input
// order is preserved.
func FilterURLs(urls []string, excludePatterns []string) []string {
	if len(excludePatterns) == 0 {
		return urls
	}

	filtered := make([]string, 0, len(urls))
	for _, u := range urls {
		if containsAny(u, excludePatterns) {
			continue
		}
		filtered = append(filtered, u)
	}

	return filtered
}

func containsAny(s string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
