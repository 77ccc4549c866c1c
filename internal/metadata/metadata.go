// Package metadata fetches a page and extracts its title, description,
// preview image, and favicon.
package metadata

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxBodySize caps how much of a page is read.
const MaxBodySize = 2 << 20

// Metadata describes a page.
type Metadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	FavIcon     string `json:"favIconUrl,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// Fetcher retrieves page metadata over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
	strip     *bluemonday.Policy
}

// NewFetcher creates a Fetcher. A nil client gets a 10 second timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{
		client:    client,
		userAgent: "echotab/1.0 (+metadata)",
		strip:     bluemonday.StrictPolicy(),
	}
}

// Fetch downloads rawURL and parses its head.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Metadata, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("fetch metadata: invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch metadata: %s returned %d", rawURL, resp.StatusCode)
	}

	// Redirects change the base for relative links.
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	md, err := f.Parse(io.LimitReader(resp.Body, MaxBodySize), base)
	if err != nil {
		return nil, err
	}
	md.URL = rawURL
	return md, nil
}

// Parse extracts metadata from an HTML document. Relative links resolve
// against base.
func (f *Fetcher) Parse(r io.Reader, base *url.URL) (*Metadata, error) {
	doc, err := xhtml.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var (
		md       Metadata
		title    string
		metaDesc string
		ogTitle  string
		ogDesc   string
		icon     string
	)

	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if title == "" && n.FirstChild != nil {
					title = n.FirstChild.Data
				}
			case atom.Meta:
				key := strings.ToLower(attr(n, "property"))
				if key == "" {
					key = strings.ToLower(attr(n, "name"))
				}
				content := attr(n, "content")
				switch key {
				case "og:title":
					ogTitle = content
				case "og:description":
					ogDesc = content
				case "description":
					metaDesc = content
				case "og:image", "twitter:image":
					if md.Image == "" {
						md.Image = content
					}
				case "og:site_name":
					md.SiteName = content
				}
			case atom.Link:
				rels := strings.Fields(strings.ToLower(attr(n, "rel")))
				for _, rel := range rels {
					if rel == "icon" && icon == "" {
						icon = attr(n, "href")
					}
				}
			case atom.Body:
				// Everything of interest lives in <head>.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	md.Title = f.clean(firstNonEmpty(ogTitle, title))
	md.Description = f.clean(firstNonEmpty(ogDesc, metaDesc))
	md.SiteName = f.clean(md.SiteName)
	md.Image = resolve(base, md.Image)
	if icon == "" && base != nil {
		icon = "/favicon.ico"
	}
	md.FavIcon = resolve(base, icon)
	return &md, nil
}

// clean strips markup and collapses whitespace.
func (f *Fetcher) clean(s string) string {
	s = html.UnescapeString(f.strip.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
