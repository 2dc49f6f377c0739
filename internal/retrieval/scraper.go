// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/pdiddy/terafinder/internal/httputil"
	"github.com/pdiddy/terafinder/pkg/types"
)

const (
	maxPageBytes     = 2 << 20
	maxScrapeExcerpt = 4 * 1024
)

// ErrPrivateHost is returned for URLs whose host is a loopback, private,
// link-local, or unspecified address.
var ErrPrivateHost = errors.New("refusing to fetch non-public address")

// ScraperAdapter fetches pages whose URLs appear in the query text and
// turns each into a document item. A query without URLs yields an empty
// set, not an error.
type ScraperAdapter struct {
	Client    *http.Client
	UserAgent string

	// MaxURLs caps how many URLs are fetched per query (default 5).
	MaxURLs int

	// AllowPrivateHosts permits loopback, private, and link-local targets.
	AllowPrivateHosts bool
}

// Provider returns the scraped tag.
func (a *ScraperAdapter) Provider() types.Provider { return types.ProviderScraped }

// Name returns the adapter identifier.
func (a *ScraperAdapter) Name() string { return "scraper" }

var reURL = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

// extractURLs returns the distinct http(s) URLs in text, in order, with
// trailing sentence punctuation removed.
func extractURLs(text string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range reURL.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == max {
			break
		}
	}
	return out
}

// Retrieve fetches each URL in order. Failed pages are skipped; the call
// fails only when every page failed.
func (a *ScraperAdapter) Retrieve(ctx context.Context, query types.Query) (types.EvidenceSet, error) {
	set := types.EvidenceSet{Items: []types.EvidenceItem{}}
	urls := extractURLs(query.Content, maxOr(a.MaxURLs, 5))
	if len(urls) == 0 {
		return set, nil
	}

	var errs []error
	for _, u := range urls {
		item, err := a.fetch(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		set.Items = append(set.Items, item)
	}
	if len(set.Items) == 0 {
		return set, errors.Join(errs...)
	}
	return set, nil
}

func (a *ScraperAdapter) fetch(ctx context.Context, pageURL string) (types.EvidenceItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return types.EvidenceItem{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)

	if !a.AllowPrivateHosts {
		if err := checkHost(ctx, req.URL.Hostname()); err != nil {
			return types.EvidenceItem{}, err
		}
	}

	resp, err := httputil.DoWithRetry(ctx, a.client(), req, 1)
	if err != nil {
		return types.EvidenceItem{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.EvidenceItem{}, fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return types.EvidenceItem{}, fmt.Errorf("reading body: %w", err)
	}

	html := string(body)
	title := pageTitle(html)
	if title == "" {
		title = pageURL
	}
	text := stripHTML(html)

	return types.EvidenceItem{
		ID:       "scraped_" + stableID(pageURL),
		Provider: types.ProviderScraped,
		Kind:     types.KindDocument,
		URL:      pageURL,
		Title:    title,
		Excerpt:  truncate(text, maxScrapeExcerpt),
		Metadata: map[string]any{
			"content_type": resp.Header.Get("Content-Type"),
			"length":       len(text),
		},
	}, nil
}

// client returns the HTTP client for fetches. Unless private hosts are
// allowed, redirects are checked like the original URL.
func (a *ScraperAdapter) client() *http.Client {
	c := a.Client
	if c == nil {
		c = http.DefaultClient
	}
	if a.AllowPrivateHosts {
		return c
	}

	guarded := *c
	next := c.CheckRedirect
	guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if err := checkHost(req.Context(), req.URL.Hostname()); err != nil {
			return err
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	return &guarded
}

// NewScrapeClient returns a client whose dialer refuses non-public
// addresses, so a host that resolves differently at dial time is still
// rejected.
func NewScrapeClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, Control: guardDial}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func guardDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || blockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateHost, address)
	}
	return nil
}

// checkHost resolves host and fails when any of its addresses is blocked.
func checkHost(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateHost, host)
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", host, err)
	}
	for _, addr := range addrs {
		if blockedIP(addr.IP) {
			return fmt.Errorf("%w: %s (%s)", ErrPrivateHost, host, addr.IP)
		}
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast()
}

var (
	reTitle      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	reScript     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reNav        = regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`)
	reHeader     = regexp.MustCompile(`(?is)<header[^>]*>.*?</header>`)
	reFooter     = regexp.MustCompile(`(?is)<footer[^>]*>.*?</footer>`)
	reTags       = regexp.MustCompile(`<[^>]+>`)
	reWhitespace = regexp.MustCompile(`[ \t]+`)
)

var entities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func pageTitle(html string) string {
	m := reTitle.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return collapseSpace(entities.Replace(m[1]))
}

// stripHTML removes scripts, styles, and page chrome, then all tags, and
// collapses the remaining text into non-blank lines.
func stripHTML(html string) string {
	s := reScript.ReplaceAllString(html, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reNav.ReplaceAllString(s, "")
	s = reHeader.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reTags.ReplaceAllString(s, " ")
	s = entities.Replace(s)
	s = reWhitespace.ReplaceAllString(s, " ")

	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}
