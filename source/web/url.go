// Package web fetches external research sources and converts them to
// markdown. URL validation blocks private and local targets, including after
// DNS resolution, so mission files cannot point the researcher at internal
// services.
package web

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Reserved ranges not covered by the net.IP helpers.
var (
	cgnat    *net.IPNet // 100.64.0.0/10
	v6unique *net.IPNet // fc00::/7
	v6link   *net.IPNet // fe80::/10
)

func init() {
	var err error

	_, cgnat, err = net.ParseCIDR("100.64.0.0/10")
	if err != nil {
		panic("invalid CGNAT CIDR: " + err.Error())
	}
	_, v6unique, err = net.ParseCIDR("fc00::/7")
	if err != nil {
		panic("invalid IPv6 unique local CIDR: " + err.Error())
	}
	_, v6link, err = net.ParseCIDR("fe80::/10")
	if err != nil {
		panic("invalid IPv6 link-local CIDR: " + err.Error())
	}
}

// ValidateURL rejects anything but public HTTPS URLs.
func ValidateURL(rawURL string) error {
	return validateURL(rawURL, false)
}

func validateURL(rawURL string, allowPrivate bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}
	if allowPrivate {
		if parsed.Scheme != "https" && parsed.Scheme != "http" {
			return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
		}
		return nil
	}

	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("local domain URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("private IP addresses are not allowed")
	}
	return nil
}

// IsPrivateIP reports whether ip is loopback, private, link-local or in one
// of the reserved ranges. IPv4-mapped IPv6 addresses are unwrapped first.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	return cgnat.Contains(ip) || v6unique.Contains(ip) || v6link.Contains(ip)
}

// Domain returns the host name of rawURL, or "unknown" when it cannot be
// parsed.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	return parsed.Hostname()
}

// Source kinds reported by Classify.
const (
	KindAcademic   = "academic"
	KindGovernment = "government"
	KindNews       = "news"
	KindJournal    = "journal"
	KindTechnical  = "technical"
	KindWeb        = "web"
)

// Publisher domains by kind. A host matches a domain when it equals it or
// is a subdomain of it.
var (
	journalDomains = []string{
		"pubmed.ncbi.nlm.nih.gov", "ncbi.nlm.nih.gov", "scholar.google.com", "arxiv.org",
		"jstor.org", "sciencedirect.com", "springer.com", "nature.com", "wiley.com",
		"semanticscholar.org", "ssrn.com", "plos.org",
	}
	newsDomains = []string{
		"reuters.com", "bbc.com", "bbc.co.uk", "nytimes.com", "washingtonpost.com",
		"apnews.com", "bloomberg.com", "ft.com", "theguardian.com", "cnn.com", "wsj.com",
	}
	technicalDomains = []string{
		"github.com", "gitlab.com", "stackoverflow.com", "stackexchange.com",
		"medium.com", "dev.to", "go.dev",
	}
)

// Classify guesses the kind of publisher behind a URL from its host name.
// Paths and query strings are not considered. Known journal hosts win over
// the academic and government TLD rules.
func Classify(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return KindWeb
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return KindWeb
	}
	labels := strings.Split(host, ".")

	switch {
	case matchesDomain(host, journalDomains...) || hasLabel(labels, "journal", "journals", "scholar", "pubmed"):
		return KindJournal
	case hasLabel(labels, "edu") || (len(labels) > 2 && labels[len(labels)-2] == "ac"):
		return KindAcademic
	case hasLabel(labels, "gov", "mil"):
		return KindGovernment
	case matchesDomain(host, newsDomains...) || hasLabel(labels, "news"):
		return KindNews
	case matchesDomain(host, technicalDomains...):
		return KindTechnical
	}
	return KindWeb
}

func matchesDomain(host string, domains ...string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hasLabel(labels []string, want ...string) bool {
	for _, l := range labels {
		for _, w := range want {
			if l == w {
				return true
			}
		}
	}
	return false
}
