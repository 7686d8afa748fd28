package enrichment

import (
	"net/url"
	"strings"

	"ingest-service/internal/models"
	"ingest-service/internal/util"
)

const (
	ReferrerDirect   = "direct"
	ReferrerSearch   = "organic_search"
	ReferrerSocial   = "social"
	ReferrerEmail    = "email"
	ReferrerReferral = "referral"
)

const maxUTMLength = 255

var (
	searchHosts = []string{"google", "bing", "yahoo", "duckduckgo", "baidu", "yandex", "ecosia"}
	socialHosts = []string{
		"facebook", "instagram", "twitter", "x.com", "linkedin", "tiktok", "youtube",
		"pinterest", "reddit", "snapchat", "whatsapp", "telegram", "discord",
	}
	emailHosts = []string{"mail", "outlook", "gmail", "protonmail", "zoho"}
)

// ClassifyReferrer buckets a referrer URL by the kind of site it came from.
func ClassifyReferrer(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ReferrerDirect
	}
	host := NormalizeHost(referrer)

	for _, group := range []struct {
		hosts    []string
		category string
	}{
		{searchHosts, ReferrerSearch},
		{socialHosts, ReferrerSocial},
		{emailHosts, ReferrerEmail},
	} {
		for _, h := range group.hosts {
			if strings.Contains(host, h) {
				return group.category
			}
		}
	}
	return ReferrerReferral
}

// NormalizeHost returns the lower-cased host of rawURL without a leading
// "www.", or "" when rawURL has no host.
func NormalizeHost(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// ExtractUTM reads the utm_* query parameters of a page URL.
func ExtractUTM(pageURL string) models.UTM {
	u, err := url.Parse(pageURL)
	if err != nil {
		return models.UTM{}
	}
	q := u.Query()
	return models.UTM{
		Source:   util.Truncate(q.Get("utm_source"), maxUTMLength),
		Medium:   util.Truncate(q.Get("utm_medium"), maxUTMLength),
		Campaign: util.Truncate(q.Get("utm_campaign"), maxUTMLength),
		Content:  util.Truncate(q.Get("utm_content"), maxUTMLength),
		Term:     util.Truncate(q.Get("utm_term"), maxUTMLength),
	}
}
