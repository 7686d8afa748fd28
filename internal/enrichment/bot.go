// Package enrichment derives request metadata (client address, bot
// verdict, device, location, referrer class, UTM tags) from raw HTTP input.
// Everything here degrades to empty values rather than failing an event.
package enrichment

import (
	"net/http"
	"strings"

	"github.com/mileusna/useragent"
	"github.com/x-way/crawlerdetect"
)

// IsBot flags automated clients: a known crawler signature in the user
// agent, no user agent at all, or a missing Accept / Accept-Language header,
// which real browsers always send.
func IsBot(r *http.Request) bool {
	return IsBotHeaders(r.UserAgent(), r.Header.Get("Accept"), r.Header.Get("Accept-Language"))
}

func IsBotHeaders(userAgent, accept, acceptLanguage string) bool {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return true
	}
	if crawlerdetect.IsCrawler(ua) || useragent.Parse(ua).Bot {
		return true
	}
	return strings.TrimSpace(accept) == "" || strings.TrimSpace(acceptLanguage) == ""
}
