package enrichment

import (
	"strings"

	"github.com/mileusna/useragent"

	"ingest-service/internal/models"
)

const unknown = "Unknown"

// UAParser classifies a user-agent string into coarse device dimensions.
// It is stateless and safe for concurrent use.
type UAParser struct{}

func NewUAParser() *UAParser { return &UAParser{} }

func (UAParser) Parse(ua string) models.Device {
	parsed := useragent.Parse(ua)
	return models.Device{
		DeviceType:     deviceType(parsed),
		OS:             operatingSystem(parsed, ua),
		Browser:        browser(parsed),
		BrowserVersion: parsed.Version,
	}
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	default:
		return "desktop"
	}
}

// iOS agents also say "like Mac OS X", so they are matched first.
func operatingSystem(ua useragent.UserAgent, raw string) string {
	switch {
	case ua.OS == useragent.IOS, strings.Contains(raw, "iPhone"), strings.Contains(raw, "iPad"):
		return "iOS"
	case ua.OS == "":
		return unknown
	default:
		return ua.OS
	}
}

func browser(ua useragent.UserAgent) string {
	switch ua.Name {
	case "":
		return unknown
	case useragent.InternetExplorer:
		return "IE"
	default:
		return ua.Name
	}
}
