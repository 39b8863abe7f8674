// Package useragent classifies a User-Agent string into a device class,
// browser family, and OS family for click-event enrichment, wrapping the
// ua-parser regex database.
package useragent

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	uaparser "github.com/ua-parser/uap-go/uaparser"
)

// DeviceClass is a coarse bucket derived from the ua-parser device family.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceBot     DeviceClass = "bot"
	DeviceUnknown DeviceClass = "unknown"
)

// Classification is the enrichment attached to a ClickEvent.
type Classification struct {
	DeviceClass    DeviceClass
	BrowserFamily  string
	OSFamily       string
}

var botPattern = regexp.MustCompile(`(?i)bot|crawl|spider|slurp|bingpreview|facebookexternalhit`)

// Classifier wraps a ua-parser regex database. A nil *uaparser.Parser
// (failed to load) degrades to DeviceUnknown classifications rather than
// failing click ingestion.
type Classifier struct {
	parser *uaparser.Parser
	logger zerolog.Logger
}

// New loads the regex database at regexesPath (the standard ua-parser
// regexes.yaml). A load failure is logged and Classify then reports
// user agents matching the bot pattern as DeviceBot and every other field
// as "unknown" — it never blocks ingestion on a missing file.
func New(regexesPath string, logger zerolog.Logger) *Classifier {
	c := &Classifier{logger: logger.With().Str("component", "useragent").Logger()}
	if regexesPath == "" {
		return c
	}
	parser, err := uaparser.New(regexesPath)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", regexesPath).Msg("failed to load ua-parser regex database")
		return c
	}
	c.parser = parser
	return c
}

// Classify parses a raw User-Agent header value.
func (c *Classifier) Classify(rawUA string) Classification {
	if rawUA == "" {
		return Classification{DeviceClass: DeviceUnknown, BrowserFamily: "unknown", OSFamily: "unknown"}
	}
	if botPattern.MatchString(rawUA) {
		return Classification{DeviceClass: DeviceBot, BrowserFamily: "unknown", OSFamily: "unknown"}
	}
	if c.parser == nil {
		return Classification{DeviceClass: DeviceUnknown, BrowserFamily: "unknown", OSFamily: "unknown"}
	}

	client := c.parser.Parse(rawUA)
	return Classification{
		DeviceClass:   classifyDevice(client),
		BrowserFamily: orUnknown(client.UserAgent.Family),
		OSFamily:      orUnknown(client.Os.Family),
	}
}

func classifyDevice(client *uaparser.Client) DeviceClass {
	family := strings.ToLower(client.Device.Family)
	switch {
	case family == "" || family == "other":
		return DeviceUnknown
	case strings.Contains(family, "tablet") || strings.Contains(family, "ipad"):
		return DeviceTablet
	case strings.Contains(family, "mobile") || strings.Contains(family, "iphone") || strings.Contains(family, "android"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

func orUnknown(s string) string {
	if s == "" || s == "Other" {
		return "unknown"
	}
	return s
}
