// Package uaparser turns User-Agent strings into the structured form rules
// match on. Parsing is best-effort: anything unrecognized comes back as
// "unknown"/"desktop" rather than an error, matching the pipeline's
// fail-open posture.
package uaparser

import (
	"regexp"
	"strings"

	"github.com/norns-io/norns/internal/ruleengine"
)

// Parser extracts OS and device information from a User-Agent string.
// Deployments with a commercial device database plug in their own
// implementation; Default covers the common mobile and desktop agents.
type Parser interface {
	Parse(userAgent string) ruleengine.ParsedUA
}

// Compile-time check to verify that RegexParser implements Parser.
var _ Parser = (*RegexParser)(nil)

// RegexParser is the built-in implementation, driven by a small ordered
// pattern table. Order matters: Android agents also contain "Linux", iPads
// report "like Mac OS X".
type RegexParser struct{}

// Default returns the shared built-in parser. It is stateless and safe for
// concurrent use.
func Default() *RegexParser {
	return &RegexParser{}
}

var (
	reIOSVersion     = regexp.MustCompile(`(?:iPhone OS|CPU OS) (\d+(?:_\d+)*)`)
	reAndroidVersion = regexp.MustCompile(`Android (\d+(?:\.\d+)*)`)
	reWindowsNT      = regexp.MustCompile(`Windows NT (\d+(?:\.\d+)*)`)
	reMacOSVersion   = regexp.MustCompile(`Mac OS X (\d+(?:[._]\d+)*)`)
	reBot            = regexp.MustCompile(`(?i)bot|crawler|spider|slurp|curl/|wget/`)
)

// Parse never fails; unrecognized agents yield OS "unknown" and device
// "desktop". An empty agent yields empty OS and device.
func (p *RegexParser) Parse(userAgent string) ruleengine.ParsedUA {
	if userAgent == "" {
		return ruleengine.ParsedUA{}
	}

	return ruleengine.ParsedUA{
		OS:     parseOS(userAgent),
		Device: ruleengine.ParsedDevice{Type: parseDeviceType(userAgent)},
	}
}

func parseOS(ua string) ruleengine.ParsedOS {
	switch {
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") || strings.Contains(ua, "iPod"):
		version := ""
		if m := reIOSVersion.FindStringSubmatch(ua); m != nil {
			version = strings.ReplaceAll(m[1], "_", ".")
		}
		return ruleengine.ParsedOS{Name: "iOS", Version: version}

	case strings.Contains(ua, "Android"):
		version := ""
		if m := reAndroidVersion.FindStringSubmatch(ua); m != nil {
			version = m[1]
		}
		return ruleengine.ParsedOS{Name: "Android", Version: version}

	case strings.Contains(ua, "Windows"):
		version := ""
		if m := reWindowsNT.FindStringSubmatch(ua); m != nil {
			version = m[1]
		}
		return ruleengine.ParsedOS{Name: "Windows", Version: version}

	case strings.Contains(ua, "Mac OS X") || strings.Contains(ua, "Macintosh"):
		version := ""
		if m := reMacOSVersion.FindStringSubmatch(ua); m != nil {
			version = strings.NewReplacer("_", ".").Replace(m[1])
		}
		return ruleengine.ParsedOS{Name: "macOS", Version: version}

	case strings.Contains(ua, "Linux"):
		return ruleengine.ParsedOS{Name: "Linux"}

	default:
		return ruleengine.ParsedOS{Name: "unknown"}
	}
}

func parseDeviceType(ua string) string {
	switch {
	case reBot.MatchString(ua):
		return "bot"
	case strings.Contains(ua, "iPad"):
		return "tablet"
	case strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		// Android tablets omit the Mobile token.
		return "tablet"
	case strings.Contains(ua, "Mobile") || strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPod"):
		return "mobile"
	default:
		return "desktop"
	}
}
