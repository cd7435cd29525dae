package device

import (
	"strings"

	"brightpath/focus-tracker/internal/models"

	"github.com/google/uuid"
)

// Info describes the device a student is tracked on.
type Info struct {
	Type    string // desktop, mobile, tablet
	Browser string // best-effort browser name
}

// Detect classifies the device type and browser from a user agent
// string. Detection is best-effort: an empty or unrecognized agent
// yields a desktop device with an "unknown" browser rather than an
// error.
func Detect(userAgent string) Info {
	info := Info{
		Type:    models.DeviceDesktop,
		Browser: "unknown",
	}
	if userAgent == "" {
		return info
	}

	uaLower := strings.ToLower(userAgent)

	// Tablet check must run before mobile: tablet agents often carry
	// "mobile" markers too.
	switch {
	case strings.Contains(uaLower, "ipad") || strings.Contains(uaLower, "tablet"):
		info.Type = models.DeviceTablet
	case strings.Contains(uaLower, "mobile") ||
		strings.Contains(uaLower, "iphone") ||
		strings.Contains(uaLower, "android"):
		info.Type = models.DeviceMobile
	}

	// Order matters: Edge and Opera agents contain "chrome", Chrome
	// agents contain "safari".
	browsers := []struct {
		marker string
		name   string
	}{
		{"edg/", "edge"},
		{"edge", "edge"},
		{"opr/", "opera"},
		{"opera", "opera"},
		{"brave", "brave"},
		{"vivaldi", "vivaldi"},
		{"firefox", "firefox"},
		{"chromium", "chromium"},
		{"chrome", "chrome"},
		{"safari", "safari"},
	}
	for _, b := range browsers {
		if strings.Contains(uaLower, b.marker) {
			info.Browser = b.name
			break
		}
	}

	return info
}

// InstanceID returns a unique identifier for this tracker instance.
// Each browsing context (process) gets its own id so concurrent tabs
// remain distinguishable in logs.
func InstanceID() string {
	return uuid.New().String()
}
