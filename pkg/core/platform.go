// Package core provides the shared model types for xpath-healer.
package core

import "strings"

// Platform identifies the mobile platform a page source was captured on.
type Platform string

// Platform values
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform parses a platform name case-insensitively.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ios":
		return PlatformIOS, true
	case "android":
		return PlatformAndroid, true
	default:
		return Platform(s), false
	}
}

// String returns the platform name.
func (p Platform) String() string {
	return string(p)
}
