package compiler

import "strings"

// Platform identifies the host client the runner is embedded in.
type Platform string

const (
	PlatformUnknown   Platform = ""
	PlatformPC        Platform = "PC"
	PlatformMac       Platform = "Mac"
	PlatformOnline    Platform = "OfficeOnline"
	PlatformIOS       Platform = "iOS"
	PlatformAndroid   Platform = "Android"
	PlatformUniversal Platform = "Universal"
)

var platforms = map[string]Platform{
	"pc":           PlatformPC,
	"mac":          PlatformMac,
	"officeonline": PlatformOnline,
	"ios":          PlatformIOS,
	"android":      PlatformAndroid,
	"universal":    PlatformUniversal,
}

// ParsePlatform is case-insensitive; unrecognized values are PlatformUnknown.
func ParsePlatform(s string) Platform {
	return platforms[strings.ToLower(strings.TrimSpace(s))]
}

// ReservesScrollbarPadding reports whether the host draws its own scrollbar
// over the right edge of the task pane.
func (p Platform) ReservesScrollbarPadding() bool {
	return p == PlatformPC
}
