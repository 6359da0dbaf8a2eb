package cache

import "strings"

// SafeName maps a key onto a name that is valid as a file name on the
// current platform by replacing every invalid rune with '_'. The mapping is
// not injective: keys that differ only in invalid runes share a name.
func SafeName(key string) string {
	return strings.Map(func(r rune) rune {
		if isInvalidNameRune(r) {
			return '_'
		}
		return r
	}, key)
}
