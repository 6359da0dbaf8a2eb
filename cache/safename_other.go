//go:build !windows

package cache

func isInvalidNameRune(r rune) bool {
	return r == 0 || r == '/'
}
