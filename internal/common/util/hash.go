package util

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Md5Hex returns the hex encoded md5 digest of the parts joined with a NUL separator,
// so that ("ab", "c") and ("a", "bc") hash differently.
func Md5Hex(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
