package request

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// KeyFor derives the cache key of a call. Method and endpoint stay readable;
// params (sorted by url.Values.Encode) and body are folded into a digest so
// that differing combinations never share an entry.
func KeyFor(method, endpoint string, params url.Values, body []byte) string {
	h := sha256.New()
	h.Write([]byte(params.Encode()))
	h.Write([]byte{0})
	h.Write(body)
	return strings.ToUpper(method) + " " + endpoint + "#" + hex.EncodeToString(h.Sum(nil))[:32]
}
