package dedup

import (
	"net/url"
	"strings"

	"github.com/aussiebroadwan/crudlink/pkg/cryptox"
)

// Fingerprint derives the deduplication key for a logical request.
//
// The verb is upper-cased, an absolute target keeps its scheme and host,
// query parameters are sorted so that equivalent targets collide, and a
// non-empty payload contributes its SHA-256 digest.
func Fingerprint(method, target string, payload []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(strings.TrimSpace(method)))
	b.WriteByte(' ')
	b.WriteString(canonicalTarget(target))

	if len(payload) > 0 {
		b.WriteString(" #")
		b.WriteString(cryptox.Digest(payload))
	}

	return b.String()
}

func canonicalTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.Host != "" {
		path = strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
	}

	q := u.Query()
	if len(q) == 0 {
		return path
	}

	// Encode sorts by key; values keep their order
	return path + "?" + q.Encode()
}
