// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Fingerprint returns the content hash used for deduplication: SHA-256
// over the normalized title, the URL, and the quote. Each field is
// length-prefixed, so no field content can shift into its neighbour.
func Fingerprint(item types.EvidenceItem) string {
	h := sha256.New()
	for _, field := range []string{normalize(item.Title), item.URL, item.Quote} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Locator returns the source key of an item: its URL when present,
// otherwise the source kind joined with the normalized title.
func Locator(item types.EvidenceItem) string {
	if item.URL != "" {
		return item.URL
	}
	return "kind:" + string(item.Source) + "|" + normalize(item.Title)
}

// normalize lower-cases s and collapses runs of whitespace to one space.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
