// Package refs builds daily-sequenced, human-readable document references.
//
// References follow {PREFIX}-{DDMMYY}-{SEQ:04d}, optionally with a single-letter
// kind segment before the sequence. Sequences are always re-derived from the
// references already stored for the day (max existing suffix + 1); there is no
// dedicated counter table, so manually backfilled references are tolerated as
// long as they keep the same shape.
package refs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "020106"

// DailyPrefix returns "{prefix}-{DDMMYY}-" for the given day.
func DailyPrefix(prefix string, day time.Time) string {
	return fmt.Sprintf("%s-%s-", strings.ToUpper(prefix), day.Format(dateLayout))
}

// KindPrefix returns "{prefix}-{DDMMYY}-{K}-" where K is a single uppercase
// kind letter (e.g. "P" for parts, "V" for vehicles).
func KindPrefix(prefix string, day time.Time, kind string) string {
	k := "P"
	if kind != "" {
		k = strings.ToUpper(kind[:1])
	}
	return fmt.Sprintf("%s-%s-%s-", strings.ToUpper(prefix), day.Format(dateLayout), k)
}

// NextSequence scans existing references sharing a prefix and returns the next
// full reference string. Suffixes that do not parse as integers count as zero,
// so the sequence survives malformed or hand-edited rows.
func NextSequence(prefix string, existing []string) string {
	maxSeq := 0
	for _, ref := range existing {
		parts := strings.Split(ref, "-")
		n, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			continue
		}
		if n > maxSeq {
			maxSeq = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, maxSeq+1)
}

var nonAlpha = regexp.MustCompile(`[^A-Z]+`)

// stopTokens are generic salespoint name prefixes that carry no identity.
var stopTokens = map[string]struct{}{
	"SP": {}, "PDV": {}, "POS": {}, "PV": {}, "AGENCE": {}, "DEPOT": {},
}

// SalesPointCode derives the two-letter reference code from a salespoint name:
// the first two letters of the first meaningful word, skipping generic tokens
// like "SP" or "PDV". Falls back to "EC" when the name yields nothing usable.
func SalesPointCode(name string) string {
	upper := strings.ToUpper(name)
	for _, tok := range nonAlpha.Split(upper, -1) {
		if tok == "" || len(tok) < 2 {
			continue
		}
		if _, skip := stopTokens[tok]; skip {
			continue
		}
		return tok[:2]
	}
	letters := nonAlpha.ReplaceAllString(upper, "")
	if len(letters) >= 2 {
		return letters[:2]
	}
	return "EC"
}

// InvoicePrefix returns the sale invoice prefix "{PP}-{DDMMYY}-{K}-" for a
// salespoint name, day and sale kind.
func InvoicePrefix(salesPointName string, day time.Time, kind string) string {
	return KindPrefix(SalesPointCode(salesPointName), day, kind)
}
