package extraction

import (
	"net/url"
	"strconv"
	"time"
)

// defaultURLLifetime is the conservative estimate applied when no expiry
// can be read off the resolved URLs. Platform-signed URLs typically live
// for 6 hours; assuming less is the safe direction.
const defaultURLLifetime = time.Hour

// expiryFromURL reads the signed-URL expiry from the expire/expires query
// parameter (epoch seconds), as the platform CDN emits it.
func expiryFromURL(raw string) (time.Time, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return time.Time{}, false
	}
	q := u.Query()
	val := q.Get("expire")
	if val == "" {
		val = q.Get("expires")
	}
	if val == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// earliestExpiry derives the resolution expiry: the earliest expiry among
// the format URLs, or now+defaultURLLifetime when none advertise one.
func earliestExpiry(now time.Time, urls []string) time.Time {
	var earliest time.Time
	for _, raw := range urls {
		t, ok := expiryFromURL(raw)
		if !ok || !t.After(now) {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if earliest.IsZero() {
		return now.Add(defaultURLLifetime)
	}
	return earliest
}
