// Package cookies inspects Netscape cookies.txt files before they are
// handed to the extractor, so a stale or malformed file is reported at
// startup instead of as a cryptic extraction failure.
package cookies

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Summary describes the usable content of a cookie file.
type Summary struct {
	// Total is the number of parseable cookie lines.
	Total int
	// Expired is how many of them are already past their expiry.
	Expired int
}

// Inspect parses the file at path.
// Line format: domain flag path secure expiration name value.
func Inspect(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("opening cookie file: %w", err)
	}
	defer f.Close()
	return inspect(f, time.Now())
}

func inspect(r io.Reader, now time.Time) (Summary, error) {
	var sum Summary
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		sum.Total++
		// Field 4 is the Unix expiration; 0 means a session cookie.
		expiresUnix, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil || expiresUnix == 0 {
			continue
		}
		if time.Unix(expiresUnix, 0).Before(now) {
			sum.Expired++
		}
	}
	if err := scanner.Err(); err != nil {
		return sum, err
	}
	if sum.Total == 0 {
		return sum, fmt.Errorf("no cookies found")
	}
	return sum, nil
}
