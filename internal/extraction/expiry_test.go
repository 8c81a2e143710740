package extraction

import (
	"fmt"
	"testing"
	"time"
)

func TestExpiryFromURL(t *testing.T) {
	want := time.Unix(1717243200, 0)

	got, ok := expiryFromURL(fmt.Sprintf("https://cdn.example/v?expire=%d&sig=x", want.Unix()))
	if !ok || !got.Equal(want) {
		t.Fatalf("expire param: got %v ok=%v", got, ok)
	}
	got, ok = expiryFromURL(fmt.Sprintf("https://cdn.example/v?expires=%d", want.Unix()))
	if !ok || !got.Equal(want) {
		t.Fatalf("expires param: got %v ok=%v", got, ok)
	}

	for _, raw := range []string{
		"https://cdn.example/v",
		"https://cdn.example/v?expire=soon",
		"https://cdn.example/v?expire=-5",
		"://bad",
	} {
		if _, ok := expiryFromURL(raw); ok {
			t.Fatalf("expected no expiry from %q", raw)
		}
	}
}

func TestEarliestExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	in2h := now.Add(2 * time.Hour).Unix()
	in6h := now.Add(6 * time.Hour).Unix()
	past := now.Add(-time.Hour).Unix()

	got := earliestExpiry(now, []string{
		fmt.Sprintf("https://cdn.example/a?expire=%d", in6h),
		fmt.Sprintf("https://cdn.example/b?expire=%d", in2h),
		fmt.Sprintf("https://cdn.example/c?expire=%d", past),
	})
	if !got.Equal(time.Unix(in2h, 0)) {
		t.Fatalf("expected earliest future expiry, got %v", got)
	}

	got = earliestExpiry(now, []string{"https://cdn.example/a"})
	if !got.Equal(now.Add(defaultURLLifetime)) {
		t.Fatalf("expected conservative default, got %v", got)
	}
}
