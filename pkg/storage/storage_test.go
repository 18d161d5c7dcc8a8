package storage

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("not-a-real-account-key"))

func testConn() string {
	return "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=" + testKey + ";EndpointSuffix=core.windows.net"
}

func TestParseConnectionString(t *testing.T) {
	acc, err := ParseConnectionString(testConn())
	if err != nil {
		t.Fatalf("ParseConnectionString failed: %v", err)
	}
	if acc.Name != "acct" {
		t.Errorf("Expected name acct, got %s", acc.Name)
	}
	if acc.Key != testKey {
		t.Errorf("Key with '=' padding was not preserved: %s", acc.Key)
	}
	if got := acc.BlobURL("images", "cat.jpg"); got != "https://acct.blob.core.windows.net/images/cat.jpg" {
		t.Errorf("Unexpected blob URL %s", got)
	}
}

func TestParseConnectionStringErrors(t *testing.T) {
	tests := []struct {
		name string
		conn string
	}{
		{"empty", ""},
		{"missing key", "AccountName=acct"},
		{"missing name", "AccountKey=" + testKey},
		{"malformed", "AccountName=acct;garbage;AccountKey=" + testKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConnectionString(tt.conn); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestBlobEndpointOverride(t *testing.T) {
	acc, err := ParseConnectionString("AccountName=devstoreaccount1;AccountKey=" + testKey + ";BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1/")
	if err != nil {
		t.Fatalf("ParseConnectionString failed: %v", err)
	}
	if got := acc.BlobURL("images", "a.jpg"); got != "http://127.0.0.1:10000/devstoreaccount1/images/a.jpg" {
		t.Errorf("Unexpected blob URL %s", got)
	}
}

func TestSignURL(t *testing.T) {
	s, err := NewSigner(testConn())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	blob := "https://acct.blob.core.windows.net/images/cat.jpg"
	signed, err := s.SignURL(context.Background(), blob)
	if err != nil {
		t.Fatalf("SignURL failed: %v", err)
	}
	if !strings.HasPrefix(signed, blob+"?") {
		t.Fatalf("Signed URL does not extend the blob URI: %s", signed)
	}

	u, _ := url.Parse(signed)
	q := u.Query()
	if q.Get("sp") != "r" {
		t.Errorf("Expected read permission, got %q", q.Get("sp"))
	}
	if q.Get("srt") != "o" {
		t.Errorf("Expected object resource type, got %q", q.Get("srt"))
	}
	if q.Get("sig") == "" {
		t.Error("Expected a signature")
	}
	se, err := time.Parse(time.RFC3339, q.Get("se"))
	if err != nil {
		t.Fatalf("Bad expiry %q: %v", q.Get("se"), err)
	}
	if !se.Equal(fixed.Add(time.Hour)) {
		t.Errorf("Expected expiry %v, got %v", fixed.Add(time.Hour), se)
	}
}

func TestSignURLRejectsRelative(t *testing.T) {
	s, _ := NewSigner(testConn())
	if _, err := s.SignURL(context.Background(), "images/cat.jpg"); err == nil {
		t.Error("Expected error for relative URI")
	}
}
