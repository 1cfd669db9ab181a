package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// Valid minimal PNG data for a 1x1 transparent pixel.
var pngData = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

func fastFetcher(maxBytes int64) *HTTPImageFetcher {
	return NewHTTPImageFetcher(HTTPFetcherOptions{
		Timeout:  5 * time.Second,
		MaxBytes: maxBytes,
		Backoff:  func(int) time.Duration { return 10 * time.Millisecond },
	})
}

func TestHTTPImageFetcher_RetryLogic(t *testing.T) {
	tests := []struct {
		name          string
		responses     []int // Status codes to return in sequence
		expectRetries int   // Expected number of requests
		expectError   bool
		errorContains string
	}{
		{
			name:          "Success on first attempt",
			responses:     []int{200},
			expectRetries: 1,
		},
		{
			name:          "Success on second attempt after 5xx",
			responses:     []int{500, 200},
			expectRetries: 2,
		},
		{
			name:          "4xx client error - no retry",
			responses:     []int{404},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "4xx after 5xx - should retry until 4xx then stop",
			responses:     []int{500, 404},
			expectRetries: 2,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "All 5xx errors - retry all attempts",
			responses:     []int{500, 502, 503},
			expectRetries: 3,
			expectError:   true,
			errorContains: "server error: status code 503",
		},
		{
			name:          "Mixed 4xx errors - stop on first 4xx",
			responses:     []int{400},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requestCount := 0

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if requestCount >= len(tt.responses) {
					w.WriteHeader(500)
					w.Write([]byte("Unexpected request"))
					return
				}
				statusCode := tt.responses[requestCount]
				requestCount++

				if statusCode == 200 {
					w.Header().Set("Content-Type", "image/png")
					w.Write(pngData)
					return
				}
				w.WriteHeader(statusCode)
				w.Write([]byte(fmt.Sprintf("Error %d", statusCode)))
			}))
			defer server.Close()

			data, err := fastFetcher(0).FetchImage(context.Background(), server.URL)

			if requestCount != tt.expectRetries {
				t.Errorf("Expected %d requests, got %d", tt.expectRetries, requestCount)
			}

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, but got none")
				} else if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain '%s', got: %s", tt.errorContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no error, got: %s", err.Error())
			}
			if len(data) != len(pngData) {
				t.Errorf("Expected %d bytes, got %d", len(pngData), len(data))
			}
		})
	}
}

func TestHTTPImageFetcher_NetworkError_Retry(t *testing.T) {
	requestCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount < 3 {
			// Simulate network error by closing connection
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer server.Close()

	start := time.Now()
	_, err := fastFetcher(0).FetchImage(context.Background(), server.URL)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected success after retries, got error: %s", err.Error())
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if duration < 20*time.Millisecond {
		t.Errorf("Expected backoff between attempts, took %v", duration)
	}
}

func TestHTTPImageFetcher_SizeLimit(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	_, err := fastFetcher(1024).FetchImage(context.Background(), server.URL)
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("Expected ErrImageTooLarge, got %v", err)
	}
	if requestCount != 1 {
		t.Errorf("Oversized images must not be retried, got %d requests", requestCount)
	}
}

func TestHTTPImageFetcher_StatusErrorIsInspectable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := fastFetcher(0).FetchImage(context.Background(), server.URL)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("Expected StatusError 404, got %v", err)
	}
}

func TestParseBlobURL(t *testing.T) {
	tests := []struct {
		url       string
		container string
		blob      string
		wantErr   bool
	}{
		{url: "https://acct.blob.core.windows.net/scans/2024/page-1.png", container: "scans", blob: "2024/page-1.png"},
		{url: "https://acct.blob.core.windows.net/scans?blob=page.jpg", container: "scans", blob: "page.jpg"},
		{url: "https://acct.blob.core.windows.net/scans", wantErr: true},
		{url: "https://acct.blob.core.windows.net/", wantErr: true},
	}
	for _, tt := range tests {
		container, blob, err := ParseBlobURL(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.url, err)
			continue
		}
		if container != tt.container || blob != tt.blob {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", tt.url, container, blob, tt.container, tt.blob)
		}
	}
}

func TestNewAzureStorage_InvalidKey(t *testing.T) {
	if _, err := NewAzureStorage("acct", "not base64!", 0); err == nil {
		t.Error("Expected error for malformed account key")
	}
}

func TestAzureStorage_Owns(t *testing.T) {
	blob, err := NewAzureStorage("acct", "dGVzdGtleQ==", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for raw, want := range map[string]bool{
		"https://acct.blob.core.windows.net/c/b.png":       true,
		"https://ACCT.blob.core.windows.net/c/b.png":       true,
		"https://other.blob.core.windows.net/c/b.png":      false,
		"https://example.com/acct.blob.core.windows.net/x": false,
	} {
		u, _ := url.Parse(raw)
		if got := blob.Owns(u); got != want {
			t.Errorf("Owns(%s) = %v, want %v", raw, got, want)
		}
	}
}
