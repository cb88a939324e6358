package hostutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"   ", ""},

		// Full URLs passed through
		{"http://example.com", "http://example.com"},
		{"https://example.com/", "https://example.com"},
		{"https://dummyjson.com/api/", "https://dummyjson.com/api"},

		// Localhost variants → http
		{"localhost", "http://localhost"},
		{"localhost:8080", "http://localhost:8080"},
		{"127.0.0.1:3000", "http://127.0.0.1:3000"},
		{"[::1]:3000", "http://[::1]:3000"},
		{"app.localhost:3000", "http://app.localhost:3000"},

		// Non-localhost → https
		{"dummyjson.com", "https://dummyjson.com"},
		{"api.example.com:8443", "https://api.example.com:8443"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "https://dummyjson.com", Origin("https://dummyjson.com/api/v1"))
	assert.Equal(t, "http://localhost:8080", Origin("localhost:8080"))
	assert.Equal(t, "https://example.com", Origin("example.com/"))
}

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"localhost", true},
		{"localhost:3000", true},
		{"127.0.0.1", true},
		{"[::1]", true},
		{"[::1]:8080", true},
		{"dev.localhost", true},
		{"example.com", false},
		{"localhost.example.com", false},
		{"127.0.0.2", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.host))
		})
	}
}
