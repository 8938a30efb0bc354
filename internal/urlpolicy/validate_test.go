package urlpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSubmittedURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"valid https", "https://example.com/page", true},
		{"valid http with port", "http://example.com:8080/page", true},
		{"bare ip literal", "http://192.168.1.1/", true},
		{"localhost", "http://localhost:3000/", true},
		{"no tld no dots", "http://foo", false},
		{"missing scheme", "example.com", false},
		{"ftp scheme rejected", "ftp://example.com/file", false},
		{"empty string", "", false},
		{"scheme only", "https://", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidSubmittedURL(tc.url))
		})
	}
}
