package util

import (
	"strings"
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	if version == "" {
		t.Error("GetVersion returned empty string")
	}
	if strings.TrimSpace(version) != version {
		t.Error("GetVersion should return a trimmed string")
	}
}

func TestGetNameAndVersion(t *testing.T) {
	result := GetNameAndVersion()
	if !strings.HasPrefix(result, "anancus / ") {
		t.Errorf("Expected 'anancus / <version>', got '%s'", result)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "anancus/") {
		t.Errorf("Expected user agent to start with 'anancus/', got '%s'", ua)
	}
	if !strings.HasSuffix(ua, "ActivityPub") {
		t.Errorf("Expected user agent to end with 'ActivityPub', got '%s'", ua)
	}
}

func TestRandomString(t *testing.T) {
	tests := []int{10, 20, 32, 64}

	for _, length := range tests {
		result := RandomString(length)
		if len(result) != length {
			t.Errorf("Expected length %d, got %d", length, len(result))
		}
	}
}

func TestRandomStringUniqueness(t *testing.T) {
	results := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := RandomString(32)
		if results[s] {
			t.Errorf("RandomString produced duplicate: %s", s)
		}
		results[s] = true
	}
}

func TestTidIsSortable(t *testing.T) {
	a := Tid(0)
	time.Sleep(2 * time.Millisecond)
	b := Tid(0)

	if !(a < b) {
		t.Errorf("Expected tids to sort chronologically: %s >= %s", a, b)
	}

	if len(a) != len(b) {
		t.Errorf("Tids should be fixed width: %d != %d", len(a), len(b))
	}
}

func TestTidOffset(t *testing.T) {
	now := Tid(0)
	future := Tid(time.Hour)

	if !(now < future) {
		t.Errorf("Offset tid should sort after current tid: %s >= %s", now, future)
	}
}

func TestTidTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	tid := Tid(0)
	after := time.Now().Add(time.Second)

	parsed := TidTime(tid)
	if parsed.Before(before) || parsed.After(after) {
		t.Errorf("TidTime(%s) = %v, expected within [%v, %v]", tid, parsed, before, after)
	}

	if !TidTime("garbage").IsZero() {
		t.Error("TidTime should return zero time for non-tid input")
	}
}

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "newlines replaced",
			input:    "line1\nline2\nline3",
			expected: "line1 line2 line3",
		},
		{
			name:     "html escaped",
			input:    "<script>alert('xss')</script>",
			expected: "&lt;script&gt;alert(&#39;xss&#39;)&lt;/script&gt;",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "normal text",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "ampersand",
			input:    "Tom & Jerry",
			expected: "Tom &amp; Jerry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeInput(tt.input)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestPrettyPrint(t *testing.T) {
	result := PrettyPrint(map[string]string{"key": "value"})
	if !strings.Contains(result, "\"key\"") {
		t.Errorf("PrettyPrint should render keys, got '%s'", result)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keypair := GeneratePemKeypair()

	if keypair == nil {
		t.Fatal("GeneratePemKeypair returned nil")
	}

	if !strings.Contains(keypair.Private, "BEGIN RSA PRIVATE KEY") {
		t.Error("Private key doesn't have PEM header")
	}
	if !strings.Contains(keypair.Private, "END RSA PRIVATE KEY") {
		t.Error("Private key doesn't have PEM footer")
	}

	if !strings.Contains(keypair.Public, "BEGIN PUBLIC KEY") {
		t.Error("Public key doesn't have PEM header")
	}
	if !strings.Contains(keypair.Public, "END PUBLIC KEY") {
		t.Error("Public key doesn't have PEM footer")
	}
}
