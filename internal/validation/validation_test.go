package validation

import "testing"

func TestIsValidHandle(t *testing.T) {
	tests := []struct {
		name   string
		handle string
		valid  bool
	}{
		{
			name:   "simple handle",
			handle: "clerk01",
			valid:  true,
		},
		{
			name:   "minimum length",
			handle: "abc",
			valid:  true,
		},
		{
			name:   "too short",
			handle: "ab",
			valid:  false,
		},
		{
			name:   "too long",
			handle: "abcdefghijklmnopqrstu",
			valid:  false,
		},
		{
			name:   "starts with digit",
			handle: "1clerk",
			valid:  false,
		},
		{
			name:   "contains punctuation",
			handle: "clerk-01",
			valid:  false,
		},
		{
			name:   "empty string",
			handle: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidHandle(tt.handle)
			if got != tt.valid {
				t.Fatalf("IsValidHandle(%q) = %v, want %v", tt.handle, got, tt.valid)
			}
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		valid bool
	}{
		{
			name:  "plain address",
			email: "user@example.com",
			valid: true,
		},
		{
			name:  "no at sign",
			email: "userexample.com",
			valid: false,
		},
		{
			name:  "two at signs",
			email: "user@host@example.com",
			valid: false,
		},
		{
			name:  "no domain dot",
			email: "user@localhost",
			valid: false,
		},
		{
			name:  "trailing dot",
			email: "user@example.",
			valid: false,
		},
		{
			name:  "empty local part",
			email: "@example.com",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidEmail(tt.email)
			if got != tt.valid {
				t.Fatalf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.valid)
			}
		})
	}
}
