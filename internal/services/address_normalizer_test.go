package services

import "testing"

func TestStateCode(t *testing.T) {
	cases := map[string]string{
		"Maharashtra":       "MH",
		"tamil nadu":        "TN",
		"JAMMU & KASHMIR":   "JK",
		"Jammu and Kashmir": "JK",
		"Orissa":            "OR",
		" Delhi ":           "DL",
		"Bavaria":           "Bavaria",
	}
	for input, want := range cases {
		if got := StateCode(input); got != want {
			t.Fatalf("StateCode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeStateKeepsCodes(t *testing.T) {
	if got := NormalizeState("KA"); got != "KA" {
		t.Fatalf("expected code to pass through, got %q", got)
	}
	if got := NormalizeState("Karnataka"); got != "KA" {
		t.Fatalf("expected Karnataka to resolve, got %q", got)
	}
}

func TestFormatPhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "9876543210", want: "+919876543210"},
		{in: "919876543210", want: "+919876543210"},
		{in: "+91 98765-43210", want: "+919876543210"},
		{in: "123", want: "123"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := FormatPhone(tc.in); got != tc.want {
			t.Fatalf("FormatPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
