package app

import (
	"testing"
)

func TestParseBool(t *testing.T) {
	tt := []struct {
		input    string
		expected bool
		bad      bool
	}{
		{input: "yes", expected: true},
		{input: "y", expected: true},
		{input: "true", expected: true},
		{input: "on", expected: true},
		{input: "1", expected: true},
		{input: "no", expected: false},
		{input: "n", expected: false},
		{input: "false", expected: false},
		{input: "off", expected: false},
		{input: "0", expected: false},
		{input: "maybe", bad: true},
		{input: "", bad: true},
		{input: "YES", bad: true},
	}
	for _, test := range tt {
		got, err := parseBool(test.input)
		if test.bad {
			if err == nil {
				t.Errorf("parseBool(%q) should have failed", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseBool(%q) failed: %v", test.input, err)
			continue
		}
		if got != test.expected {
			t.Errorf("parseBool(%q) = %v, want %v", test.input, got, test.expected)
		}
	}
}

func TestParseNumber(t *testing.T) {
	if n, err := parseNumber("42"); err != nil || n != 42 {
		t.Errorf("parseNumber(42) = %d, %v", n, err)
	}
	if n, err := parseNumber("-3"); err != nil || n != -3 {
		t.Errorf("parseNumber(-3) = %d, %v", n, err)
	}
	if _, err := parseNumber("nope"); err == nil {
		t.Error("parseNumber(nope) should have failed")
	}
}
