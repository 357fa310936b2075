package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	matcher := NewPatternMatcher(nil, nil)
	if !matcher.ShouldInclude("file.txt") {
		t.Fatal("expected include by default")
	}
	matcher = NewPatternMatcher([]string{"*.exe"}, nil)
	if matcher.ShouldInclude("notes.txt") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !matcher.ShouldInclude("dropper.exe") {
		t.Fatal("should include matching include pattern")
	}
	matcher = NewPatternMatcher(nil, []string{"*.bak"})
	if matcher.ShouldInclude("report.bak") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !matcher.ShouldInclude("report.pdf") {
		t.Fatal("should include when exclude does not match")
	}
	matcher = NewPatternMatcher([]string{".*sample\\.bin$"}, nil)
	if !matcher.ShouldInclude("path/to/sample.bin") {
		t.Fatal("should match regex include pattern")
	}
}

func TestNilMatcher(t *testing.T) {
	var matcher *PatternMatcher
	if !matcher.ShouldInclude("anything") {
		t.Fatal("nil matcher should include everything")
	}
}
