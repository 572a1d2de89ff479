package handler

import (
	"reflect"
	"testing"
)

func TestClampPage(t *testing.T) {
	tests := []struct {
		page, total, perPage int
		wantPage, wantLast   int
	}{
		{1, 0, 10, 1, 1},
		{5, 0, 10, 1, 1},
		{0, 25, 10, 1, 3},
		{-2, 25, 10, 1, 3},
		{2, 25, 10, 2, 3},
		{3, 30, 10, 3, 3},
		{4, 30, 10, 3, 3},
		{99, 31, 10, 4, 4},
	}

	for _, tt := range tests {
		page, last := clampPage(tt.page, tt.total, tt.perPage)
		if page != tt.wantPage || last != tt.wantLast {
			t.Errorf("clampPage(%d, %d, %d) = (%d, %d), expected (%d, %d)",
				tt.page, tt.total, tt.perPage, page, last, tt.wantPage, tt.wantLast)
		}
	}
}

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"1", 0, 1},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
		{"12.5", 5, 5},
	}

	for _, tt := range tests {
		if result := atoiDefault(tt.input, tt.def); result != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, result, tt.expected)
		}
	}
}

func TestParseIDs(t *testing.T) {
	got := parseIDs([]string{"1,2", " 3 ", "x", "-4", "0", "5,,6"})
	want := []int64{1, 2, 3, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseIDs() = %v, expected %v", got, want)
	}
	if got := parseIDs(nil); got != nil {
		t.Errorf("parseIDs(nil) = %v, expected nil", got)
	}
}
