package core

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "Blue Widget", want: "blue-widget"},
		{input: "  Crème Brûlée  ", want: "creme-brulee"},
		{input: "T-Shirt (XL) / Red", want: "t-shirt-xl-red"},
		{input: "100% Cotton!!", want: "100-cotton"},
		{input: "日本", want: ""},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
