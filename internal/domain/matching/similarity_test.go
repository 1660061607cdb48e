package matching

import "testing"

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{
			name: "identical strings",
			a:    "tesco stores",
			b:    "tesco stores",
			min:  1.0,
			max:  1.0,
		},
		{
			name: "singular vs plural token",
			a:    "tesco stores",
			b:    "tesco store",
			min:  0.9,
			max:  1.0,
		},
		{
			name: "token order ignored",
			a:    "coffee blue bottle",
			b:    "blue bottle coffee",
			min:  1.0,
			max:  1.0,
		},
		{
			name: "one side contains the other",
			a:    "amazon",
			b:    "amazon prime video",
			min:  0.9,
			max:  0.95,
		},
		{
			name: "minor typo within drift",
			a:    "sainsburys local",
			b:    "sainsburies local",
			min:  0.9,
			max:  1.0,
		},
		{
			name: "unrelated merchants",
			a:    "waterstones",
			b:    "pret a manger",
			min:  0.0,
			max:  0.3,
		},
		{
			name: "empty left side",
			a:    "",
			b:    "tesco",
			min:  0.0,
			max:  0.0,
		},
		{
			name: "both empty",
			a:    "",
			b:    "",
			min:  0.0,
			max:  0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Similarity(%q, %q) = %v, want within [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"tesco stores", "tesco store"},
		{"amazon", "amazon prime video"},
		{"uber eats", "uber"},
	}
	for _, p := range pairs {
		ab := Similarity(p[0], p[1])
		ba := Similarity(p[1], p[0])
		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", p[0], p[1], ab, ba)
		}
	}
}

func TestTokensEqual(t *testing.T) {
	tests := []struct {
		a    string
		b    string
		want bool
	}{
		{"tesco", "tesco", true},
		{"stores", "store", true},     // distance 1 within 20% of 6
		{"sainsburys", "sainsburies", true},
		{"uber", "ubrr", false},       // distance 1 but 20% of 4 is 0
		{"netflix", "spotify", false},
		{"a", "b", false},
	}
	for _, tt := range tests {
		if got := tokensEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("tokensEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
