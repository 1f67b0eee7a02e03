package cursor

import "testing"

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"0", true},
		{"1512345678901234567", true},
		{"123456789012345678901234567890", true},
		{"-5", false},
		{"12a", false},
		{" 12", false},
		{"+10", false},
		{"1_000", false},
		{"٣", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.id); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "100", "100", 0},
		{"numeric not lexical", "9", "10", -1},
		{"beyond int64", "9999999999999999999", "10000000000000000000", -1},
		{"greater", "1512345678901234568", "1512345678901234567", 1},
		{"absent vs valid", "", "1", -1},
		{"valid vs absent", "1", "", 1},
		{"both absent", "", "", 0},
		{"garbage vs valid", "abc", "1", -1},
		{"garbage vs absent", "abc", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMax(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"first greater", "20", "3", "20"},
		{"second greater", "3", "20", "20"},
		{"beyond int64", "9999999999999999999", "10000000000000000000", "10000000000000000000"},
		{"absent first", "", "7", "7"},
		{"absent second", "7", "", "7"},
		{"both absent", "", "", ""},
		{"garbage ignored", "oops", "7", "7"},
		{"both garbage", "oops", "nope", ""},
		{"equal", "5", "5", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Max(tt.a, tt.b); got != tt.want {
				t.Errorf("Max(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMaxIsMonotonic(t *testing.T) {
	cur := ""
	for _, id := range []string{"5", "3", "", "12", "11", "bad", "12"} {
		next := Max(cur, id)
		if Compare(next, cur) < 0 {
			t.Fatalf("cursor moved backwards from %q to %q", cur, next)
		}
		cur = next
	}
	if cur != "12" {
		t.Errorf("final cursor = %q, want 12", cur)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("42"); got != "42" {
		t.Errorf("Normalize(42) = %q", got)
	}
	if got := Normalize("x42"); got != "" {
		t.Errorf("Normalize(x42) = %q, want empty", got)
	}
}
