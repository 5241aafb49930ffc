package sheet

import "testing"

func TestColumnIndex(t *testing.T) {
	cases := []struct {
		label string
		want  int
	}{
		{"A", 0},
		{"B", 1},
		{"Z", 25},
		{"AA", 26},
		{"AZ", 51},
		{"BA", 52},
		{"ZZ", 701},
		{"AAA", 702},
		{"a", 0},
		{" c ", 2},
	}
	for _, c := range cases {
		got, err := ColumnIndex(c.label)
		if err != nil {
			t.Errorf("ColumnIndex(%q): unexpected error %v", c.label, err)
			continue
		}
		if got != c.want {
			t.Errorf("ColumnIndex(%q) = %d, want %d", c.label, got, c.want)
		}
	}
}

func TestColumnIndexInvalid(t *testing.T) {
	for _, label := range []string{"", "A1", "1", "A B", "Ç"} {
		if _, err := ColumnIndex(label); err == nil {
			t.Errorf("ColumnIndex(%q): expected error", label)
		}
	}
}

func TestColumnLabelRoundTrip(t *testing.T) {
	for i := 0; i < 1000; i++ {
		label := ColumnLabel(i)
		got, err := ColumnIndex(label)
		if err != nil {
			t.Fatalf("ColumnIndex(%q): %v", label, err)
		}
		if got != i {
			t.Fatalf("round trip %d -> %q -> %d", i, label, got)
		}
	}
}

func TestColumnLabel(t *testing.T) {
	cases := map[int]string{0: "A", 25: "Z", 26: "AA", 51: "AZ", 701: "ZZ", 702: "AAA"}
	for idx, want := range cases {
		if got := ColumnLabel(idx); got != want {
			t.Errorf("ColumnLabel(%d) = %q, want %q", idx, got, want)
		}
	}
}
