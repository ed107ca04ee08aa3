package stylize

import "testing"

func TestPlanSubmitStyleTransfer(t *testing.T) {
	cases := []struct {
		n         int
		ok        bool
		keep      int
		discarded int
	}{
		{n: 0, ok: false},
		{n: 1, ok: false},
		{n: 2, ok: true, keep: 2, discarded: 0},
		{n: 3, ok: true, keep: 2, discarded: 1},
		{n: 10, ok: true, keep: 10, discarded: 0},
		{n: 11, ok: true, keep: 10, discarded: 1},
		{n: 12, ok: true, keep: 10, discarded: 2},
	}
	for _, tc := range cases {
		plan, ok := PlanSubmit(StyleTransfer, tc.n, 10)
		if ok != tc.ok {
			t.Fatalf("PlanSubmit(StyleTransfer, %d) ok = %v, want %v", tc.n, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if plan.Keep != tc.keep || plan.Discarded != tc.discarded {
			t.Fatalf("PlanSubmit(StyleTransfer, %d) = %+v, want keep %d discarded %d",
				tc.n, plan, tc.keep, tc.discarded)
		}
	}
}

func TestPlanSubmitPreset(t *testing.T) {
	cases := []struct {
		n         int
		ok        bool
		keep      int
		discarded int
	}{
		{n: 0, ok: false},
		{n: 1, ok: true, keep: 1},
		{n: 5, ok: true, keep: 5},
		{n: 10, ok: true, keep: 10},
		{n: 11, ok: true, keep: 10, discarded: 1},
	}
	for _, tc := range cases {
		plan, ok := PlanSubmit(Monet, tc.n, 10)
		if ok != tc.ok {
			t.Fatalf("PlanSubmit(Monet, %d) ok = %v, want %v", tc.n, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if plan.Keep != tc.keep || plan.Discarded != tc.discarded {
			t.Fatalf("PlanSubmit(Monet, %d) = %+v, want keep %d discarded %d",
				tc.n, plan, tc.keep, tc.discarded)
		}
	}
}

func TestCapacityForcedEven(t *testing.T) {
	if got := Capacity(StyleTransfer, 11); got != 10 {
		t.Fatalf("Capacity(StyleTransfer, 11) = %d, want 10", got)
	}
	if got := Capacity(VanGogh, 11); got != 11 {
		t.Fatalf("Capacity(VanGogh, 11) = %d, want 11", got)
	}
}

func TestParseJobType(t *testing.T) {
	for _, jt := range All() {
		parsed, err := ParseJobType(jt.Shortcut())
		if err != nil {
			t.Fatalf("ParseJobType(%q) error = %v", jt.Shortcut(), err)
		}
		if parsed != jt {
			t.Fatalf("ParseJobType(%q) = %v, want %v", jt.Shortcut(), parsed, jt)
		}
	}
	if _, err := ParseJobType("nope"); err == nil {
		t.Fatalf("ParseJobType(nope) error = nil, want error")
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		mime string
		want Format
		ok   bool
	}{
		{"image/jpeg", JPEG, true},
		{"image/png", PNG, true},
		{"IMAGE/PNG", PNG, true},
		{"image/gif", 0, false},
		{"application/pdf", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.mime)
		if tc.ok && err != nil {
			t.Fatalf("ParseFormat(%q) error = %v", tc.mime, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseFormat(%q) error = nil, want error", tc.mime)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseFormat(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}
