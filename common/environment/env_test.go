package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Towa/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TOWA_TEST_STR", "value")
	if got := environment.StringOr("TOWA_TEST_STR", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
	if got := environment.StringOr("TOWA_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TOWA_TEST_REQ", "present")
	v, err := environment.RequiredString("TOWA_TEST_REQ")
	if err != nil || v != "present" {
		t.Errorf("expected present, got %q (err %v)", v, err)
	}
	if _, err := environment.RequiredString("TOWA_TEST_REQ_UNSET"); err == nil {
		t.Error("expected error for unset required variable")
	}
}

func TestBoolOr(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"0", true, false},
		{"not-a-bool", true, true},
		{"", false, false},
	}
	for _, tc := range cases {
		t.Setenv("TOWA_TEST_BOOL", tc.value)
		if got := environment.BoolOr("TOWA_TEST_BOOL", tc.def); got != tc.want {
			t.Errorf("BoolOr(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("TOWA_TEST_INT", "42")
	if got := environment.IntOr("TOWA_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TOWA_TEST_INT", "nope")
	if got := environment.IntOr("TOWA_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7 for unparsable value, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("TOWA_TEST_DUR", "5m")
	if got := environment.DurationOr("TOWA_TEST_DUR", time.Second); got != 5*time.Minute {
		t.Errorf("expected 5m, got %v", got)
	}
	if got := environment.DurationOr("TOWA_TEST_DUR_UNSET", time.Second); got != time.Second {
		t.Errorf("expected default, got %v", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("TOWA_TEST_SLICE", "a, b ,,c")
	got := environment.StringSliceOr("TOWA_TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
