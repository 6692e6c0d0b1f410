package build

import (
	"testing"
)

// TestCritical checks that a panic is called in debug mode, and that no panic
// happens when DEBUG is off (the standard build).
func TestCritical(t *testing.T) {
	k0 := "critical test killstring"
	killstring := "Critical error: critical test killstring\nPlease file a bug report against this repository.\n"
	var want interface{}
	if DEBUG {
		want = killstring
	}
	defer func() {
		r := recover()
		if r != want {
			t.Error("panic did not work:", r, killstring)
		}
	}()
	Critical(k0)
}

// TestCriticalVariadic checks that a panic is called in debug mode, and that
// no panic happens when DEBUG is off (the standard build).
func TestCriticalVariadic(t *testing.T) {
	k0 := "variadic"
	k1 := "critical"
	k2 := "test"
	k3 := "killstring"
	killstring := "Critical error: variadic critical test killstring\nPlease file a bug report against this repository.\n"
	var want interface{}
	if DEBUG {
		want = killstring
	}
	defer func() {
		r := recover()
		if r != want {
			t.Error("panic did not work:", r, killstring)
		}
	}()
	Critical(k0, k1, k2, k3)
}
