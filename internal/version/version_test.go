package version

import "testing"

func TestString(t *testing.T) {
	old := [3]string{Version, Commit, BuildTime}
	t.Cleanup(func() { Version, Commit, BuildTime = old[0], old[1], old[2] })

	Version, Commit, BuildTime = "1.2.3", "abc123", "2026-01-02T03:04:05Z"

	if got, want := String(), "1.2.3 (abc123) built 2026-01-02T03:04:05Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := Server(), "taprace/1.2.3"; got != want {
		t.Errorf("Server() = %q, want %q", got, want)
	}
}
