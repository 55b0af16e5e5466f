package version

import "testing"

func TestFull(t *testing.T) {
	if Get() == "" {
		t.Fatal("embedded version is empty")
	}

	old := commit
	defer func() { commit = old }()

	commit = ""
	if got := Full(); got != Get() {
		t.Errorf("Full() = %q, want %q", got, Get())
	}
	commit = " abc123\n"
	if got, want := Full(), Get()+"+abc123"; got != want {
		t.Errorf("Full() = %q, want %q", got, want)
	}
}
