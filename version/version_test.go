package version

import "testing"

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != "dev" {
		t.Fatalf("expected dev default, got %q", info.Version)
	}
}

func TestString(t *testing.T) {
	if (Info{Version: "1.2.0"}).String() != "1.2.0" {
		t.Fatal("version without commit renders bare")
	}
	got := (Info{Version: "1.2.0", GitCommit: "abc1234"}).String()
	if got != "1.2.0 (abc1234)" {
		t.Fatalf("unexpected rendering %q", got)
	}
}
