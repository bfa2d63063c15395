package bootstrap

import "testing"

func TestExcludeKnown(t *testing.T) {
	devices := []BlockDevice{
		{Name: "sda", Serial: "AAA"},
		{Name: "sdb", Serial: "BBB"},
		{Name: "sdc", Serial: "CCC"},
	}

	kept := ExcludeKnown(devices, []string{"BBB"})
	if len(kept) != 2 {
		t.Fatalf("expected 2 devices to remain, got %d", len(kept))
	}
	for _, d := range kept {
		if d.Serial == "BBB" {
			t.Fatalf("expected excluded serial BBB to be filtered out")
		}
	}
}

func TestExcludeKnown_EmptyExcludeListReturnsAllDevices(t *testing.T) {
	devices := []BlockDevice{{Name: "sda", Serial: "AAA"}}

	kept := ExcludeKnown(devices, nil)
	if len(kept) != 1 {
		t.Fatalf("expected all devices to remain, got %d", len(kept))
	}
}
