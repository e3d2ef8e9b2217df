package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestMnemonicBackupRestoresSameIdentity(t *testing.T) {
	m, _ := newTestManager(t, "")
	created, err := m.Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	phrase, err := ExportMnemonic(created)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if words := strings.Fields(phrase); len(words) != 24 {
		t.Fatalf("expected 24 words, got %d", len(words))
	}

	other, _ := newTestManager(t, "")
	restored, err := other.Restore("  " + strings.ReplaceAll(phrase, " ", "\n ") + " ")
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.Keys != created.Keys || restored.ID != created.ID {
		t.Fatal("restored identity differs")
	}
	loaded, err := other.Load()
	if err != nil {
		t.Fatalf("load restored failed: %v", err)
	}
	if loaded.Keys != created.Keys {
		t.Fatal("restored identity was not persisted")
	}
}

func TestRestoreRejectsInvalidMnemonic(t *testing.T) {
	m, _ := newTestManager(t, "")
	for _, phrase := range []string{"", "abandon abandon abandon", "legal winner thank year wave sausage worth useful legal winner thank yellow"} {
		if _, err := m.Restore(phrase); !errors.Is(err, ErrInvalidMnemonic) {
			t.Fatalf("%q: expected ErrInvalidMnemonic, got %v", phrase, err)
		}
	}
}
