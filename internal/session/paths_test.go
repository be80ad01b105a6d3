package session

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsUnderSessionDir(t *testing.T) {
	dir := Dir("ops")
	for name, p := range map[string]string{
		"lock":   LockPath("ops"),
		"db":     DBPath("ops"),
		"config": SessionConfigPath("ops"),
		"log":    LogPath("ops"),
	} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%s path %q not under session dir %q", name, p, dir)
		}
	}
}

func TestDBPathFilename(t *testing.T) {
	if got := filepath.Base(DBPath("ops")); got != "fieldsync.db" {
		t.Errorf("db filename = %q, want fieldsync.db", got)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"main", "ops-team", "unit_7", "a"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "UPPER", "has space", "semi;colon", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}
