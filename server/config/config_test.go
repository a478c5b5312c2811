package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/session"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	s, err := cfg.SessionConfig()
	require.NoError(t, err)
	require.Equal(t, session.DefaultConfig(), s)
}

func TestLoadConfigFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "labeler.json")
	require.NoError(t, os.WriteFile(fn, []byte(`{"format": "yolo", "dirtyNavigation": "autosave", "classRemoval": "cascade", "unmappedClasses": "create"}`), 0666))
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 50, cfg.HistoryDepth)

	s, err := cfg.SessionConfig()
	require.NoError(t, err)
	require.Equal(t, codec.FormatYOLO, s.Format)
	require.Equal(t, session.DirtyAutosave, s.DirtyNavigation)
	require.Equal(t, classes.RemoveCascade, s.ClassRemoval)
	require.Equal(t, codec.UnmappedCreate, s.Unmapped)
}

func TestValidate(t *testing.T) {
	bad := []func(c *Config){
		func(c *Config) { c.Format = "xml" },
		func(c *Config) { c.DirtyNavigation = "ask" },
		func(c *Config) { c.ClassRemoval = "reassign" },
		func(c *Config) { c.UnmappedClasses = "ignore" },
		func(c *Config) { c.HistoryDepth = -1 },
		func(c *Config) { c.DuplicateIoU = 1.5 },
	}
	for i, mod := range bad {
		c := DefaultConfig()
		mod(c)
		require.Error(t, c.Validate(), "case %v", i)
	}

	fn := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(fn, []byte(`{"format": `), 0666))
	_, err := LoadConfig(fn)
	require.Error(t, err)
}
