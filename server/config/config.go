package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/codec"
	"github.com/cyclopcam/labeler/pkg/session"
)

type Config struct {
	Format            string  `json:"format"`            // Label file format: json, yolo, or coco
	HistoryDepth      int     `json:"historyDepth"`      // Number of undo steps per document
	DirtyNavigation   string  `json:"dirtyNavigation"`   // Leaving a document with unsaved changes: autosave, prompt, or discard
	UnmappedClasses   string  `json:"unmappedClasses"`   // Label files that reference unknown classes: fail, or create
	AutoExtendClasses bool    `json:"autoExtendClasses"` // Create classes for unknown prediction labels, instead of dropping them
	ClassRemoval      string  `json:"classRemoval"`      // Removing a class that is in use, when the request does not say: block, or cascade
	DuplicateIoU      float64 `json:"duplicateIoU"`      // Drop predictions that overlap a label of the same class by at least this much. 0 disables.
	PredictorURL      string  `json:"predictorURL"`      // Inference service, eg http://localhost:8081/predict. Empty disables prediction.
	ProgressDB        string  `json:"progressDB"`        // SQLite file that records which images have been labeled. Empty disables.
	Listen            string  `json:"listen"`            // HTTP listen address
}

func DefaultConfig() *Config {
	return &Config{
		Format:          string(codec.FormatJSON),
		HistoryDepth:    session.DefaultHistoryDepth,
		DirtyNavigation: "prompt",
		UnmappedClasses: "fail",
		ClassRemoval:    "block",
		DuplicateIoU:    session.DefaultDuplicateIoU,
		Listen:          ":8080",
	}
}

// LoadConfig reads a JSON config file. Fields that are missing from the file keep their defaults.
// If the file does not exist, the defaults are returned.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		filename = "labeler.json"
	}
	raw, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks the config, and fills in empty fields with defaults
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.HistoryDepth < 0 {
		return fmt.Errorf("historyDepth may not be negative")
	}
	if !(c.DuplicateIoU >= 0 && c.DuplicateIoU <= 1) {
		return fmt.Errorf("duplicateIoU must be between 0 and 1")
	}
	removal, err := classes.ParseRemovePolicy(c.ClassRemoval)
	if err != nil {
		return err
	}
	if removal == classes.RemoveReassign {
		return fmt.Errorf("classRemoval may not be 'reassign', because reassignment needs a target class")
	}
	_, err = c.SessionConfig()
	return err
}

// SessionConfig converts the config into the policies of a session
func (c *Config) SessionConfig() (session.Config, error) {
	s := session.Config{
		HistoryDepth:      c.HistoryDepth,
		AutoExtendClasses: c.AutoExtendClasses,
		DuplicateIoU:      c.DuplicateIoU,
	}
	var err error
	if s.Format, err = codec.ParseFormat(c.Format); err != nil {
		return s, err
	}
	if s.Unmapped, err = codec.ParseUnmappedPolicy(c.UnmappedClasses); err != nil {
		return s, err
	}
	if s.DirtyNavigation, err = session.ParseDirtyPolicy(c.DirtyNavigation); err != nil {
		return s, err
	}
	if s.ClassRemoval, err = classes.ParseRemovePolicy(c.ClassRemoval); err != nil {
		return s, err
	}
	return s, nil
}
