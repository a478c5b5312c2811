package labeldb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// LabelDB tracks labeling progress across sessions.
// Label files on disk are the source of truth. This DB only remembers which images
// have been saved, and how many labels they had, so that we can jump to the next
// unlabeled image without opening every label file.
type LabelDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// ImageStatus is the progress of a single image
type ImageStatus struct {
	BaseModel
	Path      string      `json:"path"`      // Absolute path of the image
	Split     string      `json:"split"`     // "train", "val", or empty
	Labels    int         `json:"labels"`    // Number of labels at last save
	Predicted int         `json:"predicted"` // Number of those labels that came from a model
	SavedAt   dbh.IntTime `json:"savedAt"`
}

func (ImageStatus) TableName() string {
	return "image_status"
}

// Open or create a label progress DB
func Open(log logs.Log, dbFilename string) (*LabelDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open label database %v: %w", dbFilename, err)
	}
	return &LabelDB{
		Log: log,
		DB:  db,
	}, nil
}

func (l *LabelDB) Close() error {
	sqlDB, err := l.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSave remembers that the labels of an image were written to disk
func (l *LabelDB) RecordSave(path, split string, labels, predicted int) error {
	now := dbh.MakeIntTime(time.Now())
	return l.DB.Exec("INSERT INTO image_status (path, split, labels, predicted, saved_at) VALUES (?, ?, ?, ?, ?)"+
		" ON CONFLICT(path) DO UPDATE SET split = excluded.split, labels = excluded.labels, predicted = excluded.predicted, saved_at = excluded.saved_at",
		path, split, labels, predicted, now).Error
}

// Status returns nil if the image has never been saved
func (l *LabelDB) Status(path string) (*ImageStatus, error) {
	st := []ImageStatus{}
	if err := l.DB.Where("path = ?", path).Find(&st).Error; err != nil {
		return nil, err
	}
	if len(st) == 0 {
		return nil, nil
	}
	return &st[0], nil
}

// LabeledSet returns the subset of paths that were saved with at least one label
func (l *LabelDB) LabeledSet(paths []string) (map[string]bool, error) {
	result := map[string]bool{}
	// Stay well below SQLite's host parameter limit
	const batchSize = 500
	for start := 0; start < len(paths); start += batchSize {
		end := min(start+batchSize, len(paths))
		found := []string{}
		if err := l.DB.Model(&ImageStatus{}).Where("path IN ? AND labels > 0", paths[start:end]).Pluck("path", &found).Error; err != nil {
			return nil, err
		}
		for _, p := range found {
			result[p] = true
		}
	}
	return result, nil
}
