package labeldb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) *LabelDB {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "test-labeldb.sqlite")
	db, err := Open(logs.NewTestingLog(t), fn)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		os.Remove(fn)
	})
	return db
}

func TestRecordSave(t *testing.T) {
	db := createTestDB(t)

	st, err := db.Status("/data/a.png")
	require.NoError(t, err)
	require.Nil(t, st)

	require.NoError(t, db.RecordSave("/data/a.png", "train", 3, 1))
	st, err = db.Status("/data/a.png")
	require.NoError(t, err)
	require.Equal(t, "train", st.Split)
	require.Equal(t, 3, st.Labels)
	require.Equal(t, 1, st.Predicted)
	require.False(t, st.SavedAt.IsZero())

	// A second save replaces the first
	require.NoError(t, db.RecordSave("/data/a.png", "train", 0, 0))
	st, err = db.Status("/data/a.png")
	require.NoError(t, err)
	require.Equal(t, 0, st.Labels)

	var count int64
	require.NoError(t, db.DB.Model(&ImageStatus{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestLabeledSet(t *testing.T) {
	db := createTestDB(t)
	require.NoError(t, db.RecordSave("/data/a.png", "", 2, 0))
	require.NoError(t, db.RecordSave("/data/b.png", "", 0, 0))
	require.NoError(t, db.RecordSave("/other/c.png", "", 1, 0))

	set, err := db.LabeledSet([]string{"/data/a.png", "/data/b.png", "/data/d.png"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"/data/a.png": true}, set)

	set, err = db.LabeledSet(nil)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestReopen(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "reopen.sqlite")
	db, err := Open(logs.NewTestingLog(t), fn)
	require.NoError(t, err)
	require.NoError(t, db.RecordSave("/x.png", "val", 4, 4))
	require.NoError(t, db.Close())

	db, err = Open(logs.NewTestingLog(t), fn)
	require.NoError(t, err)
	defer db.Close()
	st, err := db.Status("/x.png")
	require.NoError(t, err)
	require.Equal(t, 4, st.Labels)
}
