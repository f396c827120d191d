package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := NewBoltDB(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSchemaVersion(t *testing.T) {
	db := newTestDB(t)

	version, err := db.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(CurrentSchemaVersion), version)
	require.NoError(t, db.Ping())
}

func TestSaveAndGetInstance(t *testing.T) {
	db := newTestDB(t)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	record := &InstanceRecord{
		ID:           "id-1",
		Name:         "Alpha",
		Endpoint:     "http://a.example.com",
		AccessToken:  "tok",
		RefreshToken: "ref",
		Expires:      expires,
	}
	require.NoError(t, db.SaveInstance(record))

	assert.Equal(t, uint64(1), record.Version)
	assert.False(t, record.Created.IsZero())
	assert.False(t, record.Updated.IsZero())

	got, err := db.GetInstance("id-1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, "tok", got.AccessToken)
	assert.True(t, expires.Equal(got.Expires))

	byName, err := db.GetInstanceByName("Alpha")
	require.NoError(t, err)
	assert.Equal(t, "id-1", byName.ID)

	_, err = db.GetInstance("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetInstanceByName("Beta")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.GetInstance("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSaveInstanceUniqueness(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "1", Name: "Alpha", Endpoint: "http://a.example.com"}))

	err := db.SaveInstance(&InstanceRecord{ID: "2", Name: "Alpha", Endpoint: "http://b.example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = db.SaveInstance(&InstanceRecord{ID: "3", Name: "Beta", Endpoint: "http://a.example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	count, err := db.CountInstances()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	first, err := db.GetInstance("1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", first.Name)
}

func TestSaveInstanceRenameMovesIndex(t *testing.T) {
	db := newTestDB(t)

	record := &InstanceRecord{ID: "1", Name: "Alpha", Endpoint: "http://a.example.com"}
	require.NoError(t, db.SaveInstance(record))
	created := record.Created

	record.Name = "Gamma"
	require.NoError(t, db.SaveInstance(record))
	assert.Equal(t, uint64(2), record.Version)
	assert.True(t, created.Equal(record.Created))

	_, err := db.GetInstanceByName("Alpha")
	assert.ErrorIs(t, err, ErrNotFound)

	// the released name is free again
	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "2", Name: "Alpha", Endpoint: "http://b.example.com"}))
}

func TestSaveInstanceVersionConflict(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "1", Name: "Alpha", Endpoint: "http://a.example.com"}))

	first, err := db.GetInstance("1")
	require.NoError(t, err)
	second, err := db.GetInstance("1")
	require.NoError(t, err)

	first.AccessToken = "from-first"
	require.NoError(t, db.SaveInstance(first))

	second.AccessToken = "from-second"
	err = db.SaveInstance(second)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := db.GetInstance("1")
	require.NoError(t, err)
	assert.Equal(t, "from-first", stored.AccessToken)
	assert.Equal(t, uint64(1), second.Version, "failed save must not touch the caller's record")
}

func TestConcurrentInsertsSameName(t *testing.T) {
	db := newTestDB(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.SaveInstance(&InstanceRecord{
				ID:       string(rune('a' + i)),
				Name:     "Same",
				Endpoint: "http://" + string(rune('a'+i)) + ".example.com",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrDuplicate)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestFindInstancesByEndpointPrefix(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "1", Name: "A", Endpoint: "http://a.example.com"}))
	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "2", Name: "B", Endpoint: "http://b.example.com"}))
	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "3", Name: "B2", Endpoint: "http://b.example.com/core"}))

	found, err := db.FindInstancesByEndpointPrefix("http://a.")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1", found[0].ID)

	found, err = db.FindInstancesByEndpointPrefix("http://b.example.com")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = db.FindInstancesByEndpointPrefix("https://")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = db.FindInstancesByEndpointPrefix("")
	require.NoError(t, err)
	assert.Len(t, found, 3)
}

func TestDeleteInstance(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "1", Name: "Alpha", Endpoint: "http://a.example.com"}))
	require.NoError(t, db.DeleteInstance("1"))

	_, err := db.GetInstance("1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.DeleteInstance("1")
	assert.ErrorIs(t, err, ErrNotFound)

	// a stale copy of the deleted record is not resurrected
	err = db.SaveInstance(&InstanceRecord{ID: "1", Name: "Alpha", Endpoint: "http://a.example.com", Version: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	// name and endpoint are released
	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "2", Name: "Alpha", Endpoint: "http://a.example.com"}))

	records, err := db.ListInstances()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0].ID)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBoltDB(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, db.SaveInstance(&InstanceRecord{ID: "1", Name: "Alpha", Endpoint: "http://a.example.com"}))
	require.NoError(t, db.Close())

	db, err = NewBoltDB(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetInstanceByName("Alpha")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
}
