package queue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/eventsock/internal/lockfile"
)

func sampleEntries() []Entry {
	return []Entry{
		{Name: "audio:mute:on", Payload: json.RawMessage(`{"tid":"t1","cid":"CON-1"}`)},
		{Name: "text", Payload: json.RawMessage(`{"tid":"t2","body":{"text":"hi"}}`)},
		{Name: "member:invite", Payload: json.RawMessage(`{"tid":"t3"}`)},
	}
}

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "state", "queue.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), "requests")
			require.NoError(t, err)
			return s
		},
	}
}

func TestPersistThenLoadAndClear(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(open(t))
			defer q.Close()

			require.NoError(t, q.Persist(sampleEntries()))

			got, err := q.LoadAndClear()
			require.NoError(t, err)
			require.Len(t, got, 3)
			for i, want := range sampleEntries() {
				assert.Equal(t, want.Name, got[i].Name)
				assert.JSONEq(t, string(want.Payload), string(got[i].Payload))
			}

			again, err := q.LoadAndClear()
			require.NoError(t, err)
			assert.NotNil(t, again)
			assert.Empty(t, again)
		})
	}
}

func TestPersistOverwritesPreviousSnapshot(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(open(t))
			defer q.Close()

			require.NoError(t, q.Persist(sampleEntries()))
			require.NoError(t, q.Persist(sampleEntries()[1:2]))

			got, err := q.LoadAndClear()
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "text", got[0].Name)
		})
	}
}

func TestLoadWithoutSnapshotIsEmpty(t *testing.T) {
	q := New(NewMemoryStore())

	got, err := q.LoadAndClear()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersistEmptyWritesEmptyArray(t *testing.T) {
	store := NewMemoryStore()
	q := New(store)

	require.NoError(t, q.Persist(nil))

	data, found, err := store.Read()
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `[]`, string(data))
}

func TestSnapshotWireFormat(t *testing.T) {
	store := NewMemoryStore()
	q := New(store)

	require.NoError(t, q.Persist(sampleEntries()[:1]))

	data, _, err := store.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"n":"audio:mute:on","d":{"tid":"t1","cid":"CON-1"}}]`, string(data))
}

func TestCorruptSnapshotIsDiscarded(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Write([]byte(`{not json`)))
	q := New(store)

	got, err := q.LoadAndClear()
	require.ErrorIs(t, err, ErrCorruptSnapshot)
	assert.Empty(t, got)

	_, found, _ := store.Read()
	assert.False(t, found)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	s1, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, New(s1).Persist(sampleEntries()))
	require.NoError(t, s1.Close())

	s2, err := NewFileStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := New(s2).LoadAndClear()
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	s1, err := NewFileStore(path)
	require.NoError(t, err)
	defer s1.Close()

	_, err = NewFileStore(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lockfile.ErrLocked))
}

func TestSQLiteStoreKeepsQueuesApart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	a, err := NewSQLiteStore(dbPath, "a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteStore(dbPath, "b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, New(a).Persist(sampleEntries()))

	got, err := New(b).LoadAndClear()
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = New(a).LoadAndClear()
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestNewSQLiteStoreRequiresName(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"), "")
	assert.Error(t, err)
}
