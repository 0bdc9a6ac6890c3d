package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/atelier-dev/atelier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, name, path string, created int64) *types.Session {
	return &types.Session{
		ID:          id,
		Name:        name,
		ProjectPath: path,
		Time:        types.SessionTime{Created: created, Updated: created},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(10)

	s, err := r.Register(newSession("id1", "alpha", "/tmp/proj", 100))
	require.NoError(t, err)
	assert.Equal(t, "id1", s.ID)

	byID, err := r.LookupByID("id1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/proj", byID.ProjectPath)

	byPath, err := r.LookupByPath("/tmp/proj")
	require.NoError(t, err)
	assert.Equal(t, "id1", byPath.ID)

	byName, err := r.LookupByName("alpha")
	require.NoError(t, err)
	assert.Equal(t, "id1", byName.ID)
}

func TestRegisterPathInUse(t *testing.T) {
	r := New(10)
	_, err := r.Register(newSession("id1", "a", "/tmp/proj", 1))
	require.NoError(t, err)

	// Same path, different id: second registration fails regardless of order.
	_, err = r.Register(newSession("id2", "b", "/tmp/proj", 2))
	assert.ErrorIs(t, err, ErrPathInUse)
}

func TestRegisterIDExists(t *testing.T) {
	r := New(10)
	_, err := r.Register(newSession("id1", "a", "/tmp/p1", 1))
	require.NoError(t, err)

	_, err = r.Register(newSession("id1", "b", "/tmp/p2", 2))
	assert.ErrorIs(t, err, ErrIDExists)
}

func TestRegisterLimit(t *testing.T) {
	r := New(3)
	for i := 0; i < 3; i++ {
		_, err := r.Register(newSession(fmt.Sprintf("id%d", i), "s", fmt.Sprintf("/tmp/p%d", i), int64(i)))
		require.NoError(t, err)
	}

	_, err := r.Register(newSession("id9", "s", "/tmp/p9", 9))
	assert.ErrorIs(t, err, ErrLimitReached)

	// Freeing a slot lets a new registration through.
	r.Unregister("id0")
	_, err = r.Register(newSession("id9", "s", "/tmp/p9", 9))
	assert.NoError(t, err)
}

func TestUnregisterFreesPath(t *testing.T) {
	r := New(10)
	_, err := r.Register(newSession("id1", "a", "/tmp/proj", 1))
	require.NoError(t, err)

	r.Unregister("id1")

	_, err = r.LookupByID("id1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Round trip: same path registers again without a stale entry.
	_, err = r.Register(newSession("id2", "b", "/tmp/proj", 2))
	assert.NoError(t, err)
}

func TestListAllSortedByCreation(t *testing.T) {
	r := New(10)
	_, err := r.Register(newSession("idC", "c", "/tmp/c", 300))
	require.NoError(t, err)
	_, err = r.Register(newSession("idA", "a", "/tmp/a", 100))
	require.NoError(t, err)
	_, err = r.Register(newSession("idB", "b", "/tmp/b", 200))
	require.NoError(t, err)

	all := r.ListAll()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"idA", "idB", "idC"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestUpdate(t *testing.T) {
	r := New(10)
	_, err := r.Register(newSession("id1", "old", "/tmp/p", 1))
	require.NoError(t, err)

	s := newSession("id1", "renamed", "/tmp/p", 1)
	s.Time.Updated = 50
	updated, err := r.Update(s)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = r.Update(newSession("ghost", "x", "/tmp/x", 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryCopiesSessions(t *testing.T) {
	r := New(10)
	original := newSession("id1", "a", "/tmp/p", 1)
	_, err := r.Register(original)
	require.NoError(t, err)

	original.Name = "mutated"

	got, err := r.LookupByID("id1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestConcurrentRegisterSinglePathWinner(t *testing.T) {
	r := New(100)

	const racers = 32
	var wg sync.WaitGroup
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Register(newSession(fmt.Sprintf("id%d", i), "s", "/tmp/contended", int64(i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	okCount := 0
	for err := range errs {
		if err == nil {
			okCount++
		} else {
			assert.ErrorIs(t, err, ErrPathInUse)
		}
	}
	assert.Equal(t, 1, okCount)
}
