package attacher

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"memlink/handle_table"
	"memlink/process"
	"memlink/process_fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup() (*process_fake.Platform, *handle_table.HandleTable, *Attacher) {
	platform := process_fake.New()
	table := handle_table.New(platform)
	return platform, table, New(platform, table)
}

func TestAttachIsIdempotent(t *testing.T) {
	platform, table, a := setup()
	platform.Add(&process_fake.Process{PID: 100})

	id1, h1, err := a.Attach(100)
	require.NoError(t, err)
	id2, h2, err := a.Attach(100)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Same(t, h1, h2)

	opens, _ := platform.Counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, table.Len())
}

func TestConcurrentAttachOpensOnce(t *testing.T) {
	platform, _, a := setup()
	platform.Add(&process_fake.Process{PID: 100})

	ids := make([]process.HandleID, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := a.Attach(100)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	opens, _ := platform.Counts()
	assert.Equal(t, 1, opens)
}

func TestAttachErrors(t *testing.T) {
	platform, table, a := setup()
	platform.Add(&process_fake.Process{
		PID:     7,
		OpenErr: fmt.Errorf("%w: protected", process.ErrAccessDenied),
	})

	_, _, err := a.Attach(12345)
	assert.ErrorIs(t, err, process.ErrProcessNotFound)

	_, _, err = a.Attach(7)
	assert.ErrorIs(t, err, process.ErrAccessDenied)

	_, _, err = a.Attach(-1)
	assert.ErrorIs(t, err, process.ErrInvalidArgument)

	assert.Equal(t, 0, table.Len())
}

func TestAttachReplacesStaleHandle(t *testing.T) {
	platform, table, a := setup()
	platform.Add(&process_fake.Process{PID: 100})

	id1, h1, err := a.Attach(100)
	require.NoError(t, err)

	// the target exits and its pid is reused
	platform.Exit(100)
	assert.ErrorIs(t, a.Alive(h1), process.ErrProcessGone)
	platform.Add(&process_fake.Process{PID: 100})

	id2, h2, err := a.Attach(100)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.False(t, h1.Valid())
	assert.True(t, h2.Valid())
	assert.NoError(t, a.Alive(h2))

	opens, closes := platform.Counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, table.Len())
}

func TestAttachAfterDetach(t *testing.T) {
	platform, table, a := setup()
	platform.Add(&process_fake.Process{PID: 100})

	id1, _, err := a.Attach(100)
	require.NoError(t, err)
	require.NoError(t, table.Release(id1))

	id2, _, err := a.Attach(100)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestInfoSelf(t *testing.T) {
	info, err := Info(process.ProcessID(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, process.ProcessID(os.Getpid()), info.PID)
	assert.NotEmpty(t, info.Name)
}

func TestFindByNameRejectsEmpty(t *testing.T) {
	_, err := FindByName("")
	assert.ErrorIs(t, err, process.ErrInvalidArgument)
}
