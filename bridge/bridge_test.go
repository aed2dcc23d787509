package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"memlink/config"
	"memlink/process"
	"memlink/process_fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envDoubleInit = "MEMLINK_TEST_DOUBLE_INIT"

func TestMain(m *testing.M) {
	runTarget()

	if os.Getenv(envDoubleInit) == "1" {
		Init(WithPlatform(process_fake.New()), WithConfig(config.Default()))
		Init(WithPlatform(process_fake.New()), WithConfig(config.Default()))
		// unreachable when the guard works
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func TestSecondInitIsFatal(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), envDoubleInit+"=1")
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected a non-zero exit, got %v", err)
	assert.Equal(t, ExitMultipleInit, exitErr.ExitCode())
	assert.Contains(t, stderrBuf.String(), FatalMessage)
}

func TestSecondInitStopsBeforeWork(t *testing.T) {
	oldExit, oldStderr := exit, stderr
	t.Cleanup(func() {
		exit, stderr = oldExit, oldStderr
		initialized.Store(false)
	})
	initialized.Store(false)

	code := -1
	exit = func(c int) { code = c }
	var buf bytes.Buffer
	stderr = &buf

	first := Init(WithPlatform(process_fake.New()), WithConfig(config.Default()))
	require.NotNil(t, first)
	assert.Equal(t, -1, code)

	platform := process_fake.New()
	second := Init(WithPlatform(platform), WithConfig(config.Default()))
	assert.Nil(t, second)
	assert.Equal(t, ExitMultipleInit, code)
	assert.Equal(t, FatalMessage+"\n", buf.String())
}

func fakeContext(t *testing.T, c *config.Config) (*Context, *process_fake.Platform, *process_fake.Region) {
	t.Helper()

	platform := process_fake.New()
	scratch := &process_fake.Region{Address: 0x4000, Perms: "rw-p", Data: make([]byte, 0x20)}
	platform.Add(&process_fake.Process{
		PID: 300,
		Regions: []*process_fake.Region{
			scratch,
			{Address: 0x8000, Perms: "r--p", Data: []byte{0xAA}},
		},
	})

	if c == nil {
		c = config.Default()
	}
	ctx := newContext(WithPlatform(platform), WithConfig(c))
	t.Cleanup(func() { ctx.Teardown() })
	return ctx, platform, scratch
}

func TestAttachReadWriteDetach(t *testing.T) {
	ctx, platform, scratch := fakeContext(t, nil)
	copy(scratch.Data, []byte{1, 2, 3, 4})

	id, err := ctx.AttachTo(300)
	require.NoError(t, err)

	again, err := ctx.AttachTo(300)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	data, err := ctx.ReadBytes(id, 0x4000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	n, err := ctx.WriteBytes(id, 0x4010, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	data, err = ctx.ReadBytes(id, 0x4010, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data)

	base, err := ctx.BaseAddress(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4000), base)

	regions, err := ctx.Regions(id)
	require.NoError(t, err)
	assert.Len(t, regions, 2)

	assert.NoError(t, ctx.Detach(id))
	assert.NoError(t, ctx.Detach(id))

	_, err = ctx.ReadBytes(id, 0x4000, 4)
	assert.Equal(t, StatusHandleNotFound, StatusOf(err))

	opens, closes := platform.Counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

func TestFaultStatuses(t *testing.T) {
	ctx, platform, _ := fakeContext(t, nil)

	_, err := ctx.AttachTo(999)
	assert.Equal(t, StatusProcessNotFound, StatusOf(err))

	_, err = ctx.AttachTo(-5)
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))

	id, err := ctx.AttachTo(300)
	require.NoError(t, err)

	_, err = ctx.ReadBytes(id, 0x4000, 0)
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))

	_, err = ctx.ReadBytes(id, 0x1000, 4)
	assert.Equal(t, StatusAccessDenied, StatusOf(err))

	_, err = ctx.WriteBytes(id, 0x8000, []byte{1})
	assert.Equal(t, StatusReadOnlyTarget, StatusOf(err))

	_, err = ctx.ReadBytes(id, 0x401C, 8)
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, StatusPartialTransfer, f.Status)
	assert.Equal(t, uint64(4), f.Transferred)
	assert.Len(t, f.Partial, 4)
	assert.ErrorIs(t, err, process.ErrPartialTransfer)

	n, err := ctx.WriteBytes(id, 0x401E, []byte{1, 2, 3})
	assert.Equal(t, StatusPartialTransfer, StatusOf(err))
	assert.Equal(t, 2, n)

	platform.Exit(300)
	_, err = ctx.ReadBytes(id, 0x4000, 4)
	assert.Equal(t, StatusProcessGone, StatusOf(err))
	assert.ErrorIs(t, err, process.ErrProcessGone)

	_, err = ctx.WriteBytes(id, 0x4000, []byte{1})
	assert.Equal(t, StatusProcessGone, StatusOf(err))
}

func TestReadOnlyConfig(t *testing.T) {
	c := config.Default()
	c.ReadOnly = true
	ctx, _, scratch := fakeContext(t, c)

	id, err := ctx.AttachTo(300)
	require.NoError(t, err)

	_, err = ctx.WriteBytes(id, 0x4000, []byte{9})
	assert.Equal(t, StatusAccessDenied, StatusOf(err))
	assert.Equal(t, byte(0), scratch.Data[0])
}

func TestTeardownDetachesAll(t *testing.T) {
	ctx, platform, _ := fakeContext(t, nil)
	platform.Add(&process_fake.Process{PID: 301})

	id1, err := ctx.AttachTo(300)
	require.NoError(t, err)
	_, err = ctx.AttachTo(301)
	require.NoError(t, err)

	require.NoError(t, ctx.Teardown())

	_, closes := platform.Counts()
	assert.Equal(t, 2, closes)

	_, err = ctx.ReadBytes(id1, 0x4000, 1)
	assert.Equal(t, StatusHandleNotFound, StatusOf(err))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusProcessGone, StatusOf(fmt.Errorf("x: %w", process.ErrProcessGone)))
	assert.Equal(t, StatusPlatformUnsupported, StatusOf(process.ErrPlatformUnsupported))
	assert.Equal(t, StatusInternal, StatusOf(errors.New("boom")))
	assert.Equal(t, "read-only-target", StatusReadOnlyTarget.String())
	assert.Equal(t, "status(77)", Status(77).String())

	// faults are not wrapped twice
	f := fault(process.ErrAccessDenied)
	assert.Same(t, f, fault(fmt.Errorf("outer: %w", f)))
	assert.Nil(t, fault(nil))
}
