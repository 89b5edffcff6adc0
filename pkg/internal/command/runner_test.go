package command

import (
	"context"
	"testing"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner(t *testing.T) {
	r := NewExecRunner()

	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCommand))
	assert.Equal(t, "boom", errors.GetErrorDetails(err)["stderr"])
}

func TestExecRunnerTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewExecRunner().Run(ctx, "sleep", "5")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrTimeout))
}

func TestWithSudo(t *testing.T) {
	name, args := WithSudo(false, "dnf", "install", "-y", "git")
	assert.Equal(t, "dnf", name)
	assert.Equal(t, []string{"install", "-y", "git"}, args)

	name, args = WithSudo(true, "dnf", "install", "-y", "git")
	assert.Equal(t, "sudo", name)
	assert.Equal(t, []string{"dnf", "install", "-y", "git"}, args)
}

func TestLookPath(t *testing.T) {
	assert.True(t, LookPath("sh"))
	assert.False(t, LookPath("definitely-not-a-real-binary-flux"))
}
