package shellexec

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	exec, err := New(dir, 4096, nil, nil, nil)
	require.NoError(t, err)
	return exec
}

func TestRejectsPipeCharacter(t *testing.T) {
	exec := newTestExecutor(t)
	result, err := exec.Execute(context.Background(), "ls | grep foo")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Stderr, "disallowed character")
}

func TestRejectsNonWhitelistedCommand(t *testing.T) {
	exec := newTestExecutor(t)
	result, err := exec.Execute(context.Background(), "rm -rf /")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Stderr, "not whitelisted")
}

func TestRejectsPathTraversal(t *testing.T) {
	exec := newTestExecutor(t)
	result, err := exec.Execute(context.Background(), "cat ../../etc/passwd")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Stderr, "escapes the allowed directory")
}

func TestExecutesWhitelistedCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello\n"), 0o644))
	exec, err := New(dir, 4096, nil, nil, nil)
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), "cat f.txt")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "hello\n", result.Stdout)
}

func TestRejectsDisallowedFlag(t *testing.T) {
	exec := newTestExecutor(t)
	result, err := exec.Execute(context.Background(), "ls --recursive")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Stderr, "not allowed")
}

func TestRejectedCountIsRaceFreeUnderConcurrentExecute(t *testing.T) {
	exec := newTestExecutor(t)
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = exec.Execute(context.Background(), "rm -rf /")
		}()
	}
	wg.Wait()
	require.Equal(t, n, exec.RejectedCount())
}
