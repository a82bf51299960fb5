package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"lora-runner/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCommand(t *testing.T) {
	objects := t.TempDir()
	t.Setenv("LOCAL_STORAGE_DIR", objects)

	provider := storage.NewLocalProvider(objects)
	_, err := provider.PutObject(context.Background(), "loras", "U1/M1.safetensors", bytes.NewReader([]byte("weights")), "TENSOR")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out", "M1.safetensors")
	root := newRootCmd()
	root.SetArgs([]string{"fetch", "loras", "U1/M1.safetensors", dest})
	require.NoError(t, root.ExecuteContext(context.Background()))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
}

func TestRunCommandRequiresArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestRunCommandFlags(t *testing.T) {
	a := &app{}
	c := a.runCmd()
	require.NoError(t, c.ParseFlags([]string{"-r", "-n", "T1", "-p"}))

	recoverFlag, err := c.Flags().GetBool("recover")
	require.NoError(t, err)
	assert.True(t, recoverFlag)

	name, err := c.Flags().GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "T1", name)

	prepare, err := c.Flags().GetBool("prepare")
	require.NoError(t, err)
	assert.True(t, prepare)
}
