package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBareInvocationServes(t *testing.T) {
	root := newRootCmd()
	require.NotNil(t, root.RunE, "bare termrelay must start the server, not print help")

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
}

func TestGenTokenCommand(t *testing.T) {
	t.Setenv("TERMRELAY_SECRET", "s3cret")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"gen-token", "cozy-tiger-4829:devkey", "--config", filepath.Join(t.TempDir(), "absent.yaml")})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Connect token: ")
	assert.Contains(t, out.String(), "Valid for 5m0s")
}

func TestGenTokenRejectsMalformedPair(t *testing.T) {
	t.Setenv("TERMRELAY_SECRET", "s3cret")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"gen-token", "no-separator", "--config", filepath.Join(t.TempDir(), "absent.yaml")})

	assert.Error(t, root.Execute())
}
