package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/espalier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "espalier version "+espalier.Version+"\n", out.String())
}

func TestRunCommandNeedsPipeline(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"run"})
	defer rootCmd.SetArgs(nil)

	assert.Error(t, rootCmd.Execute())
}
