package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosCommand(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"scenarios", "--run", "logoff$", "--state-dir", t.TempDir()})

	require.NoError(t, root.Execute())
	assert.Equal(t, "capflow-logoff\ndot1x-logoff\n", out.String())
}

func TestScenariosCommandBadFilter(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"scenarios", "--run", "("})

	assert.ErrorContains(t, root.Execute(), "parse --run")
}

func TestCompileFilter(t *testing.T) {
	re, err := compileFilter("")
	require.NoError(t, err)
	assert.Nil(t, re)

	re, err = compileFilter("^some-logged-on/")
	require.NoError(t, err)
	assert.True(t, re.MatchString("some-logged-on/both"))
	assert.False(t, re.MatchString("no-logon"))
}

func TestListCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"ls", "--state-dir", t.TempDir()})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "KIND")
}
