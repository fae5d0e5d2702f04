package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepoOverridesGlobal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	_, err := Get(root, KeyUserName)
	require.ErrorIs(t, err, ErrNotSet)

	require.NoError(t, SetGlobal(KeyUserName, "global ada"))
	value, err := Get(root, KeyUserName)
	require.NoError(t, err)
	require.Equal(t, "global ada", value)

	require.NoError(t, SetRepo(root, KeyUserName, "repo ada"))
	value, err = Get(root, KeyUserName)
	require.NoError(t, err)
	require.Equal(t, "repo ada", value)

	// The per-user value is still there for other checkouts.
	value, err = Get(t.TempDir(), KeyUserName)
	require.NoError(t, err)
	require.Equal(t, "global ada", value)

	value, err = Get("", KeyUserName)
	require.NoError(t, err)
	require.Equal(t, "global ada", value)
}

func TestSetOverwrites(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	require.NoError(t, SetRepo(root, KeyCompactInterval, "30m"))
	require.NoError(t, SetRepo(root, KeyCompactInterval, "2h"))
	value, err := Get(root, KeyCompactInterval)
	require.NoError(t, err)
	require.Equal(t, "2h", value)
}

func TestDottedKeysShareSections(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	require.NoError(t, SetRepo(root, KeyUserName, "ada"))
	require.NoError(t, SetRepo(root, KeyUserEmail, "ada@example.com"))

	name, err := Get(root, KeyUserName)
	require.NoError(t, err)
	require.Equal(t, "ada", name)
	email, err := Get(root, KeyUserEmail)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", email)
}

func TestGetDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	require.Equal(t, "1h", GetDefault(root, KeyCompactInterval, "1h"))
	require.NoError(t, SetRepo(root, KeyCompactInterval, "15m"))
	require.Equal(t, "15m", GetDefault(root, KeyCompactInterval, "1h"))
}
