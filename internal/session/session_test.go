package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestAllows(t *testing.T) {
	admin := &Session{AccessToken: "t", UserName: "root", Role: RoleAdmin}
	user := &Session{AccessToken: "t", UserName: "op", Role: RoleUser}
	var none *Session

	assert.True(t, admin.Allows(RoleAdmin))
	assert.False(t, admin.Allows(RoleUser))
	assert.True(t, admin.Allows())
	assert.True(t, user.Allows(RoleAdmin, RoleUser))
	assert.False(t, none.Allows())
	assert.False(t, (&Session{Role: RoleUser}).Allows(RoleUser))

	assert.True(t, admin.IsAdmin())
	assert.False(t, admin.IsUser())
	assert.True(t, user.IsUser())
	assert.False(t, none.IsAdmin())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	r, err = ParseRole("user")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, r)

	_, err = ParseRole("guest")
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	st := NewStore(path)

	_, err := st.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	s := &Session{AccessToken: "abc", UserName: "op", Role: RoleUser}
	require.NoError(t, st.Save(s))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, s, got)

	require.NoError(t, st.Clear())
	require.NoError(t, st.Clear())
	_, err = st.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStoreRejectsIncomplete(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "session.json"))
	assert.Error(t, st.Save(&Session{UserName: "op"}))

	require.NoError(t, os.WriteFile(st.Path(), []byte(`{"userName":"op"}`), 0600))
	_, err := st.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, os.WriteFile(st.Path(), []byte(`{`), 0600))
	_, err = st.Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	st := NewKeyringStore()

	_, err := st.Load()
	assert.ErrorIs(t, err, ErrNoSession)
	require.NoError(t, st.Clear())

	s := &Session{AccessToken: "abc", UserName: "root", Role: RoleAdmin}
	require.NoError(t, st.Save(s))
	got, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, s, got)

	assert.Error(t, st.Save(&Session{UserName: "x"}))

	require.NoError(t, st.Clear())
	_, err = st.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}
