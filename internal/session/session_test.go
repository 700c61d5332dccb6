package session

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

const testSecret = "edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85"

func testPubKey(t *testing.T) string {
	t.Helper()
	pk, err := nostr.PublicKeyFromSecret(testSecret)
	require.NoError(t, err)
	return pk
}

func TestManager(t *testing.T) {
	m := NewManager()
	_, err := m.Require()
	require.ErrorIs(t, err, ErrNoSession)
	require.Empty(t, m.PubKey())

	signer, err := NewKeySigner(testSecret)
	require.NoError(t, err)
	m.Login(signer)
	require.Equal(t, testPubKey(t), m.PubKey())

	s, err := m.Require()
	require.NoError(t, err)
	evt := types.Event{Kind: 7, Content: "+", CreatedAt: 1}
	require.NoError(t, s.Signer.Sign(&evt))
	require.True(t, nostr.ValidateEventSignature(&evt))

	m.Logout()
	require.Nil(t, m.Current())
}

func TestKeyringStorage(t *testing.T) {
	keyring.MockInit()
	t.Setenv(SecretKeyEnv, "")

	_, err := LoadSigner()
	require.ErrorIs(t, err, ErrNoSession)

	signer, err := StoreKey(testSecret)
	require.NoError(t, err)
	require.Equal(t, testPubKey(t), signer.PubKey())

	loaded, err := LoadSigner()
	require.NoError(t, err)
	require.Equal(t, testPubKey(t), loaded.PubKey())

	require.NoError(t, EraseKey())
	require.NoError(t, EraseKey())
	_, err = LoadSigner()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestLoadSignerFromEnv(t *testing.T) {
	keyring.MockInit()
	t.Setenv(SecretKeyEnv, testSecret)

	signer, err := LoadSigner()
	require.NoError(t, err)
	require.Equal(t, testPubKey(t), signer.PubKey())

	t.Setenv(SecretKeyEnv, "not-a-key")
	_, err = LoadSigner()
	require.Error(t, err)
}

func TestStoreKeyRejectsGarbage(t *testing.T) {
	keyring.MockInit()
	_, err := StoreKey("npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6")
	require.Error(t, err)
}
