//go:build !integration

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"bytes"
	"encoding/hex"
	"testing"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 3414 A.3.1 and A.3.2
func TestPasswordToKeyRFC3414(t *testing.T) {
	engineID := mustHex(t, "000000000000000000000002")
	cases := []struct {
		name string
		auth int
		ku   string
		kul  string
	}{
		{"md5", AUTH_PROTOCOL_MD5, "9faf3283884e92834ebc9847d8edd963", "526f5eed9fcce26f8964c2930787d82b"},
		{"sha", AUTH_PROTOCOL_SHA, "9fb5cc0381497b3793528939ff788d5d79145211", "6695febc9288e36282235fc7151f128497b38f3f"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ku, err := PasswordToKey([]byte("maplesyrup"), c.auth)
			require.NoError(t, err)
			assert.Equal(t, c.ku, hex.EncodeToString(ku))

			kul, err := LocalizeKey(ku, engineID, c.auth)
			require.NoError(t, err)
			assert.Equal(t, c.kul, hex.EncodeToString(kul))

			direct, err := makeLocalizedKeyFromBytes([]byte("maplesyrup"), engineID, c.auth)
			require.NoError(t, err)
			assert.Equal(t, kul, direct)
		})
	}
}

func TestLocalizationIsEngineBound(t *testing.T) {
	ku, err := PasswordToKey([]byte("authpassword"), AUTH_PROTOCOL_SHA256)
	require.NoError(t, err)
	a1, _ := LocalizeKey(ku, []byte{0x80, 0, 0x1f, 0x88, 0x05, 1}, AUTH_PROTOCOL_SHA256)
	a2, _ := LocalizeKey(ku, []byte{0x80, 0, 0x1f, 0x88, 0x05, 1}, AUTH_PROTOCOL_SHA256)
	b, _ := LocalizeKey(ku, []byte{0x80, 0, 0x1f, 0x88, 0x05, 2}, AUTH_PROTOCOL_SHA256)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 32)

	_, err = PasswordToKey(nil, AUTH_PROTOCOL_MD5)
	assert.ErrorIs(t, err, ErrMissingKey)
	_, err = PasswordToKey([]byte("x"), 99)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestDigestLength(t *testing.T) {
	want := map[int]int{
		AUTH_PROTOCOL_NONE:   0,
		AUTH_PROTOCOL_MD5:    12,
		AUTH_PROTOCOL_SHA:    12,
		AUTH_PROTOCOL_SHA224: 16,
		AUTH_PROTOCOL_SHA256: 24,
		AUTH_PROTOCOL_SHA384: 32,
		AUTH_PROTOCOL_SHA512: 48,
	}
	for auth, l := range want {
		assert.Equal(t, l, DigestLength(auth), "auth %d", auth)
	}
}

func TestPrivKeyExtension(t *testing.T) {
	engineID := mustHex(t, "80001f8805010203040506")
	for _, auth := range []int{AUTH_PROTOCOL_MD5, AUTH_PROTOCOL_SHA, AUTH_PROTOCOL_SHA256, AUTH_PROTOCOL_SHA512} {
		kul, err := makeLocalizedKeyFromBytes([]byte("privpassword"), engineID, auth)
		require.NoError(t, err)
		for _, priv := range []int{PRIV_PROTOCOL_DES, PRIV_PROTOCOL_3DES, PRIV_PROTOCOL_AES128, PRIV_PROTOCOL_AES192,
			PRIV_PROTOCOL_AES256, PRIV_PROTOCOL_AES192A, PRIV_PROTOCOL_AES256A} {
			key, err := PrivKey(kul, priv, auth, engineID)
			require.NoError(t, err, "auth %d priv %d", auth, priv)
			require.Len(t, key, privKeyLength(priv))
			n := len(kul)
			if n > len(key) {
				n = len(key)
			}
			assert.Equal(t, kul[:n], key[:n], "prefix of the key is the localized key")
		}
	}

	// MD5 gives 16 bytes, so AES256 appends one localized extension
	kul, _ := makeLocalizedKeyFromBytes([]byte("privpassword"), engineID, AUTH_PROTOCOL_MD5)
	ext, _ := makeLocalizedKeyFromBytes(kul, engineID, AUTH_PROTOCOL_MD5)
	key, err := PrivKey(kul, PRIV_PROTOCOL_AES256, AUTH_PROTOCOL_MD5, engineID)
	require.NoError(t, err)
	assert.Equal(t, ext, key[16:32])

	_, err = PrivKey(kul, 42, AUTH_PROTOCOL_MD5, engineID)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestAuthenticateOutgoingPlaceholder(t *testing.T) {
	u := newTestUSM(t, []byte{0x80, 0x00, 0x1f, 0x88, 0x05, 9, 9, 9}, false, nil)
	require.NoError(t, u.AddUser(UserConfig{Name: "op", AuthProtocol: AUTH_PROTOCOL_SHA, AuthPassphrase: "authpassword"}))
	msg, err := u.GenerateResponseMsg(OutgoingParams{
		MsgID:         1,
		SecurityName:  []byte("op"),
		SecurityLevel: SECLEVEL_AUTHNOPRIV,
		ScopedPDU:     testScopedPDU(t, 5),
	})
	require.NoError(t, err)

	offset, l, err := ASNber.FindSNMPv3AuthParamsOffset(msg)
	require.NoError(t, err)
	require.Equal(t, 12, l)
	assert.False(t, bytes.Equal(make([]byte, 12), msg[offset:offset+l]), "digest was written")

	// a message that already carries a digest has no placeholder left
	before := append([]byte(nil), msg...)
	_, err = authenticateOutgoingMsg(msg, make([]byte, 20), AUTH_PROTOCOL_SHA)
	assert.ErrorIs(t, err, ErrDigestPlaceholder)
	assert.Equal(t, before, msg, "input is not modified")

	// wrong digest length for the protocol
	zeroed := append([]byte(nil), msg...)
	copy(zeroed[offset:offset+l], make([]byte, l))
	_, err = authenticateOutgoingMsg(zeroed, make([]byte, 32), AUTH_PROTOCOL_SHA256)
	assert.ErrorIs(t, err, ErrDigestPlaceholder)

	out, err := authenticateOutgoingMsg(zeroed, u.users.users[userKey{string(u.local.EngineID()), "op"}].AuthKey, AUTH_PROTOCOL_SHA)
	require.NoError(t, err)
	assert.Equal(t, msg, out)
	assert.Equal(t, make([]byte, 12), zeroed[offset:offset+l])
}
