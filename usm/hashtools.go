// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

func hashFunc(AuthProtocol int) (func() hash.Hash, error) {
	switch AuthProtocol {
	case AUTH_PROTOCOL_MD5:
		return md5.New, nil
	case AUTH_PROTOCOL_SHA:
		return sha1.New, nil
	case AUTH_PROTOCOL_SHA224:
		return sha256.New224, nil
	case AUTH_PROTOCOL_SHA256:
		return sha256.New, nil
	case AUTH_PROTOCOL_SHA384:
		return sha512.New384, nil
	case AUTH_PROTOCOL_SHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("%w: auth %d", ErrUnknownProtocol, AuthProtocol)
}

// DigestLength returns the truncated HMAC length carried in
// msgAuthenticationParameters (RFC 3414, RFC 7860), or 0 for no auth.
func DigestLength(AuthProtocol int) int {
	switch AuthProtocol {
	case AUTH_PROTOCOL_MD5, AUTH_PROTOCOL_SHA:
		return 12
	case AUTH_PROTOCOL_SHA224:
		return 16
	case AUTH_PROTOCOL_SHA256:
		return 24
	case AUTH_PROTOCOL_SHA384:
		return 32
	case AUTH_PROTOCOL_SHA512:
		return 48
	}
	return 0
}

// PasswordToKey expands a passphrase to 1 MB and hashes it (RFC 3414 A.2),
// giving the non-localized master key Ku.
//
// Parameters:
//
//	passphrase   - user secret, must not be empty
//	AuthProtocol - AUTH_PROTOCOL_* selecting the hash
//
// Returns:
//
//	Ku of the hash output length
func PasswordToKey(passphrase []byte, AuthProtocol int) ([]byte, error) {
	newHash, err := hashFunc(AuthProtocol)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, ErrMissingKey
	}
	hasf := newHash()
	PassBuf := make([]byte, 64)
	password_index := 0
	passwordlen := len(passphrase)
	for count := 0; count < passwordExpansion; count += 64 {
		for i := 0; i < 64; i++ {
			PassBuf[i] = passphrase[password_index%passwordlen]
			password_index++
		}
		hasf.Write(PassBuf)
	}
	return hasf.Sum(nil), nil
}

// LocalizeKey binds a master key to an engine: Kul = H(Ku || engineID || Ku).
func LocalizeKey(ku []byte, EngineID []byte, AuthProtocol int) ([]byte, error) {
	newHash, err := hashFunc(AuthProtocol)
	if err != nil {
		return nil, err
	}
	hasf := newHash()
	hasf.Write(ku)
	hasf.Write(EngineID)
	hasf.Write(ku)
	return hasf.Sum(nil), nil
}

// makeLocalizedKeyFromBytes is PasswordToKey followed by LocalizeKey.
func makeLocalizedKeyFromBytes(keyBytes []byte, EngineID []byte, AuthProtocol int) ([]byte, error) {
	ku, err := PasswordToKey(keyBytes, AuthProtocol)
	if err != nil {
		return nil, err
	}
	return LocalizeKey(ku, EngineID, AuthProtocol)
}

// privKeyLength is the key material a privacy protocol consumes, including
// the pre-IV for DES and 3DES.
func privKeyLength(PrivProtocol int) int {
	switch PrivProtocol {
	case PRIV_PROTOCOL_DES, PRIV_PROTOCOL_AES128:
		return 16
	case PRIV_PROTOCOL_AES192, PRIV_PROTOCOL_AES192A:
		return 24
	case PRIV_PROTOCOL_AES256, PRIV_PROTOCOL_AES256A, PRIV_PROTOCOL_3DES:
		return 32
	}
	return 0
}

// PrivKey turns a localized privacy key into the exact key material of
// PrivProtocol. Short keys are extended:
//   - AES192/AES256/3DES: by localizing the key itself again and appending
//     (draft-reeder-snmpv3-usm-3desede, draft-blumenthal-aes-usm)
//   - AES192A/AES256A: K1 || H(K1) (Agent++ style)
func PrivKey(kul []byte, PrivProtocol int, AuthProtocol int, EngineID []byte) ([]byte, error) {
	need := privKeyLength(PrivProtocol)
	if need == 0 {
		return nil, fmt.Errorf("%w: priv %d", ErrUnknownProtocol, PrivProtocol)
	}
	if len(kul) == 0 {
		return nil, ErrMissingKey
	}
	if len(kul) >= need {
		return append([]byte(nil), kul[:need]...), nil
	}

	switch PrivProtocol {
	case PRIV_PROTOCOL_AES192A, PRIV_PROTOCOL_AES256A:
		newHash, err := hashFunc(AuthProtocol)
		if err != nil {
			return nil, err
		}
		hasher := newHash()
		hasher.Write(kul)
		result := append(append([]byte(nil), kul...), hasher.Sum(nil)...) // K1 | K2
		if len(result) < need {
			return nil, fmt.Errorf("%w: key too short for priv %d", ErrMissingKey, PrivProtocol)
		}
		return result[:need], nil

	case PRIV_PROTOCOL_AES192, PRIV_PROTOCOL_AES256, PRIV_PROTOCOL_3DES:
		result := append([]byte(nil), kul...)
		for len(result) < need {
			ext, err := makeLocalizedKeyFromBytes(result[len(result)-len(kul):], EngineID, AuthProtocol)
			if err != nil {
				return nil, err
			}
			result = append(result, ext...)
		}
		return result[:need], nil
	}
	return nil, fmt.Errorf("%w: key too short for priv %d", ErrMissingKey, PrivProtocol)
}

// makeDigest computes the truncated HMAC of Wmsg.
func makeDigest(Wmsg []byte, LocalizedKey []byte, AuthProtocol int) ([]byte, error) {
	newHash, err := hashFunc(AuthProtocol)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, LocalizedKey)
	mac.Write(Wmsg)
	return mac.Sum(nil)[:DigestLength(AuthProtocol)], nil
}

// authenticateOutgoingMsg computes the digest over a message carrying an
// all-zero placeholder and returns a new buffer with the placeholder region
// replaced. The input is left untouched.
func authenticateOutgoingMsg(SNMPv3Packet []byte, LocalizedKey []byte, AuthProtocol int) ([]byte, error) {
	offset, aplen, ferr := ASNber.FindSNMPv3AuthParamsOffset(SNMPv3Packet)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDigestPlaceholder, ferr)
	}
	dlen := DigestLength(AuthProtocol)
	if offset <= 0 || aplen != dlen || offset+aplen > len(SNMPv3Packet) {
		return nil, ErrDigestPlaceholder
	}
	for _, b := range SNMPv3Packet[offset : offset+aplen] {
		if b != 0 {
			return nil, ErrDigestPlaceholder
		}
	}

	digest, err := makeDigest(SNMPv3Packet, LocalizedKey, AuthProtocol)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(SNMPv3Packet))
	copy(out, SNMPv3Packet)
	copy(out[offset:offset+aplen], digest)
	return out, nil
}

// verifyDigestRAW checks msgAuthenticationParameters of a received message:
// the claimed digest is zeroed in a copy, the HMAC recomputed and compared in
// constant time.
func verifyDigestRAW(SNMPv3Packet []byte, digest []byte, LocalizedKey []byte, AuthProtocol int) (bool, error) {
	offset, aplen, ferr := ASNber.FindSNMPv3AuthParamsOffset(SNMPv3Packet)
	if ferr != nil {
		return false, fmt.Errorf("%w: %v", ErrDigestPlaceholder, ferr)
	}
	if offset <= 0 || offset+aplen > len(SNMPv3Packet) {
		return false, ErrDigestPlaceholder
	}
	if aplen != DigestLength(AuthProtocol) || len(digest) != aplen {
		return false, nil
	}

	DataCopy := make([]byte, len(SNMPv3Packet))
	copy(DataCopy, SNMPv3Packet)
	for i := 0; i < aplen; i++ {
		DataCopy[offset+i] = 0x00
	}

	DigestCalc, err := makeDigest(DataCopy, LocalizedKey, AuthProtocol)
	if err != nil {
		return false, err
	}
	return hmac.Equal(DigestCalc, digest), nil
}
