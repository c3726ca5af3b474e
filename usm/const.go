// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"fmt"
	"strings"

	"github.com/OlegPowerC/powersnmpengine/codec"
)

const (
	// SNMPv3 USM Authentication Protocols
	AUTH_PROTOCOL_NONE   = 0
	AUTH_PROTOCOL_MD5    = 1
	AUTH_PROTOCOL_SHA    = 2
	AUTH_PROTOCOL_SHA224 = 3
	AUTH_PROTOCOL_SHA256 = 4
	AUTH_PROTOCOL_SHA384 = 5
	AUTH_PROTOCOL_SHA512 = 6
)

const (
	// SNMPv3 USM Privacy Protocols
	PRIV_PROTOCOL_NONE    = 0
	PRIV_PROTOCOL_AES128  = 1
	PRIV_PROTOCOL_DES     = 2
	PRIV_PROTOCOL_AES192  = 3
	PRIV_PROTOCOL_AES256  = 4
	PRIV_PROTOCOL_AES192A = 5
	PRIV_PROTOCOL_AES256A = 6
	PRIV_PROTOCOL_3DES    = 7
)

const (
	// SNMPv3 Security Levels (RFC3411)
	SECLEVEL_NOAUTH_NOPRIV = 1
	SECLEVEL_AUTHNOPRIV    = 2
	SECLEVEL_AUTHPRIV      = 3
)

const (
	// TimeWindow is the RFC 3414 §2.2.3 acceptance window in seconds.
	TimeWindow = 150
	// MaxEngineBoots is the latched value meaning "reboot count exhausted".
	MaxEngineBoots = 1<<31 - 1
	// DefaultTimelineTTL is how long an unrefreshed timeline entry is kept.
	DefaultTimelineTTL = 300

	// Bytes reserved for msgVersion/msgGlobalData when sizing a response
	// ScopedPDU (RFC 3412 §7.1 step 3).
	headerOverhead = 48

	passwordExpansion = 1048576
)

// usmStats counters, RFC 3414 §5.
var (
	OID_usmStatsUnsupportedSecLevels = codec.MustOID("1.3.6.1.6.3.15.1.1.1.0")
	OID_usmStatsNotInTimeWindows     = codec.MustOID("1.3.6.1.6.3.15.1.1.2.0")
	OID_usmStatsUnknownUserNames     = codec.MustOID("1.3.6.1.6.3.15.1.1.3.0")
	OID_usmStatsUnknownEngineIDs     = codec.MustOID("1.3.6.1.6.3.15.1.1.4.0")
	OID_usmStatsWrongDigests         = codec.MustOID("1.3.6.1.6.3.15.1.1.5.0")
	OID_usmStatsDecryptionErrors     = codec.MustOID("1.3.6.1.6.3.15.1.1.6.0")
)

// SecurityLevelFromFlags maps msgFlags to a security level. Priv without
// auth is an invalid combination (RFC 3412 §7.2 step 5d).
func SecurityLevelFromFlags(flags byte) (int, error) {
	switch flags & (codec.MsgFlag_Authenticated | codec.MsgFlag_Encrypted) {
	case 0:
		return SECLEVEL_NOAUTH_NOPRIV, nil
	case codec.MsgFlag_Authenticated:
		return SECLEVEL_AUTHNOPRIV, nil
	case codec.MsgFlag_Authenticated | codec.MsgFlag_Encrypted:
		return SECLEVEL_AUTHPRIV, nil
	}
	return 0, fmt.Errorf("%w: msgFlags 0x%02x", ErrInvalidFlags, flags)
}

// FlagsFromSecurityLevel is the inverse of SecurityLevelFromFlags.
func FlagsFromSecurityLevel(level int) byte {
	switch level {
	case SECLEVEL_AUTHNOPRIV:
		return codec.MsgFlag_Authenticated
	case SECLEVEL_AUTHPRIV:
		return codec.MsgFlag_Authenticated | codec.MsgFlag_Encrypted
	}
	return 0
}

// ParseAuthProtocol maps a protocol name ("md5", "sha", "sha224" ... "sha512",
// "" or "none") to its identifier.
func ParseAuthProtocol(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return AUTH_PROTOCOL_NONE, nil
	case "md5":
		return AUTH_PROTOCOL_MD5, nil
	case "sha", "sha1":
		return AUTH_PROTOCOL_SHA, nil
	case "sha224":
		return AUTH_PROTOCOL_SHA224, nil
	case "sha256":
		return AUTH_PROTOCOL_SHA256, nil
	case "sha384":
		return AUTH_PROTOCOL_SHA384, nil
	case "sha512":
		return AUTH_PROTOCOL_SHA512, nil
	}
	return 0, fmt.Errorf("%w: auth %q", ErrUnknownProtocol, name)
}

// ParsePrivProtocol maps a protocol name ("des", "3des", "aes", "aes192",
// "aes256", "aes192a", "aes256a", "" or "none") to its identifier.
func ParsePrivProtocol(name string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return PRIV_PROTOCOL_NONE, nil
	case "des":
		return PRIV_PROTOCOL_DES, nil
	case "3des", "3desede":
		return PRIV_PROTOCOL_3DES, nil
	case "aes", "aes128":
		return PRIV_PROTOCOL_AES128, nil
	case "aes192":
		return PRIV_PROTOCOL_AES192, nil
	case "aes256":
		return PRIV_PROTOCOL_AES256, nil
	case "aes192a":
		return PRIV_PROTOCOL_AES192A, nil
	case "aes256a":
		return PRIV_PROTOCOL_AES256A, nil
	}
	return 0, fmt.Errorf("%w: priv %q", ErrUnknownProtocol, name)
}
