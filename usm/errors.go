// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"errors"
	"fmt"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// Security failures. Each one increments a usmStats counter and may be
// answered with a Report PDU.
var (
	ErrUnknownEngineID       = errors.New("unknownEngineID")
	ErrUnknownSecurityName   = errors.New("unknownSecurityName")
	ErrUnsupportedSecLevel   = errors.New("unsupportedSecurityLevel")
	ErrAuthenticationFailure = errors.New("authenticationFailure")
	ErrNotInTimeWindow       = errors.New("notInTimeWindow")
	ErrDecryptionError       = errors.New("decryptionError")
	ErrUnknownSecurityModel  = errors.New("unknownSecurityModel")
	ErrInvalidFlags          = errors.New("invalid msgFlags")
	ErrUnknownProtocol       = errors.New("unknown auth/priv protocol")
	ErrDigestPlaceholder     = errors.New("authentication placeholder not found")
	ErrEncryptionError       = errors.New("encryptionError")
	ErrInvalidEngineID       = errors.New("engine ID must be 5..32 bytes")
	ErrMissingKey            = errors.New("missing passphrase or key")
)

// StatusError is a security failure together with the data needed to build
// the Report PDU that RFC 3414 mandates for it.
type StatusError struct {
	Kind         error
	CounterOID   ASNber.ObjectIdentifier
	CounterValue uint32

	// Report context, filled when readable from the message.
	SecurityEngineID []byte
	SecurityName     []byte
	SecurityLevel    int
	ContextEngineID  []byte
	ContextName      []byte
	RequestID        int32
	HasRequestID     bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("usm: %v (%v=%d)", e.Kind, e.CounterOID, e.CounterValue)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// AsStatusError extracts a *StatusError from an error chain.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
