// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package codec

import (
	"fmt"
	"strconv"
	"strings"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// Convert_OID_StringToIntArray_RAW converts an OID string to raw decimal
// subidentifiers.
//
// Arguments:
//
//	OIDStr - "1.3.6.1.2.1.1.1" or ".1.3.6.1.4.1.9.9.129.1"
//
// Returns:
//
//	[]int  - [1,3,6,1,4,1,9,9,129,1]
//	error  - empty string or non-numeric component
func Convert_OID_StringToIntArray_RAW(OIDStr string) (ASNber.ObjectIdentifier, error) {
	OIDStr = strings.Trim(OIDStr, ".")
	if OIDStr == "" {
		return nil, fmt.Errorf("%w: empty OID", ErrMalformed)
	}
	OIDStringArray := strings.Split(OIDStr, ".")
	RetArray := make(ASNber.ObjectIdentifier, 0, len(OIDStringArray))
	for _, OidStringVal := range OIDStringArray {
		OidIntVal, err := strconv.Atoi(OidStringVal)
		if err != nil {
			return nil, err
		}
		if OidIntVal < 0 {
			return nil, fmt.Errorf("%w: negative subidentifier %d", ErrMalformed, OidIntVal)
		}
		RetArray = append(RetArray, OidIntVal)
	}
	return RetArray, nil
}

// MustOID is Convert_OID_StringToIntArray_RAW for constants; it panics on a
// malformed literal.
func MustOID(s string) ASNber.ObjectIdentifier {
	o, err := Convert_OID_StringToIntArray_RAW(s)
	if err != nil {
		panic(err)
	}
	return o
}

// Convert_OID_IntArrayToString_RAW formats subidentifiers as a dotted string.
//
//	[1,3,6,1,2,1,2,2,1,2,1] → "1.3.6.1.2.1.2.2.1.2.1"
func Convert_OID_IntArrayToString_RAW(OIDIntArray []int) string {
	var sb strings.Builder
	for i, val := range OIDIntArray {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(val))
	}
	return sb.String()
}

// CompareOID compares two OIDs lexicographically by subidentifier. A proper
// prefix sorts before the longer OID.
func CompareOID(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// InSubTreeCheck reports whether OidCurrent lies in the subtree rooted at
// OidMain (OidMain itself included).
//
//	InSubTreeCheck([1,3,6,1,2,1], [1,3,6,1,2,1,1,1])  // true (system.1.1)
//	InSubTreeCheck([1,3,6,1,2,1], [1,3,6,1,2,2,1])    // false (interfaces.1)
func InSubTreeCheck(OidMain []int, OidCurrent []int) bool {
	if len(OidCurrent) < len(OidMain) {
		return false
	}
	for OidElementIndex, OidElement := range OidMain {
		if OidElement != OidCurrent[OidElementIndex] {
			return false
		}
	}
	return true
}

// decodeOIDContent decodes the content octets of an OBJECT IDENTIFIER value
// (X.690 §8.19): base-128 subidentifiers, the first one packing X*40+Y.
func decodeOIDContent(b []byte) (ASNber.ObjectIdentifier, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty OID value", ErrMalformed)
	}
	var subs []int
	v := 0
	for i, c := range b {
		if v == 0 && c == 0x80 {
			return nil, fmt.Errorf("%w: non-minimal OID subidentifier", ErrMalformed)
		}
		v = v<<7 | int(c&0x7f)
		if v > 1<<31-1 {
			return nil, fmt.Errorf("%w: OID subidentifier overflow", ErrMalformed)
		}
		if c&0x80 != 0 {
			if i == len(b)-1 {
				return nil, fmt.Errorf("%w: truncated OID", ErrMalformed)
			}
			continue
		}
		if len(subs) == 0 {
			switch {
			case v < 40:
				subs = append(subs, 0, v)
			case v < 80:
				subs = append(subs, 1, v-40)
			default:
				subs = append(subs, 2, v-80)
			}
		} else {
			subs = append(subs, v)
		}
		v = 0
	}
	return subs, nil
}

// encodeOIDContent is the inverse of decodeOIDContent.
func encodeOIDContent(oid []int) ([]byte, error) {
	if len(oid) < 2 || oid[0] > 2 || (oid[0] < 2 && oid[1] >= 40) {
		return nil, fmt.Errorf("%w: invalid OID %v", ErrMalformed, oid)
	}
	out := appendBase128(nil, oid[0]*40+oid[1])
	for _, s := range oid[2:] {
		if s < 0 {
			return nil, fmt.Errorf("%w: negative subidentifier", ErrMalformed)
		}
		out = appendBase128(out, s)
	}
	return out, nil
}

func appendBase128(dst []byte, v int) []byte {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
	}
	return append(dst, tmp[i:]...)
}
