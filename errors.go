// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"errors"
	"fmt"
	"strings"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
)

var (
	ErrRequestTimedOut    = errors.New("requestTimedOut")
	ErrEngineClosed       = errors.New("engine closed")
	ErrNoAddress          = errors.New("target has no address")
	ErrUnsupportedVersion = errors.New("unsupported SNMP version")
	ErrNilPDU             = errors.New("nil PDU")
	ErrUnknownTarget      = errors.New("unknown target")
	ErrReportReceived     = errors.New("report received")
	ErrEmptyCommunity     = errors.New("community string is empty")
	ErrUnknownPDUHandler  = errors.New("unknownPDUHandler")
)

// SNMPfe_Errors is a fatal PDU-level error: the agent answered with a
// non-zero error-status.
type SNMPfe_Errors struct {
	ErrorStatusRaw int32
	ErrorIndexRaw  int32
	FailedOID      ASNber.ObjectIdentifier
}

func (e SNMPfe_Errors) Error() string {
	return fmt.Sprintf("%s (status=%d, index=%d): %s", codec.SNMPErrorName(int(e.ErrorStatusRaw)), e.ErrorStatusRaw, e.ErrorIndexRaw, codec.Convert_OID_IntArrayToString_RAW(e.FailedOID))
}

// SNMPne_OidError is one varbind that came back as an exception.
type SNMPne_OidError struct {
	Failedoid ASNber.ObjectIdentifier
	Exception int
}

// SNMPne_Errors is a partial result: the response is valid but some
// varbinds hold noSuchObject, noSuchInstance or endOfMibView.
type SNMPne_Errors struct {
	Failedoids []SNMPne_OidError
}

func (e SNMPne_Errors) Error() string {
	FailedOids := make([]string, len(e.Failedoids))
	for i, v := range e.Failedoids {
		FailedOids[i] = fmt.Sprintf("partial, %s: %s", exceptionName(v.Exception), codec.Convert_OID_IntArrayToString_RAW(v.Failedoid))
	}
	return strings.Join(FailedOids, ",")
}

func exceptionName(tag int) string {
	switch tag {
	case codec.TagERR_noSuchObject:
		return "noSuchObject"
	case codec.TagERR_noSuchInstance:
		return "noSuchInstance"
	case codec.TagERR_EndOfMib:
		return "endOfMibView"
	}
	return "exception"
}

// SNMPud_OidError is one failed OID in a unified error report.
type SNMPud_OidError struct {
	Failedoid        ASNber.ObjectIdentifier
	Error_id         int32
	ErrorDescription string
}

// SNMPud_Errors is the unified view ParseError builds from both PDU error
// kinds.
type SNMPud_Errors struct {
	IsFatal bool
	Oids    []SNMPud_OidError
}

// ParseError sorts err into PDU-level errors and everything else.
//
// Behavior:
//
//	Get with 1 missing OID      → SNMPud_Errors{IsFatal:false, Oids:[1 failed OID]}
//	Set on a read-only object   → SNMPud_Errors{IsFatal:true, Oids:[1 failed OID]}
//	Timeout, security failure   → SNMPud_Errors{}, CommonError!=nil
//
// Usage:
//
//	snmpErr, commonErr := PowerSNMP.ParseError(err)
//	if commonErr != nil { log.Fatal("network failure") }
//	if snmpErr.IsFatal { log.Fatal("SNMP fatal error") }
func ParseError(err error) (SNMPerr SNMPud_Errors, CommonError error) {
	var partialerr SNMPne_Errors
	var fatalerr SNMPfe_Errors
	if errors.As(err, &partialerr) {
		DUerOids := make([]SNMPud_OidError, len(partialerr.Failedoids))
		for oi, oid := range partialerr.Failedoids {
			DUerOids[oi] = SNMPud_OidError{
				Failedoid:        oid.Failedoid,
				Error_id:         int32(oid.Exception),
				ErrorDescription: fmt.Sprintf("%s: %s", codec.Convert_OID_IntArrayToString_RAW(oid.Failedoid), exceptionName(oid.Exception)),
			}
		}
		return SNMPud_Errors{IsFatal: false, Oids: DUerOids}, nil
	}
	if errors.As(err, &fatalerr) {
		return SNMPud_Errors{IsFatal: true, Oids: []SNMPud_OidError{{
			Failedoid:        fatalerr.FailedOID,
			Error_id:         fatalerr.ErrorStatusRaw,
			ErrorDescription: fmt.Sprintf("%s (status=%d): %s", codec.Convert_OID_IntArrayToString_RAW(fatalerr.FailedOID), fatalerr.ErrorStatusRaw, codec.SNMPErrorName(int(fatalerr.ErrorStatusRaw))),
		}}}, nil
	}
	return SNMPud_Errors{}, err
}

// pduError turns a non-zero error-status into SNMPfe_Errors naming the
// varbind the index points at.
func pduError(req *codec.PDU, r Result) error {
	if r.ErrorStatus == 0 {
		return nil
	}
	fe := SNMPfe_Errors{ErrorStatusRaw: r.ErrorStatus, ErrorIndexRaw: r.ErrorIndex}
	if i := int(r.ErrorIndex) - 1; i >= 0 {
		switch {
		case i < len(r.VarBinds):
			fe.FailedOID = r.VarBinds[i].OID
		case req != nil && i < len(req.VarBinds):
			fe.FailedOID = req.VarBinds[i].OID
		}
	}
	return fe
}

// exceptions collects the exception varbinds of a response.
func exceptions(vbs []codec.VarBind) error {
	var ne SNMPne_Errors
	for _, vb := range vbs {
		if codec.IsException(vb.Value) {
			ne.Failedoids = append(ne.Failedoids, SNMPne_OidError{Failedoid: vb.OID, Exception: vb.Value.ValueType})
		}
	}
	if len(ne.Failedoids) == 0 {
		return nil
	}
	return ne
}
