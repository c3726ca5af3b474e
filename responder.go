// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
)

const (
	// maxBulkVarBinds caps the varbinds of one GETBULK response before size
	// truncation.
	maxBulkVarBinds = 2048
	// maxViewSkips bounds how many objects outside the read view a GETNEXT
	// step passes over.
	maxViewSkips = 1024
)

// Instrumentation is the MIB the command responder reads and writes.
//
// ReadVars returns one varbind per OID, with noSuchObject/noSuchInstance
// values for missing objects. ReadNextVars returns the successor of every
// OID or endOfMibView carrying the requested OID. WriteVars applies all
// varbinds or none; a failure is reported as *PDUError.
type Instrumentation interface {
	ReadVars(info RequestInfo, oids []ASNber.ObjectIdentifier) ([]codec.VarBind, error)
	ReadNextVars(info RequestInfo, oids []ASNber.ObjectIdentifier) ([]codec.VarBind, error)
	WriteVars(info RequestInfo, vbs []codec.VarBind) error
}

// AccessControl decides whether a principal may read, write or be notified
// about oid.
type AccessControl interface {
	IsAccessAllowed(securityModel int, securityName string, securityLevel int, view ViewType, contextName string, oid ASNber.ObjectIdentifier) bool
}

// AllowAll grants every access.
type AllowAll struct{}

func (AllowAll) IsAccessAllowed(int, string, int, ViewType, string, ASNber.ObjectIdentifier) bool {
	return true
}

// PDUError is an error-status/error-index pair returned by an
// Instrumentation. Index is 1-based.
type PDUError struct {
	Status int32
	Index  int32
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("%s (status=%d, index=%d)", codec.SNMPErrorName(int(e.Status)), e.Status, e.Index)
}

func (e *Engine) receiveCommand(in *inbound) {
	e.mu.Lock()
	mib, ac := e.mib, e.access
	e.mu.Unlock()
	if mib == nil {
		e.unknownPDUHandler(in)
		return
	}
	if in.info.Version == codec.SNMP_VERSION_3 && len(in.info.ContextEngineID) > 0 && !e.isLocal(in.info.ContextEngineID) {
		e.logger.Debug("request for a foreign context engine dropped", "from", addrString(in.info.Source))
		return
	}
	e.reply(in, e.processCommand(mib, ac, in))
}

// processCommand builds the Response for a GET, GETNEXT, GETBULK or SET.
func (e *Engine) processCommand(mib Instrumentation, ac AccessControl, in *inbound) *codec.PDU {
	req := in.pdu
	resp := &codec.PDU{Type: codec.PDU_RESPONSE, RequestID: req.RequestID}
	oids := make([]ASNber.ObjectIdentifier, len(req.VarBinds))
	for i, vb := range req.VarBinds {
		oids[i] = vb.OID
	}

	var err error
	switch req.Type {
	case codec.PDU_GET:
		resp.VarBinds, err = readVars(mib, ac, in.info, oids)
	case codec.PDU_GETNEXT:
		resp.VarBinds, err = readNextVars(mib, ac, in.info, oids)
	case codec.PDU_GETBULK:
		resp.VarBinds, err = readBulk(mib, ac, in.info, oids, int(req.NonRepeaters()), int(req.MaxRepetitions()))
	case codec.PDU_SET:
		err = writeVars(mib, ac, in, req.VarBinds)
		resp.VarBinds = req.VarBinds
	}
	if err != nil {
		var pe *PDUError
		if !errors.As(err, &pe) {
			e.logger.Warn("instrumentation failed", "type", codec.PDUTypeName(req.Type), "error", err)
			pe = &PDUError{Status: codec.ErrStatus_GenErr}
		}
		resp.ErrorStatus, resp.ErrorIndex = pe.Status, pe.Index
		resp.VarBinds = req.VarBinds
	}
	if in.info.Version == codec.SNMP_VERSION_1 {
		toV1Response(req, resp)
	}
	return resp
}

func allowed(ac AccessControl, info RequestInfo, view ViewType, oid ASNber.ObjectIdentifier) bool {
	return ac.IsAccessAllowed(info.SecurityModel, info.SecurityName, info.SecurityLevel, view, info.ContextName, oid)
}

func readVars(mib Instrumentation, ac AccessControl, info RequestInfo, oids []ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	vbs, err := mib.ReadVars(info, oids)
	if err != nil {
		return nil, err
	}
	if len(vbs) != len(oids) {
		return nil, fmt.Errorf("instrumentation returned %d varbinds for %d OIDs", len(vbs), len(oids))
	}
	for i := range vbs {
		if !allowed(ac, info, ViewRead, oids[i]) {
			vbs[i] = codec.VarBind{OID: oids[i], Value: codec.SNMPvbNoSuchObject}
		}
	}
	return vbs, nil
}

// readNextVars steps every OID to its successor inside the read view.
func readNextVars(mib Instrumentation, ac AccessControl, info RequestInfo, oids []ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	vbs, err := mib.ReadNextVars(info, oids)
	if err != nil {
		return nil, err
	}
	if len(vbs) != len(oids) {
		return nil, fmt.Errorf("instrumentation returned %d varbinds for %d OIDs", len(vbs), len(oids))
	}
	for i := range vbs {
		skips := 0
		for !codec.IsEndOfMibView(vbs[i].Value) && !allowed(ac, info, ViewRead, vbs[i].OID) {
			if skips++; skips > maxViewSkips {
				vbs[i] = codec.VarBind{OID: oids[i], Value: codec.SNMPvbEndOfMibView}
				break
			}
			next, err := mib.ReadNextVars(info, []ASNber.ObjectIdentifier{vbs[i].OID})
			if err != nil {
				return nil, err
			}
			if len(next) != 1 {
				return nil, fmt.Errorf("instrumentation returned %d varbinds for 1 OID", len(next))
			}
			vbs[i] = next[0]
		}
	}
	return vbs, nil
}

// readBulk implements RFC 3416 §4.2.3.
func readBulk(mib Instrumentation, ac AccessControl, info RequestInfo, oids []ASNber.ObjectIdentifier, nonRepeaters, maxRepetitions int) ([]codec.VarBind, error) {
	nonRepeaters = max(0, min(nonRepeaters, len(oids)))
	maxRepetitions = max(0, maxRepetitions)

	out, err := readNextVars(mib, ac, info, oids[:nonRepeaters])
	if err != nil {
		return nil, err
	}
	cur := slices.Clone(oids[nonRepeaters:])
	if len(cur) == 0 {
		return out, nil
	}
	for rep := 0; rep < maxRepetitions && len(out) < maxBulkVarBinds; rep++ {
		vbs, err := readNextVars(mib, ac, info, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, vbs...)
		allEnd := true
		for j := range vbs {
			cur[j] = vbs[j].OID
			if !codec.IsEndOfMibView(vbs[j].Value) {
				allEnd = false
			}
		}
		if allEnd {
			break
		}
	}
	return out, nil
}

func writeVars(mib Instrumentation, ac AccessControl, in *inbound, vbs []codec.VarBind) error {
	if in.readOnly {
		return &PDUError{Status: codec.ErrStatus_NoAccess, Index: 1}
	}
	for i, vb := range vbs {
		if !allowed(ac, in.info, ViewWrite, vb.OID) {
			return &PDUError{Status: codec.ErrStatus_NoAccess, Index: int32(i + 1)}
		}
	}
	return mib.WriteVars(in.info, vbs)
}

// toV1Response rewrites a response for SNMPv1 (RFC 3584 §4.4): exception
// values become noSuchName and v2 error codes are folded into v1 ones.
func toV1Response(req, resp *codec.PDU) {
	if resp.ErrorStatus == 0 {
		for i, vb := range resp.VarBinds {
			if codec.IsException(vb.Value) {
				resp.ErrorStatus = codec.ErrStatus_NoSuchName
				resp.ErrorIndex = int32(i + 1)
				resp.VarBinds = req.VarBinds
				return
			}
		}
		return
	}
	resp.ErrorStatus = v1ErrorStatus(resp.ErrorStatus)
	resp.VarBinds = req.VarBinds
}

func v1ErrorStatus(status int32) int32 {
	switch status {
	case codec.ErrStatus_WrongValue, codec.ErrStatus_WrongEncoding, codec.ErrStatus_WrongType,
		codec.ErrStatus_WrongLength, codec.ErrStatus_InconsistentValue:
		return codec.ErrStatus_BadValue
	case codec.ErrStatus_NoAccess, codec.ErrStatus_NotWritable, codec.ErrStatus_NoCreation,
		codec.ErrStatus_InconsistentName, codec.ErrStatus_AuthorizationError:
		return codec.ErrStatus_NoSuchName
	case codec.ErrStatus_ResourceUnavailable, codec.ErrStatus_CommitFailed, codec.ErrStatus_UndoFailed:
		return codec.ErrStatus_GenErr
	}
	return status
}

// MemoryMIB is an in-memory Instrumentation over a sorted object list.
// Objects created by Set are writable unless marked read-only.
type MemoryMIB struct {
	mu       sync.RWMutex
	objects  []codec.VarBind
	readOnly map[string]bool
}

func NewMemoryMIB() *MemoryMIB {
	return &MemoryMIB{readOnly: make(map[string]bool)}
}

func (m *MemoryMIB) find(oid ASNber.ObjectIdentifier) (int, bool) {
	return slices.BinarySearchFunc(m.objects, oid, func(vb codec.VarBind, o ASNber.ObjectIdentifier) int {
		return codec.CompareOID(vb.OID, o)
	})
}

// Set creates or replaces an object.
func (m *MemoryMIB) Set(oid ASNber.ObjectIdentifier, value codec.SNMPVar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(codec.VarBind{OID: slices.Clone(oid), Value: value})
}

func (m *MemoryMIB) setLocked(vb codec.VarBind) {
	i, ok := m.find(vb.OID)
	if ok {
		m.objects[i].Value = vb.Value
		return
	}
	m.objects = slices.Insert(m.objects, i, vb)
}

// SetReadOnly creates or replaces an object that SET cannot change.
func (m *MemoryMIB) SetReadOnly(oid ASNber.ObjectIdentifier, value codec.SNMPVar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(codec.VarBind{OID: slices.Clone(oid), Value: value})
	m.readOnly[codec.Convert_OID_IntArrayToString_RAW(oid)] = true
}

// Delete removes an object.
func (m *MemoryMIB) Delete(oid ASNber.ObjectIdentifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(oid)
	if ok {
		m.objects = slices.Delete(m.objects, i, i+1)
		delete(m.readOnly, codec.Convert_OID_IntArrayToString_RAW(oid))
	}
	return ok
}

// Len returns the number of objects.
func (m *MemoryMIB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryMIB) ReadVars(_ RequestInfo, oids []ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]codec.VarBind, len(oids))
	for i, oid := range oids {
		out[i].OID = oid
		if j, ok := m.find(oid); ok {
			out[i].Value = m.objects[j].Value
			continue
		}
		out[i].Value = codec.SNMPvbNoSuchObject
		// an object under the parent means the object type exists
		if len(oid) > 1 {
			if j, _ := m.find(oid[:len(oid)-1]); j < len(m.objects) && codec.InSubTreeCheck(oid[:len(oid)-1], m.objects[j].OID) {
				out[i].Value = codec.SNMPvbNoSuchInstance
			}
		}
	}
	return out, nil
}

func (m *MemoryMIB) ReadNextVars(_ RequestInfo, oids []ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]codec.VarBind, len(oids))
	for i, oid := range oids {
		j, ok := m.find(oid)
		if ok {
			j++
		}
		if j < len(m.objects) {
			out[i] = m.objects[j]
		} else {
			out[i] = codec.VarBind{OID: oid, Value: codec.SNMPvbEndOfMibView}
		}
	}
	return out, nil
}

// WriteVars checks every varbind first and then applies them all.
func (m *MemoryMIB) WriteVars(_ RequestInfo, vbs []codec.VarBind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, vb := range vbs {
		j, ok := m.find(vb.OID)
		switch {
		case !ok:
			return &PDUError{Status: codec.ErrStatus_NoCreation, Index: int32(i + 1)}
		case m.readOnly[codec.Convert_OID_IntArrayToString_RAW(vb.OID)]:
			return &PDUError{Status: codec.ErrStatus_NotWritable, Index: int32(i + 1)}
		case m.objects[j].Value.ValueType != vb.Value.ValueType || m.objects[j].Value.ValueClass != vb.Value.ValueClass:
			return &PDUError{Status: codec.ErrStatus_WrongType, Index: int32(i + 1)}
		}
	}
	for _, vb := range vbs {
		m.setLocked(codec.VarBind{OID: slices.Clone(vb.OID), Value: vb.Value})
	}
	return nil
}
