// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
)

// SendPdu secures pdu for t and sends it.
//
// With a nil callback the PDU is fire-and-forget (traps): nothing is kept
// after the send. Otherwise a pending request is stored under the returned
// handle; cb is called exactly once with the response, a report-derived
// error or ErrRequestTimedOut after Retries resends.
//
// A v3 request to a target whose engine ID is not known yet starts with an
// engine ID discovery probe; the PDU itself goes out once the agent's report
// has taught the engine ID.
//
// Example:
//
//	h, err := eng.SendPdu(t, codec.NewPDU(codec.PDU_GET, codec.MustOID("1.3.6.1.2.1.1.3.0")),
//	    func(h PowerSNMP.Handle, r PowerSNMP.Result) {
//	        if r.ErrorIndication != nil {
//	            log.Println(r.ErrorIndication)
//	            return
//	        }
//	        fmt.Println(codec.Convert_Variable_To_String(r.VarBinds[0].Value))
//	    })
func (e *Engine) SendPdu(t Target, pdu *codec.PDU, cb Callback) (Handle, error) {
	if pdu == nil {
		return 0, ErrNilPDU
	}
	if t.Address == nil {
		return 0, ErrNoAddress
	}
	select {
	case <-e.closed:
		return 0, ErrEngineClosed
	default:
	}
	t = e.normalizeTarget(t)
	h, err := e.handles.Next()
	if err != nil {
		return 0, err
	}
	r := &pendingRequest{handle: h, origin: h, job: int(h), target: t, pdu: pdu.Clone(), cb: cb}

	if cb == nil {
		data, err := e.prepareOutgoing(r)
		if err != nil {
			return 0, err
		}
		return h, e.sendTo(t.Domain, t.Address, data)
	}

	if t.Version == codec.SNMP_VERSION_3 && len(e.authoritativeID(t, r.pdu)) == 0 {
		r.probe = true
	}
	e.dispatcher.JobStarted(r.job)
	if err := e.transmit(r); err != nil {
		e.dispatcher.JobFinished(r.job)
		return 0, err
	}
	return h, nil
}

// Cancel drops the pending request started under h without calling its
// callback.
func (e *Engine) Cancel(h Handle) bool {
	e.mu.Lock()
	var found *pendingRequest
	for k, r := range e.pending {
		if r.origin == h {
			found = r
			delete(e.pending, k)
			break
		}
	}
	e.mu.Unlock()
	if found == nil {
		return false
	}
	e.dispatcher.JobFinished(found.job)
	return true
}

// Pending returns the number of outstanding requests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// transmit secures r under its current handle, stores it and sends it.
func (e *Engine) transmit(r *pendingRequest) error {
	data, err := e.prepareOutgoing(r)
	if err != nil {
		return err
	}
	e.mu.Lock()
	r.deadline = e.now().Add(r.target.Timeout)
	e.pending[r.handle] = r
	e.mu.Unlock()
	if err := e.sendTo(r.target.Domain, r.target.Address, data); err != nil {
		e.mu.Lock()
		delete(e.pending, r.handle)
		e.mu.Unlock()
		return err
	}
	return nil
}

// resend moves r to a new handle and transmits it again.
func (e *Engine) resend(r *pendingRequest) error {
	h, err := e.handles.Next()
	if err != nil {
		return err
	}
	r.handle = h
	return e.transmit(r)
}

// finish delivers the result of r. The callback runs before the job is
// released so a continuation sent from it keeps the loop alive.
func (e *Engine) finish(r *pendingRequest, res Result) {
	r.cb(r.origin, res)
	e.dispatcher.JobFinished(r.job)
}

func (e *Engine) prepareOutgoing(r *pendingRequest) ([]byte, error) {
	pdu := r.pdu.Clone()
	pdu.RequestID = int32(r.handle)
	switch r.target.Version {
	case codec.SNMP_VERSION_1, codec.SNMP_VERSION_2C:
		return prepareCommunity(r.target, pdu)
	case codec.SNMP_VERSION_3:
		return e.prepareV3(r, pdu)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.target.Version)
}

// prepareV3 builds the scoped PDU of r and secures it. The msgID is the
// handle, and so is the request-id.
func (e *Engine) prepareV3(r *pendingRequest, pdu *codec.PDU) ([]byte, error) {
	t := r.target
	p := usm.OutgoingParams{
		MsgID:      int32(r.handle),
		MaxSize:    t.MaxMsgSize,
		Reportable: pdu.IsConfirmed(),
	}
	var scoped *codec.ScopedPDU
	if r.probe {
		// empty engine ID and user at noAuthNoPriv, answered by a report
		p.Reportable = true
		p.SecurityLevel = usm.SECLEVEL_NOAUTH_NOPRIV
		scoped = &codec.ScopedPDU{PDU: &codec.PDU{Type: codec.PDU_GET, RequestID: pdu.RequestID}}
	} else {
		p.SecurityEngineID = e.authoritativeID(t, pdu)
		p.SecurityName = []byte(t.SecurityName)
		p.SecurityLevel = t.SecurityLevel
		ctxID := t.ContextEngineID
		if len(ctxID) == 0 {
			ctxID = p.SecurityEngineID
		}
		scoped = &codec.ScopedPDU{ContextEngineID: ctxID, ContextName: []byte(t.ContextName), PDU: pdu}
	}
	data, err := codec.EncodeScopedPDU(scoped)
	if err != nil {
		return nil, err
	}
	p.ScopedPDU = data
	msg, err := e.usm.GenerateRequestMsg(p)
	if err != nil {
		return nil, err
	}
	r.securityEngineID = slices.Clone(p.SecurityEngineID)
	r.securityName = string(p.SecurityName)
	r.securityLevel = p.SecurityLevel
	return msg, nil
}

func (e *Engine) sendTo(domain string, addr net.Addr, data []byte) error {
	if err := e.dispatcher.SendMessage(domain, addr, data); err != nil {
		return err
	}
	e.stats.OutPkts.Add(1)
	return nil
}

// onTimer runs every poll interval: expired requests are resent or timed
// out and stale timeline entries are purged.
func (e *Engine) onTimer(time.Time) {
	now := e.now()
	e.mu.Lock()
	var expired []*pendingRequest
	for h, r := range e.pending {
		if !now.Before(r.deadline) {
			delete(e.pending, h)
			expired = append(expired, r)
		}
	}
	e.mu.Unlock()
	slices.SortFunc(expired, func(a, b *pendingRequest) int { return a.deadline.Compare(b.deadline) })

	for _, r := range expired {
		if r.retries < r.target.Retries {
			r.retries++
			e.logger.Debug("request retried", "handle", r.origin, "retry", r.retries, "target", r.target.Address.String())
			if err := e.resend(r); err != nil {
				e.finish(r, Result{ErrorIndication: err})
			}
			continue
		}
		e.logger.Debug("request timed out", "handle", r.origin, "target", r.target.Address.String(), "attempts", r.retries+1)
		e.finish(r, Result{ErrorIndication: ErrRequestTimedOut})
	}
	e.usm.ExpireTimeline(now)
}

// correlate completes the pending request h with a response PDU when match
// accepts it.
func (e *Engine) correlate(h Handle, pdu *codec.PDU, match func(*pendingRequest) bool) {
	e.mu.Lock()
	r, ok := e.pending[h]
	if !ok || !match(r) {
		e.mu.Unlock()
		e.logger.Debug("unmatched response dropped", "handle", h)
		return
	}
	delete(e.pending, h)
	e.mu.Unlock()
	e.finish(r, Result{
		ErrorStatus: pdu.ErrorStatus,
		ErrorIndex:  pdu.ErrorIndex,
		VarBinds:    pdu.VarBinds,
		PDU:         pdu,
	})
}

// receiveMessage is the dispatcher receive callback.
func (e *Engine) receiveMessage(dg transport.Datagram) {
	e.stats.InPkts.Add(1)
	version, err := codec.DecodeVersion(dg.Data)
	if err != nil {
		e.stats.InASNParseErrs.Add(1)
		e.logger.Warn("undecodable message", "from", addrString(dg.Remote), "error", err)
		return
	}
	switch version {
	case codec.SNMP_VERSION_1, codec.SNMP_VERSION_2C:
		e.receiveCommunity(dg)
	case codec.SNMP_VERSION_3:
		e.receiveV3(dg)
	default:
		e.stats.InBadVersions.Add(1)
		e.logger.Debug("unsupported message version", "version", version, "from", addrString(dg.Remote))
	}
}

func (e *Engine) receiveV3(dg transport.Datagram) {
	m, err := codec.DecodeV3Message(dg.Data)
	if err != nil {
		e.stats.InASNParseErrs.Add(1)
		e.logger.Warn("undecodable SNMPv3 message", "from", addrString(dg.Remote), "error", err)
		return
	}
	if m.Header.SecurityModel != codec.SecurityModel_USM {
		e.stats.UnknownSecurityModels.Add(1)
		e.logger.Debug("unknown security model", "model", m.Header.SecurityModel, "from", addrString(dg.Remote))
		return
	}
	res, err := e.usm.ProcessIncomingMsg(dg.Data, m)
	if err != nil {
		if se, ok := usm.AsStatusError(err); ok {
			if m.Header.Reportable() && se.CounterOID != nil {
				e.sendReport(dg, m.Header.MsgID, se)
			}
			return
		}
		if errors.Is(err, usm.ErrInvalidFlags) {
			e.stats.InvalidMsgs.Add(1)
		} else {
			e.stats.InASNParseErrs.Add(1)
		}
		e.logger.Warn("SNMPv3 message rejected", "from", addrString(dg.Remote), "error", err)
		return
	}
	sp, err := codec.DecodeScopedPDU(res.ScopedPDU)
	if err != nil {
		e.stats.InASNParseErrs.Add(1)
		e.logger.Warn("undecodable scoped PDU", "from", addrString(dg.Remote), "error", err)
		return
	}
	pdu := sp.PDU
	if !validForVersion(codec.SNMP_VERSION_3, pdu.Type) {
		e.stats.InASNParseErrs.Add(1)
		e.logger.Debug("PDU type not valid in SNMPv3", "type", codec.PDUTypeName(pdu.Type))
		return
	}
	if len(res.SecurityName) == 0 && pdu.Type != codec.PDU_REPORT {
		e.logger.Debug("anonymous message dropped", "type", codec.PDUTypeName(pdu.Type), "from", addrString(dg.Remote))
		return
	}

	switch {
	case pdu.Type == codec.PDU_REPORT:
		e.processReport(m.Header.MsgID, res, pdu)
	case pdu.Type == codec.PDU_RESPONSE:
		e.correlate(Handle(m.Header.MsgID), pdu, func(r *pendingRequest) bool {
			return r.target.Version == codec.SNMP_VERSION_3 && !r.probe &&
				bytes.Equal(r.securityEngineID, res.SecurityEngineID) &&
				r.securityName == string(res.SecurityName) &&
				r.securityLevel == res.SecurityLevel
		})
	case pdu.IsConfirmed() && !e.isLocal(res.SecurityEngineID):
		e.logger.Debug("confirmed PDU for a foreign engine dropped", "engineID", hex.EncodeToString(res.SecurityEngineID))
	default:
		e.dispatchInbound(&inbound{
			pdu: pdu,
			info: RequestInfo{
				Version:         codec.SNMP_VERSION_3,
				SecurityModel:   codec.SecurityModel_USM,
				SecurityName:    string(res.SecurityName),
				SecurityLevel:   res.SecurityLevel,
				ContextEngineID: sp.ContextEngineID,
				ContextName:     string(sp.ContextName),
				Source:          dg.Remote,
			},
			domain:           dg.Domain,
			securityEngineID: res.SecurityEngineID,
			limit:            res.MaxSizeResponseScopedPDU,
			encode: func(resp *codec.PDU) ([]byte, error) {
				return codec.EncodeScopedPDU(&codec.ScopedPDU{ContextEngineID: sp.ContextEngineID, ContextName: sp.ContextName, PDU: resp})
			},
			send: func(scoped []byte) error {
				msg, err := e.usm.GenerateResponseMsg(usm.OutgoingParams{
					MsgID:            m.Header.MsgID,
					MaxSize:          e.cfg.MaxMsgSize,
					SecurityEngineID: res.SecurityEngineID,
					SecurityName:     res.SecurityName,
					SecurityLevel:    res.SecurityLevel,
					ScopedPDU:        scoped,
				})
				if err != nil {
					return err
				}
				return e.sendTo(dg.Domain, dg.Remote, msg)
			},
			unhandled: func(count uint32) {
				if !m.Header.Reportable() {
					return
				}
				e.sendReport(dg, m.Header.MsgID, &usm.StatusError{
					Kind:            ErrUnknownPDUHandler,
					CounterOID:      OID_snmpUnknownPDUHandlers,
					CounterValue:    count,
					SecurityName:    res.SecurityName,
					SecurityLevel:   res.SecurityLevel,
					ContextEngineID: sp.ContextEngineID,
					ContextName:     sp.ContextName,
					RequestID:       pdu.RequestID,
					HasRequestID:    true,
				})
			},
		})
	}
}

// processReport handles a report answering one of our requests: discovery,
// time resynchronization or a terminal error.
func (e *Engine) processReport(msgID int32, res *usm.IncomingResult, pdu *codec.PDU) {
	e.mu.Lock()
	r, ok := e.pending[Handle(msgID)]
	if !ok || r.target.Version != codec.SNMP_VERSION_3 {
		e.mu.Unlock()
		e.logger.Debug("unmatched report dropped", "msgID", msgID)
		return
	}
	delete(e.pending, Handle(msgID))
	e.mu.Unlock()

	kind := reportKind(pdu)
	switch {
	case r.probe:
		if !usm.ValidEngineID(res.SecurityEngineID) {
			e.finish(r, Result{ErrorIndication: fmt.Errorf("discovery: %w", usm.ErrInvalidEngineID), PDU: pdu, VarBinds: pdu.VarBinds})
			return
		}
		e.setDiscovered(r.target, res.SecurityEngineID)
		e.usm.LearnEngine(res.SecurityEngineID, res.Boots, res.Time)
		e.logger.Info("engine discovered", "target", r.target.Address.String(), "engineID", hex.EncodeToString(res.SecurityEngineID), "boots", res.Boots, "time", res.Time)
		r.probe = false
	case errors.Is(kind, usm.ErrUnknownEngineID) && len(r.target.EngineID) == 0 && r.resyncs < resyncLimit:
		// the agent changed its engine ID
		r.resyncs++
		e.forgetDiscovered(r.target)
		r.probe = true
	case errors.Is(kind, usm.ErrNotInTimeWindow) && r.resyncs < resyncLimit:
		r.resyncs++
		if res.SecurityLevel >= usm.SECLEVEL_AUTHNOPRIV {
			e.usm.LearnEngine(res.SecurityEngineID, res.Boots, res.Time)
		}
		e.logger.Debug("timeline resynchronized", "engineID", hex.EncodeToString(res.SecurityEngineID), "boots", res.Boots, "time", res.Time)
	default:
		e.finish(r, Result{ErrorIndication: kind, PDU: pdu, VarBinds: pdu.VarBinds})
		return
	}
	if err := e.resend(r); err != nil {
		e.finish(r, Result{ErrorIndication: err})
	}
}

func (e *Engine) forgetDiscovered(t Target) {
	e.mu.Lock()
	delete(e.discovered, targetKey(t))
	e.mu.Unlock()
}

var reportKinds = []struct {
	oid  ASNber.ObjectIdentifier
	kind error
}{
	{usm.OID_usmStatsUnsupportedSecLevels, usm.ErrUnsupportedSecLevel},
	{usm.OID_usmStatsNotInTimeWindows, usm.ErrNotInTimeWindow},
	{usm.OID_usmStatsUnknownUserNames, usm.ErrUnknownSecurityName},
	{usm.OID_usmStatsUnknownEngineIDs, usm.ErrUnknownEngineID},
	{usm.OID_usmStatsWrongDigests, usm.ErrAuthenticationFailure},
	{usm.OID_usmStatsDecryptionErrors, usm.ErrDecryptionError},
	{OID_snmpUnknownPDUHandlers, ErrUnknownPDUHandler},
}

// reportKind maps the counter OID of a report to an error matching both
// ErrReportReceived and the counter's sentinel.
func reportKind(pdu *codec.PDU) error {
	if len(pdu.VarBinds) == 0 {
		return ErrReportReceived
	}
	oid := pdu.VarBinds[0].OID
	for _, k := range reportKinds {
		if codec.CompareOID(oid, k.oid) == 0 {
			return fmt.Errorf("%w: %w", ErrReportReceived, k.kind)
		}
	}
	return fmt.Errorf("%w: %s", ErrReportReceived, codec.Convert_OID_IntArrayToString_RAW(oid))
}

// sendReport answers a rejected reportable message with the counter that
// rejected it. The local engine is authoritative for reports.
func (e *Engine) sendReport(dg transport.Datagram, msgID int32, se *usm.StatusError) {
	localID := e.local.EngineID()
	var rid int32
	if se.HasRequestID {
		rid = se.RequestID
	}
	pdu := &codec.PDU{
		Type:      codec.PDU_REPORT,
		RequestID: rid,
		VarBinds:  []codec.VarBind{{OID: se.CounterOID, Value: codec.SetSNMPVar_Counter32(se.CounterValue)}},
	}
	scoped, err := codec.EncodeScopedPDU(&codec.ScopedPDU{ContextEngineID: localID, ContextName: se.ContextName, PDU: pdu})
	if err != nil {
		e.logger.Warn("report not encoded", "error", err)
		return
	}
	msg, err := e.usm.GenerateResponseMsg(usm.OutgoingParams{
		MsgID:            msgID,
		MaxSize:          e.cfg.MaxMsgSize,
		SecurityEngineID: localID,
		SecurityName:     se.SecurityName,
		SecurityLevel:    usm.ReportLevel(se),
		ScopedPDU:        scoped,
	})
	if err != nil {
		e.logger.Debug("report not secured", "kind", se.Kind, "error", err)
		return
	}
	if err := e.sendTo(dg.Domain, dg.Remote, msg); err != nil {
		e.logger.Warn("report not sent", "to", addrString(dg.Remote), "error", err)
		return
	}
	e.logger.Debug("report sent", "kind", se.Kind, "to", addrString(dg.Remote), "msgID", msgID)
}

// validForVersion reports whether a PDU type may appear in a message of
// version.
func validForVersion(version, pduType int) bool {
	switch pduType {
	case codec.PDU_GET, codec.PDU_GETNEXT, codec.PDU_RESPONSE, codec.PDU_SET:
		return true
	case codec.PDU_TRAPV1:
		return version == codec.SNMP_VERSION_1
	case codec.PDU_GETBULK, codec.PDU_INFORM, codec.PDU_TRAPV2:
		return version != codec.SNMP_VERSION_1
	case codec.PDU_REPORT:
		return version == codec.SNMP_VERSION_3
	}
	return false
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
