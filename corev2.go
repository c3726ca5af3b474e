// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"fmt"

	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/usm"
)

// prepareCommunity encodes a v1/v2c message. The request-id is the handle.
func prepareCommunity(t Target, pdu *codec.PDU) ([]byte, error) {
	if !validForVersion(t.Version, pdu.Type) {
		return nil, fmt.Errorf("%w: %s in version %d", ErrUnsupportedVersion, codec.PDUTypeName(pdu.Type), t.Version)
	}
	return codec.EncodeCommunityMessage(t.Version, []byte(t.Community), pdu)
}

// receiveCommunity runs the community-based model for a v1/v2c message.
// Responses are matched by request-id, version and community; everything
// else needs a configured community.
func (e *Engine) receiveCommunity(dg transport.Datagram) {
	msg, err := codec.DecodeCommunityMessage(dg.Data)
	if err != nil {
		e.stats.InASNParseErrs.Add(1)
		e.logger.Warn("undecodable community message", "from", addrString(dg.Remote), "error", err)
		return
	}
	pdu := msg.PDU
	if !validForVersion(msg.Version, pdu.Type) {
		e.stats.InASNParseErrs.Add(1)
		e.logger.Debug("PDU type not valid for version", "type", codec.PDUTypeName(pdu.Type), "version", msg.Version)
		return
	}

	if pdu.Type == codec.PDU_RESPONSE {
		e.correlate(Handle(pdu.RequestID), pdu, func(r *pendingRequest) bool {
			return r.target.Version == msg.Version && r.target.Community == string(msg.Community)
		})
		return
	}

	c, ok := e.lookupCommunity(msg.Community)
	if !ok {
		e.stats.InBadCommunityNames.Add(1)
		e.logger.Debug("unknown community", "from", addrString(dg.Remote), "type", codec.PDUTypeName(pdu.Type))
		return
	}
	e.dispatchInbound(&inbound{
		pdu: pdu,
		info: RequestInfo{
			Version:       msg.Version,
			SecurityModel: msg.Version + 1,
			SecurityName:  c.SecurityName,
			SecurityLevel: usm.SECLEVEL_NOAUTH_NOPRIV,
			ContextName:   c.ContextName,
			Source:        dg.Remote,
		},
		domain:    dg.Domain,
		community: string(msg.Community),
		readOnly:  c.Access != ACCESS_READWRITE,
		limit:     e.cfg.MaxMsgSize,
		encode: func(resp *codec.PDU) ([]byte, error) {
			return codec.EncodeCommunityMessage(msg.Version, msg.Community, resp)
		},
		send: func(data []byte) error {
			return e.sendTo(dg.Domain, dg.Remote, data)
		},
	})
}

// inbound is a received request or notification together with the way to
// answer it under the security model it arrived with.
type inbound struct {
	pdu              *codec.PDU
	info             RequestInfo
	domain           string
	community        string
	securityEngineID []byte
	readOnly         bool

	// limit bounds what encode returns: the whole message for v1/v2c, the
	// scoped PDU for v3.
	limit  int
	encode func(resp *codec.PDU) ([]byte, error)
	send   func(encoded []byte) error
	// unhandled is called with snmpUnknownPDUHandlers after it was
	// incremented; v3 answers with a report.
	unhandled func(count uint32)
}

func (e *Engine) dispatchInbound(in *inbound) {
	switch in.pdu.Type {
	case codec.PDU_TRAPV1, codec.PDU_TRAPV2, codec.PDU_INFORM:
		e.receiveNotification(in)
	case codec.PDU_GET, codec.PDU_GETNEXT, codec.PDU_GETBULK, codec.PDU_SET:
		e.receiveCommand(in)
	default:
		e.logger.Debug("PDU dropped", "type", codec.PDUTypeName(in.pdu.Type), "from", addrString(in.info.Source))
	}
}

func (e *Engine) unknownPDUHandler(in *inbound) {
	count := e.stats.UnknownPDUHandlers.Add(1)
	e.logger.Debug("no handler for PDU", "type", codec.PDUTypeName(in.pdu.Type), "from", addrString(in.info.Source))
	if in.unhandled != nil {
		in.unhandled(count)
	}
}

// reply encodes resp and sends it. A response larger than the limit is
// truncated for GETBULK and replaced by tooBig otherwise.
func (e *Engine) reply(in *inbound, resp *codec.PDU) {
	data, err := in.encode(resp)
	if err == nil && len(data) > in.limit {
		if in.pdu.Type == codec.PDU_GETBULK && resp.ErrorStatus == 0 {
			data, err = e.truncate(in, resp, data)
		}
		if err == nil && len(data) > in.limit {
			tb := &codec.PDU{Type: codec.PDU_RESPONSE, RequestID: resp.RequestID, ErrorStatus: codec.ErrStatus_TooBig}
			if in.info.Version == codec.SNMP_VERSION_1 {
				tb.VarBinds = in.pdu.VarBinds
			}
			data, err = in.encode(tb)
		}
	}
	if err != nil {
		e.logger.Warn("response not encoded", "to", addrString(in.info.Source), "error", err)
		return
	}
	if err := in.send(data); err != nil {
		e.logger.Warn("response not sent", "to", addrString(in.info.Source), "error", err)
	}
}

// truncate drops trailing varbinds of a GETBULK response until it fits.
func (e *Engine) truncate(in *inbound, resp *codec.PDU, data []byte) ([]byte, error) {
	var err error
	for len(data) > in.limit && len(resp.VarBinds) > 0 {
		n := len(resp.VarBinds) * in.limit / len(data)
		if n >= len(resp.VarBinds) {
			n = len(resp.VarBinds) - 1
		}
		resp.VarBinds = resp.VarBinds[:n]
		if data, err = in.encode(resp); err != nil {
			return nil, err
		}
	}
	return data, nil
}
