// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"context"
	"errors"
	"sync"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/transport"
	"github.com/OlegPowerC/powersnmpengine/walk"
)

// ErrRequestAbandoned is returned by the blocking helpers when the request
// was dropped without a result, e.g. because its transport was removed.
var ErrRequestAbandoned = errors.New("request abandoned")

// Exchange sends pdu and waits for the result. The returned error is the
// result's ErrorIndication or the context error; PDU-level errors stay in
// Result.ErrorStatus.
//
// When no goroutine runs the dispatcher loop, Exchange runs it until the
// request completes.
func (e *Engine) Exchange(ctx context.Context, t Target, pdu *codec.PDU) (Result, error) {
	ch := make(chan Result, 1)
	h, err := e.SendPdu(t, pdu, func(_ Handle, r Result) { ch <- r })
	if err != nil {
		return Result{}, err
	}
	r, err := await(ctx, e, ch, func() { e.Cancel(h) })
	if err != nil {
		return Result{}, err
	}
	return r, r.ErrorIndication
}

// await waits for one value on ch, driving the dispatcher loop when it is
// idle.
func await[T any](ctx context.Context, e *Engine, ch <-chan T, cancel func()) (T, error) {
	var zero T
	poll := e.cfg.PollInterval
	if poll <= 0 {
		poll = transport.DefaultPollInterval
	}
	for {
		select {
		case v := <-ch:
			return v, nil
		default:
		}
		err := e.dispatcher.Run(ctx, false)
		switch {
		case err == nil:
			select {
			case v := <-ch:
				return v, nil
			case <-e.closed:
				return zero, ErrEngineClosed
			default:
				return zero, ErrRequestAbandoned
			}
		case errors.Is(err, transport.ErrAlreadyRunning):
			// another goroutine runs the loop; look again after a poll
			// interval in case it stops before our request completes
			timer := time.NewTimer(poll)
			select {
			case v := <-ch:
				timer.Stop()
				return v, nil
			case <-ctx.Done():
				timer.Stop()
				cancel()
				return zero, ctx.Err()
			case <-e.closed:
				timer.Stop()
				return zero, ErrEngineClosed
			case <-timer.C:
			}
		default:
			cancel()
			return zero, err
		}
	}
}

// request runs one exchange and converts PDU errors into SNMPfe_Errors and
// exception values into SNMPne_Errors.
func (e *Engine) request(ctx context.Context, t Target, pdu *codec.PDU) ([]codec.VarBind, error) {
	r, err := e.Exchange(ctx, t, pdu)
	if err != nil {
		return nil, err
	}
	if err := pduError(pdu, r); err != nil {
		return r.VarBinds, err
	}
	return r.VarBinds, exceptions(r.VarBinds)
}

// Get performs a GET request.
//
// Returns:
//
//	[]codec.VarBind - one varbind per OID
//	error - SNMPfe_Errors for a non-zero error-status, SNMPne_Errors when
//	        some varbinds are exceptions (the varbinds are still returned),
//	        anything else for timeouts and security failures
//
// Example:
//
//	vbs, err := eng.Get(ctx, t, codec.MustOID("1.3.6.1.2.1.1.1.0"))
//	if err != nil {
//	    snmpErr, commonErr := PowerSNMP.ParseError(err)
//	    ...
//	}
//	fmt.Println(codec.Convert_Variable_To_String(vbs[0].Value))
func (e *Engine) Get(ctx context.Context, t Target, oids ...ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	return e.request(ctx, t, codec.NewPDU(codec.PDU_GET, oids...))
}

// GetNext performs a GETNEXT request.
func (e *Engine) GetNext(ctx context.Context, t Target, oids ...ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	return e.request(ctx, t, codec.NewPDU(codec.PDU_GETNEXT, oids...))
}

// GetBulk performs a GETBULK request; v1 targets are refused.
func (e *Engine) GetBulk(ctx context.Context, t Target, nonRepeaters, maxRepetitions int32, oids ...ASNber.ObjectIdentifier) ([]codec.VarBind, error) {
	return e.request(ctx, t, codec.NewBulkPDU(nonRepeaters, maxRepetitions, oids...))
}

// Set performs a SET request.
func (e *Engine) Set(ctx context.Context, t Target, vbs ...codec.VarBind) ([]codec.VarBind, error) {
	pdu := &codec.PDU{Type: codec.PDU_SET, VarBinds: vbs}
	r, err := e.Exchange(ctx, t, pdu)
	if err != nil {
		return nil, err
	}
	return r.VarBinds, pduError(pdu, r)
}

type walkResult struct {
	rows []walk.Row
	err  error
}

// Walk retrieves the rows under head with GETNEXT, or GETBULK when
// opts.Bulk is set and the target is not v1.
//
// Rows accepted before an error are returned together with it. A v1 agent
// answering noSuchName ends the walk normally.
//
// Example:
//
//	rows, err := eng.Walk(ctx, t, []ASNber.ObjectIdentifier{
//	    codec.MustOID("1.3.6.1.2.1.2.2.1.2"), // ifDescr
//	    codec.MustOID("1.3.6.1.2.1.2.2.1.3"), // ifType
//	}, walk.Options{Bulk: true})
//	for _, row := range rows {
//	    fmt.Println(codec.Convert_Variable_To_String(row[0].Value))
//	}
func (e *Engine) Walk(ctx context.Context, t Target, head []ASNber.ObjectIdentifier, opts walk.Options) ([]walk.Row, error) {
	ch := make(chan walkResult, 1)
	cancel, err := e.WalkAsync(t, head, opts, func(rows []walk.Row, err error) {
		ch <- walkResult{rows: rows, err: err}
	})
	if err != nil {
		return nil, err
	}
	res, err := await(ctx, e, ch, cancel)
	if err != nil {
		return nil, err
	}
	return res.rows, res.err
}

// WalkAsync starts a walk whose requests are chained from the response
// callbacks. done is called once on the dispatcher loop unless the returned
// cancel function is called first.
func (e *Engine) WalkAsync(t Target, head []ASNber.ObjectIdentifier, opts walk.Options, done func(rows []walk.Row, err error)) (cancel func(), err error) {
	if t.Version == codec.SNMP_VERSION_1 {
		opts.Bulk = false
	}
	w, err := walk.New(head, opts)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		current   Handle
		cancelled bool
		step      Callback
	)
	send := func() error {
		mu.Lock()
		defer mu.Unlock()
		if cancelled {
			return nil
		}
		h, err := e.SendPdu(t, w.PDU(), step)
		current = h
		return err
	}
	step = func(_ Handle, r Result) {
		mu.Lock()
		stop := cancelled
		mu.Unlock()
		if stop {
			return
		}
		if r.ErrorIndication != nil {
			done(w.Rows(), r.ErrorIndication)
			return
		}
		if r.ErrorStatus != 0 {
			if r.ErrorStatus == codec.ErrStatus_NoSuchName && t.Version == codec.SNMP_VERSION_1 {
				w.Stop()
				done(w.Rows(), nil)
				return
			}
			done(w.Rows(), pduError(nil, r))
			return
		}
		finished, err := w.Feed(r.VarBinds)
		if err != nil || finished {
			done(w.Rows(), err)
			return
		}
		if err := send(); err != nil {
			done(w.Rows(), err)
		}
	}
	if err := send(); err != nil {
		return nil, err
	}
	return func() {
		mu.Lock()
		cancelled = true
		h := current
		mu.Unlock()
		e.Cancel(h)
	}, nil
}
