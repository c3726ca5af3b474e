// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package walk implements the GETNEXT/GETBULK continuation logic of a table
// walk. A Walker is a pure state machine: it produces the next request and
// consumes responses, the caller owns the network exchange.
package walk

import (
	"errors"
	"fmt"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/OlegPowerC/powersnmpengine/codec"
)

// Mode selects the per-column termination rule.
type Mode int

const (
	// Prefix stops a column when a returned OID leaves its head's subtree.
	Prefix Mode = iota
	// Lexicographic stops a column when a returned OID is not strictly
	// greater than its head OID. Used for range walks past a subtree.
	Lexicographic
)

const (
	DefaultMaxRepetitions = 25
	MaxMaxRepetitions     = 80
	// MaxRounds guards against agents that never terminate a walk.
	MaxRounds = 1000000
)

var (
	// ErrOIDNotIncreasing is returned when an agent answers with an OID that
	// is not greater than the previous OID of the same column.
	ErrOIDNotIncreasing = errors.New("OID is not increased")
	ErrNoHead           = errors.New("walk without head OIDs")
	ErrWalkDone         = errors.New("walk already finished")

	// ErrMalformedResponse is returned when a response cannot be cut into
	// rows of the walked columns. It wraps codec.ErrMalformed.
	ErrMalformedResponse = fmt.Errorf("walk response: %w", codec.ErrMalformed)
)

// Options tunes a Walker. The zero value is a GETNEXT walk in prefix mode
// without a row limit.
type Options struct {
	Mode                   Mode
	MaxRows                int
	IgnoreNonIncreasingOID bool
	Bulk                   bool
	// NonRepeaters is the number of leading head OIDs sent as GETBULK
	// non-repeaters.
	NonRepeaters   int
	MaxRepetitions int
}

// Row is one set of per-column results. A column that has already stopped
// holds a zero VarBind (nil OID).
type Row []codec.VarBind

// Walker tracks one table walk.
type Walker struct {
	head    []ASNber.ObjectIdentifier
	last    []ASNber.ObjectIdentifier
	stopped []bool
	opts    Options
	rows    []Row
	rounds  int
	done    bool
}

// New creates a walker for the ordered head OIDs.
//
// Example:
//
//	w, _ := walk.New([]ASNber.ObjectIdentifier{ifDescr, ifType}, walk.Options{Bulk: true})
//	for !w.Done() {
//	    resp := exchange(w.PDU())
//	    if _, err := w.Feed(resp.VarBinds); err != nil { ... }
//	}
//	rows := w.Rows()
func New(head []ASNber.ObjectIdentifier, opts Options) (*Walker, error) {
	if len(head) == 0 {
		return nil, ErrNoHead
	}
	if opts.Bulk {
		if opts.MaxRepetitions <= 0 {
			opts.MaxRepetitions = DefaultMaxRepetitions
		}
		if opts.MaxRepetitions > MaxMaxRepetitions {
			opts.MaxRepetitions = MaxMaxRepetitions
		}
		if opts.NonRepeaters < 0 {
			opts.NonRepeaters = 0
		}
		if opts.NonRepeaters > len(head) {
			opts.NonRepeaters = len(head)
		}
	} else {
		opts.NonRepeaters = 0
		opts.MaxRepetitions = 0
	}
	w := &Walker{
		head:    make([]ASNber.ObjectIdentifier, len(head)),
		last:    make([]ASNber.ObjectIdentifier, len(head)),
		stopped: make([]bool, len(head)),
		opts:    opts,
	}
	for i, h := range head {
		if len(h) == 0 {
			return nil, fmt.Errorf("%w: empty OID in column %d", codec.ErrMalformed, i)
		}
		w.head[i] = append(ASNber.ObjectIdentifier(nil), h...)
		w.last[i] = w.head[i]
	}
	return w, nil
}

// Options returns the normalized options.
func (w *Walker) Options() Options { return w.opts }

// Done reports whether the walk has terminated.
func (w *Walker) Done() bool { return w.done }

// Rows returns the accepted rows.
func (w *Walker) Rows() []Row { return w.rows }

// Next returns the OIDs of the next request: the last accepted OID of every
// column, the head OIDs on the first round.
func (w *Walker) Next() []ASNber.ObjectIdentifier {
	out := make([]ASNber.ObjectIdentifier, len(w.last))
	copy(out, w.last)
	return out
}

// PDU builds the next GETNEXT or GETBULK request. The request ID is left to
// the message dispatcher.
func (w *Walker) PDU() *codec.PDU {
	if w.opts.Bulk {
		return codec.NewBulkPDU(int32(w.opts.NonRepeaters), int32(w.opts.MaxRepetitions), w.Next()...)
	}
	return codec.NewPDU(codec.PDU_GETNEXT, w.Next()...)
}

// Stop terminates the walk keeping the rows accepted so far. Callers use it
// for v1 noSuchName, which is how SNMPv1 agents signal the end of the MIB.
func (w *Walker) Stop() { w.done = true }

// Feed consumes the varbinds of one response and reports whether the walk is
// done. A non-increasing OID ends the walk with ErrOIDNotIncreasing unless
// IgnoreNonIncreasingOID is set, then the walk ends without error. A GETNEXT
// response that does not answer every column ends it with
// ErrMalformedResponse.
//
// Termination rules, per column:
//   - endOfMibView stops the column
//   - Prefix mode: an OID outside the head subtree stops the column
//   - Lexicographic mode: an OID not greater than the head OID stops it
//
// The walk is done when every column has stopped, when MaxRows rows were
// accepted, or when a response carries no complete row.
func (w *Walker) Feed(vbs []codec.VarBind) (bool, error) {
	if w.done {
		return true, ErrWalkDone
	}
	w.rounds++
	rows, err := w.split(vbs)
	if err != nil {
		w.done = true
		return true, err
	}
	if len(rows) == 0 {
		w.done = true
		return true, nil
	}
	for k, cells := range rows {
		carried := 0
		if k > 0 {
			carried = w.opts.NonRepeaters
		}
		row, err := w.accept(cells, carried)
		if err != nil {
			w.done = true
			if w.opts.IgnoreNonIncreasingOID {
				return true, nil
			}
			return true, err
		}
		if row == nil {
			w.done = true
			return true, nil
		}
		w.rows = append(w.rows, row)
		if w.opts.MaxRows > 0 && len(w.rows) >= w.opts.MaxRows {
			w.done = true
			return true, nil
		}
	}
	if w.rounds >= MaxRounds {
		w.done = true
	}
	return w.done, nil
}

// split cuts a response into rows of len(head) columns. For GETBULK the
// non-repeater values are repeated in every row; a trailing partial row is
// dropped. A GETNEXT response must answer every column.
func (w *Walker) split(vbs []codec.VarBind) ([][]codec.VarBind, error) {
	cols := len(w.head)
	if !w.opts.Bulk {
		if len(vbs) != cols {
			return nil, fmt.Errorf("%w: %d varbinds for %d columns", ErrMalformedResponse, len(vbs), cols)
		}
		return [][]codec.VarBind{vbs}, nil
	}
	n := w.opts.NonRepeaters
	m := cols - n
	if len(vbs) < n {
		return nil, fmt.Errorf("%w: %d varbinds for %d non-repeaters", ErrMalformedResponse, len(vbs), n)
	}
	nonRep, rep := vbs[:n], vbs[n:]
	if m == 0 {
		return [][]codec.VarBind{nonRep}, nil
	}
	var out [][]codec.VarBind
	for len(rep) >= m {
		row := make([]codec.VarBind, 0, cols)
		row = append(row, nonRep...)
		row = append(row, rep[:m]...)
		out = append(out, row)
		rep = rep[m:]
	}
	return out, nil
}

// accept applies the termination rules to one complete row. It returns nil
// when every column has stopped. The first carried columns repeat values
// already checked in an earlier row of the same response and are copied
// without counting as progress.
func (w *Walker) accept(cells []codec.VarBind, carried int) (Row, error) {
	stopped := append([]bool(nil), w.stopped...)
	last := append([]ASNber.ObjectIdentifier(nil), w.last...)
	row := make(Row, len(cells))
	live := false
	for i, vb := range cells {
		if stopped[i] {
			continue
		}
		if i < carried {
			row[i] = vb
			continue
		}
		if w.columnEnds(i, vb) {
			stopped[i] = true
			continue
		}
		if codec.CompareOID(vb.OID, last[i]) <= 0 {
			return nil, fmt.Errorf("%w: column %d %s after %s", ErrOIDNotIncreasing, i,
				codec.Convert_OID_IntArrayToString_RAW(vb.OID), codec.Convert_OID_IntArrayToString_RAW(last[i]))
		}
		last[i] = vb.OID
		row[i] = vb
		live = true
	}
	w.stopped = stopped
	if !live {
		return nil, nil
	}
	w.last = last
	return row, nil
}

func (w *Walker) columnEnds(i int, vb codec.VarBind) bool {
	if codec.IsEndOfMibView(vb.Value) {
		return true
	}
	if w.opts.Mode == Lexicographic {
		return codec.CompareOID(vb.OID, w.head[i]) <= 0
	}
	return !codec.InSubTreeCheck(w.head[i], vb.OID)
}

// Flatten returns the accepted cells row by row, skipping stopped columns.
func Flatten(rows []Row) []codec.VarBind {
	var out []codec.VarBind
	for _, r := range rows {
		for _, vb := range r {
			if vb.OID != nil {
				out = append(out, vb)
			}
		}
	}
	return out
}
