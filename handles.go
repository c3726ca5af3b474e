// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMP

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

var errHandleSpace = errors.New("no free request handle")

// handleGenerator hands out random 31-bit non-zero handles. A handle is not
// reused while it is among the last window handles generated.
type handleGenerator struct {
	mu     sync.Mutex
	window int
	ring   []Handle
	pos    int
	used   map[Handle]struct{}
	rand   io.Reader
}

func newHandleGenerator(window int) *handleGenerator {
	if window <= 0 {
		window = HandleWindow
	}
	return &handleGenerator{
		window: window,
		ring:   make([]Handle, 0, min(window, 4096)),
		used:   make(map[Handle]struct{}),
		rand:   rand.Reader,
	}
}

// Next returns a fresh handle.
func (g *handleGenerator) Next() (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var b [4]byte
	for attempt := 0; attempt < 64; attempt++ {
		if _, err := io.ReadFull(g.rand, b[:]); err != nil {
			return 0, err
		}
		h := Handle(binary.BigEndian.Uint32(b[:]) & 0x7fffffff)
		if h == 0 {
			continue
		}
		if _, dup := g.used[h]; dup {
			continue
		}
		if len(g.ring) < g.window {
			g.ring = append(g.ring, h)
		} else {
			delete(g.used, g.ring[g.pos])
			g.ring[g.pos] = h
			g.pos = (g.pos + 1) % g.window
		}
		g.used[h] = struct{}{}
		return h, nil
	}
	return 0, errHandleSpace
}
