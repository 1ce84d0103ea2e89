// Package bus provides serialised 16-bit register access to devices on a shared I²C bus.
package bus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Error is returned for any failed bus transaction. It is never retried at this layer.
type Error struct {
	Op  string
	Reg uint16
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bus: %s 0x%04X: %v", e.Op, e.Reg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Shared serialises every transaction on the underlying bus. It implements i2c.Bus, so other
// devices on the same bus (a display, say) can be handed a Shared and will queue behind
// register transactions instead of interleaving with them.
type Shared struct {
	mu  sync.Mutex
	bus i2c.Bus
}

var _ i2c.Bus = &Shared{}

func NewShared(b i2c.Bus) *Shared {
	return &Shared{bus: b}
}

func (s *Shared) String() string {
	return s.bus.String()
}

func (s *Shared) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bus.Tx(addr, w, r)
}

func (s *Shared) SetSpeed(f physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bus.SetSpeed(f)
}

// Transport reads and writes the 16-bit big-endian registers of the device at a 7-bit address.
type Transport struct {
	dev i2c.Dev
}

// NewTransport returns a Transport for the device at addr. Pass a *Shared if anything else
// talks on the same bus.
func NewTransport(b i2c.Bus, addr uint16) *Transport {
	return &Transport{
		dev: i2c.Dev{Addr: addr, Bus: b},
	}
}

// ReadRegister reads the register at reg.
func (t *Transport) ReadRegister(reg uint16) (uint16, error) {
	b := make([]byte, 2)
	if err := t.read("read", reg, b); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(b), nil
}

// WriteRegister writes value to the register at reg.
func (t *Transport) WriteRegister(reg, value uint16) error {
	cmd := make([]byte, 4)
	binary.BigEndian.PutUint16(cmd[0:2], reg)
	binary.BigEndian.PutUint16(cmd[2:4], value)

	if err := t.dev.Tx(cmd, nil); err != nil {
		return &Error{Op: "write", Reg: reg, Err: err}
	}

	return nil
}

// ReadBlock fills out with consecutive bytes starting at reg in a single transaction.
func (t *Transport) ReadBlock(reg uint16, out []byte) error {
	return t.read("block read", reg, out)
}

func (t *Transport) read(op string, reg uint16, out []byte) error {
	w := make([]byte, 2)
	binary.BigEndian.PutUint16(w, reg)

	if err := t.dev.Tx(w, out); err != nil {
		return &Error{Op: op, Reg: reg, Err: err}
	}

	return nil
}

// Words decodes big-endian bytes into 16-bit words.
func Words(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[2*i:])
	}

	return words
}
