package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const testAddr = 0x33

var errNack = errors.New("nack")

type failingBus struct{}

func (failingBus) String() string                    { return "failing" }
func (failingBus) Tx(addr uint16, w, r []byte) error { return errNack }
func (failingBus) SetSpeed(f physic.Frequency) error { return nil }

func TestReadRegister(t *testing.T) {
	p := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x80, 0x00}, R: []byte{0x19, 0x08}},
		},
		DontPanic: true,
	}
	tr := NewTransport(p, testAddr)

	got, err := tr.ReadRegister(0x8000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != 0x1908 {
		t.Errorf("ReadRegister = 0x%04X, want 0x1908", got)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Playback not fully consumed: %v", err)
	}
}

func TestWriteRegister(t *testing.T) {
	p := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x80, 0x0D, 0x19, 0x01}},
		},
		DontPanic: true,
	}
	tr := NewTransport(p, testAddr)

	if err := tr.WriteRegister(0x800D, 0x1901); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Playback not fully consumed: %v", err)
	}
}

func TestReadBlock(t *testing.T) {
	p := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: testAddr, W: []byte{0x24, 0x00}, R: []byte{0x00, 0xAE, 0x49, 0x9A, 0xFF, 0xFF}},
		},
		DontPanic: true,
	}
	tr := NewTransport(NewShared(p), testAddr)

	out := make([]byte, 6)
	if err := tr.ReadBlock(0x2400, out); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []uint16{0x00AE, 0x499A, 0xFFFF}
	if diff := cmp.Diff(Words(out), want); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	tr := NewTransport(failingBus{}, testAddr)

	cases := []struct {
		name   string
		call   func() error
		wantOp string
	}{
		{"read", func() error { _, err := tr.ReadRegister(0x072A); return err }, "read"},
		{"write", func() error { return tr.WriteRegister(0x072A, 1) }, "write"},
		{"block", func() error { return tr.ReadBlock(0x072A, make([]byte, 4)) }, "block read"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.call()

			var busErr *Error
			if !errors.As(err, &busErr) {
				t.Fatalf("Got %v, want *Error", err)
			}
			if busErr.Op != c.wantOp || busErr.Reg != 0x072A {
				t.Errorf("Got op %q reg 0x%04X, want %q 0x072A", busErr.Op, busErr.Reg, c.wantOp)
			}
			if !errors.Is(err, errNack) {
				t.Errorf("Error %v does not wrap the driver error", err)
			}
		})
	}
}

// countingBus records the largest number of transactions it saw in flight at once.
type countingBus struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (b *countingBus) String() string { return "counting" }

func (b *countingBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.maxSeen {
		b.maxSeen = b.inFlight
	}
	b.mu.Unlock()

	for i := range r {
		r[i] = 0
	}

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	return nil
}

func (b *countingBus) SetSpeed(f physic.Frequency) error { return nil }

func TestSharedSerialises(t *testing.T) {
	cb := &countingBus{}
	shared := NewShared(cb)
	a := NewTransport(shared, testAddr)
	b := NewTransport(shared, 0x3C)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.ReadRegister(0x8000)
		}()
		go func() {
			defer wg.Done()
			b.WriteRegister(0x0000, 0xAF)
		}()
	}
	wg.Wait()

	if cb.maxSeen != 1 {
		t.Errorf("Saw %d concurrent transactions, want 1", cb.maxSeen)
	}
}
