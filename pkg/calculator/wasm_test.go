package calculator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// fakeMemory hands out views into its buffer the way wazero's linear
// memory does.
type fakeMemory struct {
	api.Memory
	buf []byte
}

func (m *fakeMemory) Read(offset, count uint32) ([]byte, bool) {
	if int(offset)+int(count) > len(m.buf) {
		return nil, false
	}
	return m.buf[offset : offset+count], true
}

func (m *fakeMemory) Write(offset uint32, data []byte) bool {
	if int(offset)+len(data) > len(m.buf) {
		return false
	}
	copy(m.buf[offset:], data)
	return true
}

type fakeFunction struct {
	api.Function
	fn func(ctx context.Context, params ...uint64) ([]uint64, error)
}

func (f *fakeFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.fn(ctx, params...)
}

const (
	testInputPtr  = 8
	testOutputPtr = 256
)

// testWASMCalculator wires a fake module whose calculate writes output
// JSON into memory and whose free reclaims (zeroes) the freed region.
func testWASMCalculator(output string, onCalc func()) (*WASMCalculator, *fakeMemory) {
	mem := &fakeMemory{buf: make([]byte, 1024)}
	c := &WASMCalculator{
		name:    "fake",
		memory:  mem,
		timeout: time.Second,
	}
	c.malloc = &fakeFunction{fn: func(_ context.Context, params ...uint64) ([]uint64, error) {
		return []uint64{testInputPtr}, nil
	}}
	c.free = &fakeFunction{fn: func(_ context.Context, params ...uint64) ([]uint64, error) {
		ptr := uint32(params[0])
		if ptr == testOutputPtr {
			for i := range mem.buf[testOutputPtr:] {
				mem.buf[testOutputPtr+i] = 0
			}
		}
		return nil, nil
	}}
	c.calc = &fakeFunction{fn: func(_ context.Context, params ...uint64) ([]uint64, error) {
		if onCalc != nil {
			onCalc()
		}
		mem.Write(testOutputPtr, []byte(output))
		packed := uint64(testOutputPtr)<<32 | uint64(len(output))
		return []uint64{packed}, nil
	}}
	return c, mem
}

func TestWASMCalculator_OutputSurvivesFree(t *testing.T) {
	// The module reclaims the output buffer on free; the result must
	// have been copied out of linear memory before that.
	c, _ := testWASMCalculator(`{"value":7}`, nil)

	value, err := c.Calculate(context.Background(), nil, map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if value != float64(7) {
		t.Errorf("Expected 7, got %v", value)
	}
}

func TestWASMCalculator_ConcurrentCallsSerialized(t *testing.T) {
	// One instance shares one linear memory, so overlapping calls would
	// corrupt each other's buffers.
	var active, overlapped int32
	c, _ := testWASMCalculator(`{"value":1}`, func() {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Calculate(context.Background(), nil, map[string]interface{}{"x": 1}); err != nil {
				t.Errorf("Calculate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&overlapped) != 0 {
		t.Error("Expected calls against one instance to be serialized")
	}
}
