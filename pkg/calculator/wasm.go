package calculator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/openrules/openrules/pkg/engine"
)

// WASMCalculator runs a compiled WASM module as a custom calculator.
// The module must export linear memory, malloc/free, and a "calculate"
// function with the signature
//
//	calculate(input_ptr: u32, input_len: u32) -> u64
//
// where the return value packs (output_ptr << 32) | output_len. Input
// and output are JSON: the input carries {"parameters": ..., "fields":
// ...}, the output either {"value": ...} or {"error": "..."}.
//
// A module instance shares one linear memory; calls are serialized.
type WASMCalculator struct {
	name    string
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	calc    api.Function
	timeout time.Duration

	// mu serializes malloc/calculate/free against the shared instance.
	mu sync.Mutex
}

// NewWASMCalculator instantiates the module and resolves its exports.
func NewWASMCalculator(ctx context.Context, name string, blob []byte, timeout time.Duration) (*WASMCalculator, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rt := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	module, err := rt.Instantiate(ctx, blob)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module %q: %w", name, err)
	}

	c := &WASMCalculator{
		name:    name,
		runtime: rt,
		module:  module,
		timeout: timeout,
	}

	c.memory = module.Memory()
	if c.memory == nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("WASM module %q does not export memory", name)
	}
	for _, export := range []struct {
		name string
		dst  *api.Function
	}{
		{"malloc", &c.malloc},
		{"free", &c.free},
		{"calculate", &c.calc},
	} {
		fn := module.ExportedFunction(export.name)
		if fn == nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("WASM module %q does not export %s function", name, export.name)
		}
		*export.dst = fn
	}
	return c, nil
}

// Close releases the module's runtime.
func (c *WASMCalculator) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

func (c *WASMCalculator) Name() string { return c.name }

func (c *WASMCalculator) ValidateParameters(params map[string]interface{}) error {
	_, err := json.Marshal(params)
	return err
}

func (c *WASMCalculator) Calculate(ctx context.Context, params map[string]interface{}, fieldValues map[string]interface{}) (interface{}, error) {
	input, err := json.Marshal(map[string]interface{}{
		"parameters": params,
		"fields":     fieldValues,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal calculator input: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.call(callCtx, input)
	if err != nil {
		return nil, engine.NewPermanentError("wasm calculator failed", err).
			WithCode(engine.ErrCodeCalculator).
			WithField(c.name)
	}

	var result struct {
		Value interface{} `json:"value"`
		Error string      `json:"error"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calculator output: %w", err)
	}
	if result.Error != "" {
		return nil, engine.NewPermanentError("wasm calculator reported an error", fmt.Errorf("%s", result.Error)).
			WithCode(engine.ErrCodeCalculator).
			WithField(c.name)
	}
	return result.Value, nil
}

// call moves the input through WASM linear memory and reads the packed
// pointer/length result back out.
func (c *WASMCalculator) call(ctx context.Context, input []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := c.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer c.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))
		if !c.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := c.calc.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	view, ok := c.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}

	// Read returns a view into linear memory; copy it out before the
	// module reclaims the buffer. A failed free does not invalidate the
	// result.
	output := make([]byte, len(view))
	copy(output, view)
	_ = c.deallocate(ctx, outputPtr)

	return output, nil
}

func (c *WASMCalculator) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := c.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (c *WASMCalculator) deallocate(ctx context.Context, ptr uint32) error {
	_, err := c.free.Call(ctx, uint64(ptr))
	if err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}
