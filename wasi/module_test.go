package wasi

// A tiny wasm module assembled by hand so the tests need no toolchain.

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func i32Const(v int64) []byte { return append([]byte{0x41}, sleb(v)...) }
func i64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }
func callFunc(idx uint64) []byte {
	return append([]byte{0x10}, uleb(idx)...)
}

func body(instrs ...[]byte) []byte {
	code := append([]byte{0x00}, concat(instrs...)...) // no locals
	code = append(code, 0x0b)
	return append(uleb(uint64(len(code))), code...)
}

const (
	testBufferAddr = 1024
	testArgsAddr   = 2048
	testInputAddr  = 4096
)

// testModule exports actor, burn, fail and nested. nestedArgs is placed at
// testArgsAddr and passed to the invoke host function by nested.
func testModule(burnUnits int64, nestedArgs []byte) []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
	)
	types := section(1, vec(
		[]byte{0x60, 4, i32, i32, i32, i32, 1, i32}, // host calls
		[]byte{0x60, 1, i64, 0},                     // consume units
		[]byte{0x60, 0, 1, i32},                     // get_buffer_address
		[]byte{0x60, 1, i32, 1, i32},                // allocate
		[]byte{0x60, 2, i32, i32, 1, i32},           // exports
	))
	imports := section(2, vec(
		concat(wasmName("env"), wasmName("call_host_get_buffer"), []byte{0x00, 0}),
		concat(wasmName("env"), wasmName("consume_wasm_execution_units"), []byte{0x00, 1}),
	))
	functions := section(3, vec([]byte{2}, []byte{3}, []byte{4}, []byte{4}, []byte{4}, []byte{4}))
	memory := section(5, vec([]byte{0x00, 0x01}))
	exports := section(7, vec(
		concat(wasmName("memory"), []byte{0x02, 0}),
		concat(wasmName("get_buffer_address"), []byte{0x00, 2}),
		concat(wasmName("allocate"), []byte{0x00, 3}),
		concat(wasmName("actor"), []byte{0x00, 4}),
		concat(wasmName("burn"), []byte{0x00, 5}),
		concat(wasmName("fail"), []byte{0x00, 6}),
		concat(wasmName("nested"), []byte{0x00, 7}),
	))
	code := section(10, vec(
		body(i32Const(testBufferAddr)),
		body(i32Const(testInputAddr)),
		body(i32Const(1), i32Const(0), i32Const(0), i32Const(testBufferAddr), callFunc(0)),
		body(i64Const(burnUnits), callFunc(1), i32Const(0)),
		body(i32Const(-4)),
		body(i32Const(10), i32Const(testArgsAddr), i32Const(int64(len(nestedArgs))), i32Const(testBufferAddr), callFunc(0)),
	))
	data := section(11, vec(
		concat([]byte{0x00}, i32Const(testBufferAddr), []byte{0x0b}, uleb(4), []byte("boom")),
		concat([]byte{0x00}, i32Const(testArgsAddr), []byte{0x0b}, uleb(uint64(len(nestedArgs))), nestedArgs),
	))
	header := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}
	return concat(header, types, imports, functions, memory, exports, code, data)
}
