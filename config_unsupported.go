//go:build !amd64

package wasmjit

// CompilerSupported reports whether this process can compile and run wasm modules at all.
const CompilerSupported = false

func newRuntimeConfig() RuntimeConfig {
	return newRuntimeConfigBase()
}
