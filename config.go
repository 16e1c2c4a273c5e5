package wasmjit

import "context"

// RuntimeConfig controls Runtime behavior, with the default produced by NewRuntimeConfig.
//
// Unlike the teacher's RuntimeConfig, there is no interpreter fallback and no feature-toggle
// surface: the wasm 1.0 MVP instruction set this compiler accepts is fixed, and a module that uses
// anything beyond it is rejected by the decoder before a RuntimeConfig is ever consulted.
type RuntimeConfig struct {
	ctx            context.Context
	memoryMaxPages uint32
}

// newRuntimeConfigBase is the architecture-independent default; newRuntimeConfig
// (config_supported.go/config_unsupported.go) decides whether a compiler engine is available atop
// it.
func newRuntimeConfigBase() RuntimeConfig {
	return RuntimeConfig{
		ctx:            context.Background(),
		memoryMaxPages: 65536,
	}
}

// NewRuntimeConfig returns the default RuntimeConfig for the running GOARCH: a compiler-backed
// config on amd64, or one that fails fast at NewRuntime time everywhere else (spec §1: other
// architectures are a non-goal, and there is no interpreter to fall back to).
func NewRuntimeConfig() RuntimeConfig {
	return newRuntimeConfig()
}

// WithContext sets the default context used when a module's start function is invoked during
// InstantiateModule. Defaults to context.Background if nil.
func (c RuntimeConfig) WithContext(ctx context.Context) RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	return c
}

// WithMemoryMaxPages reduces the maximum number of 64KiB pages a module's memory may grow to from
// the wasm 1.0 hard limit of 65536. A module that declares a smaller explicit max is unaffected; a
// memory.grow that would exceed this value fails (returns -1) rather than trapping.
func (c RuntimeConfig) WithMemoryMaxPages(memoryMaxPages uint32) RuntimeConfig {
	c.memoryMaxPages = memoryMaxPages
	return c
}

// ModuleConfig configures a single InstantiateModule call. Defaults to the name decoded from the
// module's own name section, if any.
type ModuleConfig struct {
	name string
}

// NewModuleConfig returns an empty ModuleConfig.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName overrides the module's instance name, used both for diagnostics and to key the Store
// namespace entries a later module's imports may resolve against.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	c.name = name
	return c
}
