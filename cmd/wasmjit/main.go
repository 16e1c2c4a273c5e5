// Command wasmjit is the CLI driver collaborator (spec §6 names the Linux character device and
// binfmt handler as the "real" collaborators; this gives the same compile/instantiate/invoke path
// a terminal-friendly front end for development and CI use, the way cmd/wazero does for wazero).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kennyngo/wasmjit-go/api"
	wasmjit "github.com/kennyngo/wasmjit-go"
	"github.com/kennyngo/wasmjit-go/internal/wasm/binary"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "wasmjit",
		Short:         "Compile and run WebAssembly 1.0 modules with the x86-64 JIT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "trace decode, instantiate and invoke steps to stderr")

	root.AddCommand(newValidateCmd(&verbose), newCompileCmd(&verbose), newRunCmd(&verbose))
	return root
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		// zap's own development config never fails to build; degrade to a no-op rather than
		// abort a CLI invocation over a logger we can live without.
		return zap.NewNop()
	}
	return logger
}

func newValidateCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path.wasm>",
		Short: "Decode a wasm binary and report whether it is well-formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)
			defer logger.Sync()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			logger.Debug("decoding module", zap.String("path", args[0]), zap.Int("bytes", len(raw)))

			m, err := binary.DecodeBytes(raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d types, %d functions, %d imports, %d exports\n",
				len(m.TypeSection), len(m.FunctionSection), len(m.ImportSection), len(m.ExportSection))
			return nil
		},
	}
}

func newCompileCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <path.wasm>",
		Short: "Decode and JIT-compile a wasm binary without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)
			defer logger.Sync()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			ctx := context.Background()
			rt, err := wasmjit.NewRuntime(ctx)
			if err != nil {
				return err
			}

			compiled, err := rt.CompileModule(raw)
			if err != nil {
				return err
			}
			logger.Info("decoded module", zap.String("name", compiled.Name()))

			mod, err := rt.InstantiateModule(ctx, compiled, wasmjit.NewModuleConfig())
			if err != nil {
				return err
			}
			defer mod.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "compiled %s\n", args[0])
			return nil
		},
	}
}

func newRunCmd(verbose *bool) *cobra.Command {
	var fn string

	cmd := &cobra.Command{
		Use:   "run <path.wasm> [args...]",
		Short: "Instantiate a wasm binary and invoke an exported function",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*verbose)
			defer logger.Sync()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			ctx := context.Background()
			rt, err := wasmjit.NewRuntime(ctx)
			if err != nil {
				return err
			}

			compiled, err := rt.CompileModule(raw)
			if err != nil {
				return err
			}
			logger.Debug("instantiating", zap.String("name", compiled.Name()))

			mod, err := rt.InstantiateModule(ctx, compiled, wasmjit.NewModuleConfig())
			if err != nil {
				return err
			}
			defer mod.Close()

			if fn == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "instantiated %s (no --func given, nothing invoked)\n", args[0])
				return nil
			}

			f, ok := mod.ExportedFunction(fn)
			if !ok {
				return fmt.Errorf("%s exports no function %q", args[0], fn)
			}

			callArgs, err := parseCallArgs(args[1:], f.ParamCount())
			if err != nil {
				return err
			}

			logger.Debug("invoking", zap.String("func", fn), zap.Int("params", len(callArgs)))
			results, err := f.Call(ctx, callArgs...)
			if err != nil {
				if te, ok := err.(*api.Error); ok {
					return fmt.Errorf("trap: %s", te.Code)
				}
				return err
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fn, "func", "", "exported function to invoke after instantiation")
	return cmd
}

// parseCallArgs interprets each CLI argument as the raw bit pattern of one wasm argument word.
// This CLI is a development aid, not an embedding API consumer, so it has no access to a
// function's declared parameter types (i32 vs f64 etc.) beyond their count; callers invoking a
// function that takes floats should pass the IEEE-754 bit pattern as a decimal integer.
func parseCallArgs(raw []string, wantCount int) ([]uint64, error) {
	if len(raw) != wantCount {
		return nil, fmt.Errorf("function takes %d argument word(s), got %d", wantCount, len(raw))
	}
	out := make([]uint64, len(raw))
	for i, s := range raw {
		var v uint64
		if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
			return nil, fmt.Errorf("argument %d (%q): %w", i, s, err)
		}
		out[i] = v
	}
	return out, nil
}
