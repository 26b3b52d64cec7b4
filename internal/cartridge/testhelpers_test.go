package cartridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/pixelhost/internal/wasm"
	"github.com/woxQAQ/pixelhost/internal/wasm/wasmtest"
)

// writeCartridge creates base/name with a manifest and the paint guest.
func writeCartridge(t *testing.T, base, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "game.wasm"), wasmtest.Paint().Binary(), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func validManifest(name string) string {
	return "name: " + name + `
version: 1.0.0
title: Paint Demo
wasm:
  file: game.wasm
display:
  width: 64
  height: 48
`
}

func newTestRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()
	ctx := context.Background()
	runtime, err := wasm.NewRuntime(ctx, zaptest.NewLogger(t), wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })
	return runtime
}

type nopEnv struct{}

func (nopEnv) Debug(string)                 {}
func (nopEnv) WindowSize() (uint64, uint64) { return 0, 0 }
func (nopEnv) MousePos() (uint64, uint64)   { return 0, 0 }
