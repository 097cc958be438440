package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"xvm/internal/diagfmt"
	"xvm/internal/vm"
)

const helloSource = `module hello

function main 0 1
    INJECT :console -> r0
    INVOKE r0, :println, "hi"
    ADD 40, 2 -> r1
    RETURN r1
end

function inc 1 1
    ADD r0, 1 -> r1
    RETURN r1
end

function fail 0 0
    THROW "boom"
end
`

// execute runs the root command with args and restores every flag to its
// default afterwards.
func execute(t *testing.T, args ...string) (string, error) {
	out, _, err := executeBoth(t, args...)
	return out, err
}

func executeBoth(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		resetFlags(rootCmd)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeHello(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello.xasm")
	writeFile(t, path, helloSource)
	return path
}

func TestRunPrintsConsoleAndResults(t *testing.T) {
	out, err := execute(t, "run", writeHello(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "hi\n42\n" {
		t.Fatalf("want %q, got %q", "hi\n42\n", out)
	}
}

func TestRunPassesArguments(t *testing.T) {
	out, err := execute(t, "run", "--entry", "inc", writeHello(t), "41")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "42\n" {
		t.Fatalf("want 42, got %q", out)
	}
}

func TestRunReportsFault(t *testing.T) {
	_, err := execute(t, "run", "--entry", "fail", "--no-cache", writeHello(t))
	var he *vm.HostError
	if !errors.As(err, &he) {
		t.Fatalf("want *vm.HostError, got %v", err)
	}
	if he.Fault.Message() != "boom" {
		t.Fatalf("want boom, got %q", he.Fault.Message())
	}
}

func TestRingTraceDumpedOnFault(t *testing.T) {
	_, errOut, err := executeBoth(t, "run", "--trace-level", "service", "--trace-mode", "ring",
		"--entry", "fail", "--no-cache", writeHello(t))
	if err == nil {
		t.Fatalf("want the run to fail")
	}
	if !strings.Contains(errOut, "trace: last") || !strings.Contains(errOut, "service:start") {
		t.Fatalf("want ring dump on stderr, got:\n%s", errOut)
	}

	_, errOut, err = executeBoth(t, "run", "--trace-level", "service", "--trace-mode", "ring", "--entry", "main", writeHello(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(errOut, "trace: last") {
		t.Fatalf("want no dump for a clean run, got:\n%s", errOut)
	}
}

func TestRunUsesManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "hello.xasm"), helloSource)
	writeFile(t, filepath.Join(root, manifestName), `[package]
name = "hello"
[run]
main = "src/hello.xasm"
entry = "inc"
[cache]
dir = ".cache"
`)
	t.Chdir(root)

	out, err := execute(t, "run", "1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "2\n" {
		t.Fatalf("want 2, got %q", out)
	}
	entries, err := os.ReadDir(filepath.Join(root, ".cache"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("want one cached image, got %d (%v)", len(entries), err)
	}
}

func TestRunWithoutManifest(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "run")
	if err == nil || !strings.Contains(err.Error(), "no xvm.toml found") {
		t.Fatalf("want missing manifest error, got %v", err)
	}
}

func TestAsmWritesImage(t *testing.T) {
	src := writeHello(t)
	img := filepath.Join(t.TempDir(), "hello.xvmi")
	if _, err := execute(t, "asm", "-o", img, src); err != nil {
		t.Fatalf("asm: %v", err)
	}

	out, err := execute(t, "run", img)
	if err != nil {
		t.Fatalf("run image: %v", err)
	}
	if out != "hi\n42\n" {
		t.Fatalf("want image to run like the source, got %q", out)
	}

	out, err = execute(t, "dis", img)
	if err != nil {
		t.Fatalf("dis: %v", err)
	}
	if !strings.Contains(out, "function main") || !strings.Contains(out, "RETURN") {
		t.Fatalf("want disassembly of main, got:\n%s", out)
	}
}

func TestAsmRejectsBadSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xasm")
	writeFile(t, path, "module bad\n\nfunction main 0 0\n    FROB r0\nend\n")
	_, err := execute(t, "asm", path)
	if !errors.Is(err, errAssembly) {
		t.Fatalf("want assembly failure, got %v", err)
	}
}

func TestAsmJSONDiagnostics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xasm")
	writeFile(t, path, "module bad\n\nfunction main 0 0\n    FROB r0\nend\n")
	_, errOut, err := executeBoth(t, "asm", "--diag-format", "json", "--path-mode", "basename", path)
	if !errors.Is(err, errAssembly) {
		t.Fatalf("want assembly failure, got %v", err)
	}
	var got diagfmt.DiagnosticsOutput
	if err := json.Unmarshal([]byte(errOut), &got); err != nil {
		t.Fatalf("want JSON diagnostics on stderr: %v\n%s", err, errOut)
	}
	if got.Count == 0 || got.Diagnostics[0].Location.File != "bad.xasm" || got.Diagnostics[0].Location.StartLine != 4 {
		t.Fatalf("want a diagnostic on bad.xasm line 4, got %+v", got)
	}
}

func TestAsmOutputNeedsOneFile(t *testing.T) {
	_, err := execute(t, "asm", "-o", "x.xvmi", "a.xasm", "b.xasm")
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("want single input error, got %v", err)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, `"version"`) {
		t.Fatalf("want json banner, got %q", out)
	}
}

func TestProgramArgs(t *testing.T) {
	reg := vm.NewRegistry()
	got := programArgs(reg, []string{"12", "-3", "true", "null", "x1"})
	want := []string{"12", "-3", "true", "null", "x1"}
	for i, h := range got {
		if vm.Display(h) != want[i] {
			t.Fatalf("arg %d: want %s, got %s", i, want[i], vm.Display(h))
		}
	}
	if _, ok := got[0].(vm.IntHandle); !ok {
		t.Fatalf("want Int for 12, got %T", got[0])
	}
	if _, ok := got[4].(vm.StringHandle); !ok {
		t.Fatalf("want String for x1, got %T", got[4])
	}
}
