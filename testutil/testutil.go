// Package testutil provides stub toolchains and fixtures for tests that
// drive real child processes.
package testutil

import (
	"archive/zip"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteScript writes an executable shell script named name into dir.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + strings.TrimLeft(body, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0755), "write script %s", name)
	return path
}

// WriteBundle writes a zip archive at path containing entries.
func WriteBundle(t *testing.T, path string, entries map[string]string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

// Toolchain is a stub generator/server pair.
type Toolchain struct {
	Dir       string
	Generator string
	Server    string
	// Canned is the bundle the generator copies into its output directory.
	Canned string
	// ArgsLog receives the server's command line, one argument per line.
	ArgsLog string
}

// GeneratorOK returns a generator body that copies canned into the output
// directory and exits 0.
func GeneratorOK(canned string) string {
	return fmt.Sprintf(`
while [ $# -gt 0 ]; do
  case "$1" in
    --outputpath) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
echo "generating into $out"
cp %q "$out/AP_12345.zip"
`, canned)
}

// GeneratorFail returns a generator body that writes stderr and exits code.
func GeneratorFail(stderr string, code int) string {
	return fmt.Sprintf("echo %q 1>&2\nexit %d\n", stderr, code)
}

// ServerBody returns a server body that records its arguments, prints lines
// to stdout and then stays alive until terminated.
func ServerBody(argsLog string, lines ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "for a in \"$@\"; do echo \"$a\" >> %q; done\n", argsLog)
	for _, line := range lines {
		fmt.Fprintf(&b, "echo %q\n", line)
	}
	b.WriteString("exec sleep 30\n")
	return b.String()
}

// NewToolchain writes a working stub toolchain. The canned bundle contains
// one patch file per slot.
func NewToolchain(t *testing.T, slots []string, serverLines ...string) *Toolchain {
	t.Helper()

	dir := t.TempDir()
	entries := map[string]string{"AP_12345.archipelago": "multidata"}
	for i, slot := range slots {
		entries[fmt.Sprintf("AP_12345_P%d_%s.apz5", i+1, slot)] = slot
	}
	canned := WriteBundle(t, filepath.Join(dir, "canned", "AP_12345.zip"), entries)

	tc := &Toolchain{
		Dir:     dir,
		Canned:  canned,
		ArgsLog: filepath.Join(dir, "server-args.log"),
	}
	tc.Generator = WriteScript(t, dir, "ArchipelagoGenerate", GeneratorOK(canned))
	tc.Server = WriteScript(t, dir, "ArchipelagoServer", ServerBody(tc.ArgsLog, serverLines...))
	return tc
}

// ServerArgs returns the arguments the stub server was started with.
func (tc *Toolchain) ServerArgs(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(tc.ArgsLog)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// RandomString generates a random string of the specified length
func RandomString(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)[:length]
}
