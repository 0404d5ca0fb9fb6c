package orchestrator

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(generator, server string) *Orchestrator {
	return New(Options{
		GeneratorPath:     generator,
		ServerPath:        server,
		GenerationTimeout: 10 * time.Second,
	}, nil)
}

func TestGenerate(t *testing.T) {
	tc := testutil.NewToolchain(t, []string{"Alice"})
	o := newOrchestrator(tc.Generator, tc.Server)

	uploads := t.TempDir()
	output := filepath.Join(t.TempDir(), "games")

	bundle, err := o.Generate(context.Background(), uploads, output)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(output, "AP_12345.zip"), bundle)
	assert.False(t, o.Generating())
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		code     errors.ErrorCode
		contains string
	}{
		{
			name:     "non-zero exit carries stderr",
			body:     testutil.GeneratorFail("bad config", 1),
			code:     errors.ErrCodeGenerationFailed,
			contains: "bad config",
		},
		{
			name:     "zero exit without bundle",
			body:     "exit 0\n",
			code:     errors.ErrCodeBundleNotFound,
			contains: "Could not find generated game zip file.",
		},
		{
			name: "two bundles",
			body: `
while [ $# -gt 0 ]; do
  case "$1" in
    --outputpath) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
touch "$out/a.zip" "$out/b.zip"
`,
			code:     errors.ErrCodeBundleAmbiguous,
			contains: "found 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			gen := testutil.WriteScript(t, dir, "gen", tt.body)
			o := newOrchestrator(gen, "unused")

			_, err := o.Generate(context.Background(), t.TempDir(), filepath.Join(dir, "out"))
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.Contains(t, errors.UserMessage(err), tt.contains)
		})
	}
}

func TestGenerateMissingExecutable(t *testing.T) {
	o := newOrchestrator(filepath.Join(t.TempDir(), "missing"), "unused")

	_, err := o.Generate(context.Background(), t.TempDir(), t.TempDir())
	assert.Equal(t, errors.ErrCodeCommandNotFound, errors.GetCode(err))
}

func TestGenerateTimeout(t *testing.T) {
	gen := testutil.WriteScript(t, t.TempDir(), "gen", "exec sleep 10\n")
	o := New(Options{GeneratorPath: gen, GenerationTimeout: 200 * time.Millisecond}, nil)

	start := time.Now()
	_, err := o.Generate(context.Background(), t.TempDir(), t.TempDir())
	assert.Equal(t, errors.ErrCodeCommandTimeout, errors.GetCode(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGenerateRejectsConcurrentRuns(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")
	gen := testutil.WriteScript(t, dir, "gen", "touch "+marker+"\nexec sleep 2\n")
	o := newOrchestrator(gen, "unused")

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), t.TempDir(), filepath.Join(dir, "out1"))
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err := o.Generate(context.Background(), t.TempDir(), filepath.Join(dir, "out2"))
	assert.Equal(t, errors.ErrCodeProcessBusy, errors.GetCode(err))

	<-done
}

func TestHostArgs(t *testing.T) {
	tests := []struct {
		name   string
		params HostParams
		want   []string
	}{
		{
			name:   "only binding",
			params: HostParams{Host: "0.0.0.0", Port: 38281},
			want:   []string{"--host", "0.0.0.0", "--port", "38281", "game.zip"},
		},
		{
			name: "all options",
			params: HostParams{
				Host:          "0.0.0.0",
				Port:          38281,
				Password:      "secret",
				ReleaseMode:   "goal",
				CollectMode:   "auto-enabled",
				RemainingMode: "disabled",
			},
			want: []string{
				"--host", "0.0.0.0", "--port", "38281",
				"--password", "secret",
				"--release_mode", "goal",
				"--collect_mode", "auto-enabled",
				"--remaining_mode", "disabled",
				"game.zip",
			},
		},
		{
			name:   "collect mode only",
			params: HostParams{Host: "127.0.0.1", Port: 1, CollectMode: "enabled"},
			want:   []string{"--host", "127.0.0.1", "--port", "1", "--collect_mode", "enabled", "game.zip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HostArgs("game.zip", tt.params))
		})
	}
}

func TestValidateHostParams(t *testing.T) {
	o := newOrchestrator("gen", "server")

	assert.NoError(t, o.ValidateHostParams(HostParams{Host: "0.0.0.0", Port: 38281, ReleaseMode: "auto"}))

	tests := []struct {
		name   string
		params HostParams
	}{
		{"bad port", HostParams{Host: "0.0.0.0", Port: 0}},
		{"bad host", HostParams{Host: "", Port: 38281}},
		{"bad release mode", HostParams{Host: "0.0.0.0", Port: 38281, ReleaseMode: "never"}},
		{"remaining rejects auto", HostParams{Host: "0.0.0.0", Port: 38281, RemainingMode: "auto"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.ValidateHostParams(tt.params)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestHostAndTerminate(t *testing.T) {
	tc := testutil.NewToolchain(t, nil, "Alice sent Sword to Bob.")
	o := newOrchestrator(tc.Generator, tc.Server)

	proc, err := o.Host(context.Background(), "/tmp/game.zip", HostParams{
		Host:        "127.0.0.1",
		Port:        38281,
		Password:    "pw",
		ReleaseMode: "enabled",
	})
	require.NoError(t, err)
	defer proc.Close()

	scanner := bufio.NewScanner(proc.Stdout())
	require.True(t, scanner.Scan())
	assert.Equal(t, "Alice sent Sword to Bob.", scanner.Text())

	assert.Equal(t, []string{
		"--host", "127.0.0.1", "--port", "38281", "--password", "pw", "--release_mode", "enabled", "/tmp/game.zip",
	}, tc.ServerArgs(t))

	_, err = o.Host(context.Background(), "/tmp/game.zip", HostParams{Host: "127.0.0.1", Port: 38281})
	assert.Equal(t, errors.ErrCodeProcessBusy, errors.GetCode(err))

	require.NoError(t, o.Terminate(2*time.Second))
	assert.False(t, proc.Alive())
	assert.Nil(t, o.Hosted())

	// Nothing hosted any more.
	assert.NoError(t, o.Terminate(time.Second))
}

func TestHostMissingExecutable(t *testing.T) {
	o := newOrchestrator("gen", filepath.Join(t.TempDir(), "missing"))

	_, err := o.Host(context.Background(), "game.zip", HostParams{Host: "0.0.0.0", Port: 38281})
	assert.Equal(t, errors.ErrCodeCommandNotFound, errors.GetCode(err))
}
