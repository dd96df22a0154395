package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cmdResult struct {
	out  string
	code int
	err  error
}

// fakeCommander answers by "tool arg arg..." key; tools absent from
// installed are reported missing.
type fakeCommander struct {
	installed map[string]bool
	results   map[string]cmdResult
	calls     []string
}

func (f *fakeCommander) LookPath(name string) (string, error) {
	if f.installed[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

func (f *fakeCommander) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	r, ok := f.results[key]
	if !ok {
		return nil, 1, nil
	}
	return []byte(r.out), r.code, r.err
}

func installed(tools ...string) map[string]bool {
	m := make(map[string]bool)
	for _, t := range tools {
		m[t] = true
	}
	return m
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckProcess_Linux(t *testing.T) {
	tests := []struct {
		name       string
		cmd        *fakeCommander
		wantFound  bool
		wantMethod string
		wantDaemon string
		wantSum    string
	}{
		{
			name: "ps listing finds daemon",
			cmd: &fakeCommander{
				installed: installed("ps", "pidof", "pgrep"),
				results: map[string]cmdResult{
					"ps -eo comm=": {out: "systemd\nsshd\nbitcoind\n"},
				},
			},
			wantFound: true, wantMethod: "ps", wantDaemon: "bitcoind",
			wantSum: "process check succeeded via ps",
		},
		{
			name: "falls back to pidof",
			cmd: &fakeCommander{
				installed: installed("ps", "pidof", "pgrep"),
				results: map[string]cmdResult{
					"ps -eo comm=":   {out: "systemd\nsshd\n"},
					"pidof btcd":     {out: "4242\n"},
					"pidof bitcoind": {code: 1},
				},
			},
			wantFound: true, wantMethod: "pidof", wantDaemon: "btcd",
			wantSum: "process check succeeded via pidof",
		},
		{
			name: "ps missing, pgrep pattern matches",
			cmd: &fakeCommander{
				installed: installed("pgrep"),
				results: map[string]cmdResult{
					"pgrep -f " + commandLinePattern("bitcoin-qt"): {out: "977\n"},
				},
			},
			wantFound: true, wantMethod: "pgrep-pattern", wantDaemon: "bitcoin-qt",
			wantSum: "process check succeeded via pgrep-pattern",
		},
		{
			name: "nothing found",
			cmd: &fakeCommander{
				installed: installed("ps", "pgrep"),
				results: map[string]cmdResult{
					"ps -eo comm=": {out: "init\n"},
				},
			},
			wantMethod: MethodNone,
			wantSum:    "process check failed via ps and pgrep-pattern; pidof unavailable on this OS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInspector(tt.cmd, "linux", quietLogger())
			check, report := in.CheckProcess(context.Background(), nil)

			assert.Equal(t, tt.wantFound, check.Found)
			assert.Equal(t, tt.wantMethod, check.Method)
			assert.Equal(t, tt.wantDaemon, check.DaemonName)
			assert.Equal(t, tt.wantSum, report.Summary())
		})
	}
}

func TestCheckProcess_PatternIgnoresOwnProcess(t *testing.T) {
	pattern := "pgrep -f " + commandLinePattern("dingocoind")

	tests := []struct {
		name      string
		out       string
		wantFound bool
	}{
		{name: "only this process", out: fmt.Sprintf("%d\n", os.Getpid())},
		{name: "this process and its parent", out: fmt.Sprintf("%d\n%d\n", os.Getpid(), os.Getppid())},
		{name: "daemon running too", out: fmt.Sprintf("%d\n31337\n", os.Getpid()), wantFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &fakeCommander{
				installed: installed("pgrep"),
				results:   map[string]cmdResult{pattern: {out: tt.out}},
			}
			check, _ := NewInspector(cmd, "linux", quietLogger()).CheckProcess(context.Background(), []string{"dingocoind"})
			assert.Equal(t, tt.wantFound, check.Found)
		})
	}
}

func TestCommandLinePattern(t *testing.T) {
	re := regexp.MustCompile(commandLinePattern("dingocoind"))

	assert.True(t, re.MatchString("dingocoind -daemon"))
	assert.True(t, re.MatchString("/usr/local/bin/dingocoind"))
	assert.False(t, re.MatchString("nodeclaim-probe run --daemon dingocoind"))
	assert.False(t, re.MatchString("/opt/dingocoind-backup/tool"))
}

func TestCheckProcess_Windows(t *testing.T) {
	cmd := &fakeCommander{
		installed: installed("tasklist", "powershell"),
		results: map[string]cmdResult{
			"tasklist /FO CSV /NH": {out: "\"System\",\"4\",\"Services\",\"0\",\"144 K\"\r\n\"bitcoind.exe\",\"5120\",\"Console\",\"1\",\"812,004 K\"\r\n"},
		},
	}
	check, _ := NewInspector(cmd, "windows", quietLogger()).CheckProcess(context.Background(), []string{"bitcoind"})
	assert.True(t, check.Found)
	assert.Equal(t, "tasklist", check.Method)
	assert.Equal(t, "bitcoind", check.DaemonName)
}

func TestCheckProcess_WindowsFilterInfoLine(t *testing.T) {
	cmd := &fakeCommander{
		installed: installed("tasklist"),
		results: map[string]cmdResult{
			"tasklist /FO CSV /NH":                               {code: 2},
			"tasklist /FO CSV /NH /FI IMAGENAME eq bitcoind.exe": {out: "INFO: No tasks are running which match the specified criteria.\r\n"},
		},
	}
	check, report := NewInspector(cmd, "windows", quietLogger()).CheckProcess(context.Background(), []string{"bitcoind"})
	assert.False(t, check.Found)
	assert.Equal(t, "process check failed via tasklist and tasklist-filter; powershell unavailable on this OS", report.Summary())
}

func TestCheckPort(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		cmd        *fakeCommander
		wantListen bool
		wantMethod string
		wantSum    string
	}{
		{
			name: "linux netstat",
			goos: "linux",
			cmd: &fakeCommander{
				installed: installed("netstat", "ss", "lsof"),
				results: map[string]cmdResult{
					"netstat -tln": {out: "Proto Recv-Q Send-Q Local Address Foreign Address State\ntcp 0 0 0.0.0.0:8333 0.0.0.0:* LISTEN\n"},
				},
			},
			wantListen: true, wantMethod: "netstat",
			wantSum: "port check succeeded via netstat",
		},
		{
			name: "linux ss after netstat misses",
			goos: "linux",
			cmd: &fakeCommander{
				installed: installed("netstat", "ss"),
				results: map[string]cmdResult{
					"netstat -tln": {out: "tcp 0 0 0.0.0.0:18333 0.0.0.0:* LISTEN\n"},
					"ss -tln":      {out: "State Recv-Q Send-Q Local Address:Port Peer Address:Port\nLISTEN 0 125 [::]:8333 [::]:*\n"},
				},
			},
			wantListen: true, wantMethod: "ss",
			wantSum: "port check succeeded via ss",
		},
		{
			name: "darwin netstat dot separator",
			goos: "darwin",
			cmd: &fakeCommander{
				installed: installed("netstat", "lsof"),
				results: map[string]cmdResult{
					"netstat -an -p tcp": {out: "tcp4 0 0 *.8333 *.* LISTEN\n"},
				},
			},
			wantListen: true, wantMethod: "netstat",
			wantSum: "port check succeeded via netstat",
		},
		{
			name: "darwin lsof fallback",
			goos: "darwin",
			cmd: &fakeCommander{
				installed: installed("netstat", "lsof"),
				results: map[string]cmdResult{
					"netstat -an -p tcp":               {out: "tcp4 0 0 10.0.0.2.51234 1.2.3.4.8333 ESTABLISHED\n"},
					"lsof -nP -iTCP:8333 -sTCP:LISTEN": {out: "COMMAND PID USER FD TYPE\nbitcoind 81 me 12u IPv4 TCP *:8333 (LISTEN)\n"},
				},
			},
			wantListen: true, wantMethod: "lsof",
			wantSum: "port check succeeded via lsof",
		},
		{
			name: "linux nothing listening",
			goos: "linux",
			cmd: &fakeCommander{
				installed: installed("netstat", "ss"),
				results: map[string]cmdResult{
					"netstat -tln": {out: "tcp 0 0 127.0.0.1:5432 0.0.0.0:* LISTEN\n"},
					"ss -tln":      {err: context.DeadlineExceeded},
				},
			},
			wantMethod: MethodNone,
			wantSum:    "port check failed via netstat and ss; lsof unavailable on this OS",
		},
		{
			name: "windows netstat LISTENING",
			goos: "windows",
			cmd: &fakeCommander{
				installed: installed("netstat"),
				results: map[string]cmdResult{
					"netstat -ano -p TCP": {out: "  TCP    0.0.0.0:8333    0.0.0.0:0    LISTENING    5120\r\n"},
				},
			},
			wantListen: true, wantMethod: "netstat",
			wantSum: "port check succeeded via netstat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, report := NewInspector(tt.cmd, tt.goos, quietLogger()).CheckPort(context.Background(), 8333)
			assert.Equal(t, tt.wantListen, check.Listening)
			assert.Equal(t, 8333, check.Port)
			assert.Equal(t, tt.wantMethod, check.Method)
			assert.Equal(t, tt.wantSum, report.Summary())
		})
	}
}

func TestCheckPort_StopsAtFirstSuccess(t *testing.T) {
	cmd := &fakeCommander{
		installed: installed("netstat", "ss", "lsof"),
		results: map[string]cmdResult{
			"netstat -tln": {out: "tcp 0 0 0.0.0.0:8333 0.0.0.0:* LISTEN\n"},
		},
	}
	_, report := NewInspector(cmd, "linux", quietLogger()).CheckPort(context.Background(), 8333)
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, []string{"netstat -tln"}, cmd.calls)
}

func TestListensOn(t *testing.T) {
	out := []byte("tcp 0 0 0.0.0.0:18333 0.0.0.0:* LISTEN\ntcp 0 0 10.0.0.2:8333 10.0.0.9:40000 ESTABLISHED\n")
	assert.False(t, listensOn(out, 8333))
	assert.True(t, listensOn(out, 18333))
}

func TestProcessName(t *testing.T) {
	assert.Equal(t, "bitcoind", processName("/usr/local/bin/bitcoind"))
	assert.Equal(t, "bitcoind.exe", processName(`"bitcoind.exe","5120","Console"`))
	assert.Equal(t, "", processName("   "))
}

func TestReportSummary_AllUnavailable(t *testing.T) {
	r := Report{Check: "port check", Attempts: []Attempt{
		{Mechanism: "netstat", Outcome: OutcomeUnavailable},
		{Mechanism: "ss", Outcome: OutcomeUnavailable},
		{Mechanism: "lsof", Outcome: OutcomeUnavailable},
	}}
	assert.Equal(t, "port check failed; netstat, ss and lsof unavailable on this OS", r.Summary())
}

func TestCollectSystemInfo(t *testing.T) {
	info := CollectSystemInfo()
	assert.NotEmpty(t, info.Platform)
	assert.NotEmpty(t, info.Arch)
}
