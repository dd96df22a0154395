package probe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ProcessStrategy is one way of finding a running daemon on the local host.
type ProcessStrategy interface {
	// Name is the mechanism recorded in ProcessCheck.Method.
	Name() string
	// Tool is the executable the strategy depends on.
	Tool() string
	// Find returns the first of names that is running. found is false when
	// the tool ran but matched nothing.
	Find(ctx context.Context, cmd Commander, names []string) (daemon string, found bool, err error)
}

// PortStrategy is one way of telling whether a TCP port is listening.
type PortStrategy interface {
	Name() string
	Tool() string
	Listening(ctx context.Context, cmd Commander, port int) (bool, error)
}

// listingStrategy runs one command that lists every process and searches its
// output for each name.
type listingStrategy struct {
	name string
	tool string
	args []string
}

func (s listingStrategy) Name() string { return s.name }
func (s listingStrategy) Tool() string { return s.tool }

func (s listingStrategy) Find(ctx context.Context, cmd Commander, names []string) (string, bool, error) {
	out, code, err := cmd.Run(ctx, s.tool, s.args...)
	if err != nil {
		return "", false, err
	}
	if code != 0 {
		return "", false, fmt.Errorf("%s exited with status %d", s.tool, code)
	}

	for _, line := range strings.Split(string(out), "\n") {
		proc := processName(line)
		if proc == "" {
			continue
		}
		for _, name := range names {
			if strings.EqualFold(proc, name) || strings.EqualFold(proc, name+".exe") {
				return name, true, nil
			}
		}
	}
	return "", false, nil
}

// processName extracts the executable base name from one line of ps -o comm
// or tasklist /FO CSV output.
func processName(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if strings.HasPrefix(line, `"`) {
		// "bitcoind.exe","1234","Services",...
		if end := strings.Index(line[1:], `"`); end >= 0 {
			return line[1 : end+1]
		}
	}
	return filepath.Base(strings.Fields(line)[0])
}

// perNameStrategy runs one command per candidate name; exit status 0 with
// output means a match, status 1 means none.
type perNameStrategy struct {
	name string
	tool string
	args func(daemon string) []string
	// match decides on output when the exit status alone is not enough.
	match func(out []byte, daemon string) bool
}

func (s perNameStrategy) Name() string { return s.name }
func (s perNameStrategy) Tool() string { return s.tool }

func (s perNameStrategy) Find(ctx context.Context, cmd Commander, names []string) (string, bool, error) {
	for _, name := range names {
		out, code, err := cmd.Run(ctx, s.tool, s.args(name)...)
		if err != nil {
			return "", false, err
		}
		switch code {
		case 0:
			if s.match == nil && len(bytes.TrimSpace(out)) > 0 {
				return name, true, nil
			}
			if s.match != nil && s.match(out, name) {
				return name, true, nil
			}
		case 1:
		default:
			return "", false, fmt.Errorf("%s exited with status %d", s.tool, code)
		}
	}
	return "", false, nil
}

// commandLinePattern matches a full command line whose executable is daemon,
// with or without a directory. Arguments that merely mention the name, like
// this client's own --daemon flag, do not match.
func commandLinePattern(daemon string) string {
	return "^([^[:space:]]*/)?" + regexp.QuoteMeta(daemon) + "([[:space:]]|$)"
}

// otherPIDs accepts pgrep output only if it lists a PID outside self. pgrep
// leaves out itself but not the process that started it.
func otherPIDs(self ...int) func(out []byte, daemon string) bool {
	return func(out []byte, daemon string) bool {
		for _, field := range strings.Fields(string(out)) {
			pid, err := strconv.Atoi(field)
			if err != nil {
				continue
			}
			mine := false
			for _, p := range self {
				if pid == p {
					mine = true
					break
				}
			}
			if !mine {
				return true
			}
		}
		return false
	}
}

func pgrepPattern() perNameStrategy {
	return perNameStrategy{
		name:  "pgrep-pattern",
		tool:  "pgrep",
		args:  func(d string) []string { return []string{"-f", commandLinePattern(d)} },
		match: otherPIDs(os.Getpid(), os.Getppid()),
	}
}

// tableStrategy lists sockets and looks for a listening row on the port.
type tableStrategy struct {
	name string
	tool string
	args []string
}

func (s tableStrategy) Name() string { return s.name }
func (s tableStrategy) Tool() string { return s.tool }

func (s tableStrategy) Listening(ctx context.Context, cmd Commander, port int) (bool, error) {
	out, code, err := cmd.Run(ctx, s.tool, s.args...)
	if err != nil {
		return false, err
	}
	if code != 0 {
		return false, fmt.Errorf("%s exited with status %d", s.tool, code)
	}
	return listensOn(out, port), nil
}

// listensOn scans netstat/ss style output for a LISTEN row whose local
// address ends in the port. BSD netstat separates the port with a dot.
func listensOn(out []byte, port int) bool {
	colon := ":" + strconv.Itoa(port)
	dot := "." + strconv.Itoa(port)

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(strings.ToUpper(line), "LISTEN") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if strings.HasSuffix(field, colon) || strings.HasSuffix(field, dot) {
				return true
			}
		}
	}
	return false
}

// queryStrategy asks a tool about the port directly; any output on success
// means a listener exists.
type queryStrategy struct {
	name string
	tool string
	args func(port int) []string
}

func (s queryStrategy) Name() string { return s.name }
func (s queryStrategy) Tool() string { return s.tool }

func (s queryStrategy) Listening(ctx context.Context, cmd Commander, port int) (bool, error) {
	out, code, err := cmd.Run(ctx, s.tool, s.args(port)...)
	if err != nil {
		return false, err
	}
	switch code {
	case 0:
		return len(bytes.TrimSpace(out)) > 0, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("%s exited with status %d", s.tool, code)
	}
}

// ProcessStrategies returns the process discovery mechanisms for goos in the
// order they are tried: a general listing, a PID-by-name lookup, then a
// pattern search.
func ProcessStrategies(goos string) []ProcessStrategy {
	switch goos {
	case "windows":
		return []ProcessStrategy{
			listingStrategy{name: "tasklist", tool: "tasklist", args: []string{"/FO", "CSV", "/NH"}},
			perNameStrategy{
				name: "tasklist-filter",
				tool: "tasklist",
				args: func(d string) []string { return []string{"/FO", "CSV", "/NH", "/FI", "IMAGENAME eq " + d + ".exe"} },
				// tasklist exits 0 with an INFO line when nothing matches.
				match: func(out []byte, d string) bool {
					return bytes.Contains(bytes.ToLower(out), []byte(strings.ToLower(d)+".exe"))
				},
			},
			perNameStrategy{
				name: "powershell",
				tool: "powershell",
				args: func(d string) []string {
					return []string{"-NoProfile", "-Command", "Get-Process -Name '" + d + "' -ErrorAction Stop | Select-Object -ExpandProperty Id"}
				},
			},
		}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []ProcessStrategy{
			listingStrategy{name: "ps", tool: "ps", args: []string{"-axo", "comm="}},
			perNameStrategy{name: "pgrep", tool: "pgrep", args: func(d string) []string { return []string{"-x", d} }},
			pgrepPattern(),
		}
	default:
		return []ProcessStrategy{
			listingStrategy{name: "ps", tool: "ps", args: []string{"-eo", "comm="}},
			perNameStrategy{name: "pidof", tool: "pidof", args: func(d string) []string { return []string{d} }},
			pgrepPattern(),
		}
	}
}

// PortStrategies returns the listening-port mechanisms for goos in the order
// they are tried: the connection table, its modern replacement, then the
// open-file listing.
func PortStrategies(goos string) []PortStrategy {
	lsof := queryStrategy{
		name: "lsof",
		tool: "lsof",
		args: func(p int) []string { return []string{"-nP", "-iTCP:" + strconv.Itoa(p), "-sTCP:LISTEN"} },
	}

	switch goos {
	case "windows":
		return []PortStrategy{
			tableStrategy{name: "netstat", tool: "netstat", args: []string{"-ano", "-p", "TCP"}},
			queryStrategy{
				name: "powershell",
				tool: "powershell",
				args: func(p int) []string {
					return []string{"-NoProfile", "-Command", "Get-NetTCPConnection -State Listen -LocalPort " + strconv.Itoa(p) + " -ErrorAction Stop"}
				},
			},
		}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []PortStrategy{
			tableStrategy{name: "netstat", tool: "netstat", args: []string{"-an", "-p", "tcp"}},
			tableStrategy{name: "ss", tool: "ss", args: []string{"-tln"}},
			lsof,
		}
	default:
		return []PortStrategy{
			tableStrategy{name: "netstat", tool: "netstat", args: []string{"-tln"}},
			tableStrategy{name: "ss", tool: "ss", args: []string{"-tln"}},
			lsof,
		}
	}
}
