package probe

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

// DefaultDaemonNames are the node executables the process check looks for.
// Operators of other chains pass --daemon (or set daemons in the config file).
var DefaultDaemonNames = []string{"bitcoind", "bitcoin-qt", "btcd"}

// DefaultNodePort is the port "check" inspects when none is configured.
const DefaultNodePort = 8333

// DefaultCheckTimeout bounds each local tool invocation.
const DefaultCheckTimeout = 10 * time.Second

// MethodNone is recorded when no mechanism produced a positive result.
const MethodNone = "none"

// Outcome is the result of trying one mechanism.
type Outcome string

const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnavailable Outcome = "unavailable"
)

// Attempt records one mechanism that was tried.
type Attempt struct {
	Mechanism string  `json:"mechanism" yaml:"mechanism"`
	Outcome   Outcome `json:"outcome" yaml:"outcome"`
	Detail    string  `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Report is the ordered list of attempts made for one check.
type Report struct {
	Check    string    `json:"check" yaml:"check"`
	Attempts []Attempt `json:"attempts" yaml:"attempts"`
}

// Succeeded returns the mechanism that produced a positive result, if any.
func (r Report) Succeeded() (string, bool) {
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeSucceeded {
			return a.Mechanism, true
		}
	}
	return "", false
}

// Summary renders the report for the operator, for example
// "port check failed via netstat and ss; lsof unavailable on this OS".
func (r Report) Summary() string {
	if m, ok := r.Succeeded(); ok {
		return fmt.Sprintf("%s succeeded via %s", r.Check, m)
	}

	var failed, unavailable []string
	for _, a := range r.Attempts {
		switch a.Outcome {
		case OutcomeFailed:
			failed = append(failed, a.Mechanism)
		case OutcomeUnavailable:
			unavailable = append(unavailable, a.Mechanism)
		}
	}

	var parts []string
	if len(failed) > 0 {
		parts = append(parts, fmt.Sprintf("%s failed via %s", r.Check, joinAnd(failed)))
	} else {
		parts = append(parts, r.Check+" failed")
	}
	if len(unavailable) > 0 {
		parts = append(parts, joinAnd(unavailable)+" unavailable on this OS")
	}
	return strings.Join(parts, "; ")
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

// Inspector runs the local process and port checks with the strategies for
// one operating system.
type Inspector struct {
	cmd       Commander
	processes []ProcessStrategy
	ports     []PortStrategy
	timeout   time.Duration
	logger    *slog.Logger
}

// NewInspector creates an inspector for goos (runtime.GOOS when empty).
func NewInspector(cmd Commander, goos string, logger *slog.Logger) *Inspector {
	if cmd == nil {
		cmd = ExecCommander{}
	}
	if goos == "" {
		goos = runtime.GOOS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{
		cmd:       cmd,
		processes: ProcessStrategies(goos),
		ports:     PortStrategies(goos),
		timeout:   DefaultCheckTimeout,
		logger:    logger,
	}
}

// CheckProcess tries each process strategy in order until one finds one of
// names running.
func (i *Inspector) CheckProcess(ctx context.Context, names []string) (ProcessCheck, Report) {
	if len(names) == 0 {
		names = DefaultDaemonNames
	}
	report := Report{Check: "process check"}

	for _, s := range i.processes {
		if !i.available(s.Tool()) {
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeUnavailable})
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, i.timeout)
		daemon, found, err := s.Find(runCtx, i.cmd, names)
		cancel()

		switch {
		case err != nil:
			i.logger.Debug("process strategy error", "mechanism", s.Name(), "error", err)
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeFailed, Detail: err.Error()})
		case !found:
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeFailed, Detail: "no matching process"})
		default:
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeSucceeded, Detail: daemon})
			return ProcessCheck{Found: true, Method: s.Name(), DaemonName: daemon}, report
		}
	}
	return ProcessCheck{Found: false, Method: MethodNone}, report
}

// CheckPort tries each port strategy in order until one sees port listening.
func (i *Inspector) CheckPort(ctx context.Context, port int) (PortCheck, Report) {
	report := Report{Check: "port check"}

	for _, s := range i.ports {
		if !i.available(s.Tool()) {
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeUnavailable})
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, i.timeout)
		listening, err := s.Listening(runCtx, i.cmd, port)
		cancel()

		switch {
		case err != nil:
			i.logger.Debug("port strategy error", "mechanism", s.Name(), "error", err)
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeFailed, Detail: err.Error()})
		case !listening:
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeFailed, Detail: fmt.Sprintf("port %d not listening", port)})
		default:
			report.Attempts = append(report.Attempts, Attempt{Mechanism: s.Name(), Outcome: OutcomeSucceeded})
			return PortCheck{Listening: true, Port: port, Method: s.Name()}, report
		}
	}
	return PortCheck{Listening: false, Port: port, Method: MethodNone}, report
}

func (i *Inspector) available(tool string) bool {
	_, err := i.cmd.LookPath(tool)
	return err == nil
}
