package probe

import (
	"context"
	"fmt"
	"log/slog"
)

// Result is everything one probe run produced.
type Result struct {
	Node         NodeAddress      `json:"node" yaml:"node"`
	ProcessCheck ProcessCheck     `json:"processCheck" yaml:"processCheck"`
	PortCheck    PortCheck        `json:"portCheck" yaml:"portCheck"`
	SystemInfo   *SystemInfo      `json:"systemInfo,omitempty" yaml:"systemInfo,omitempty"`
	Reports      []Report         `json:"reports" yaml:"reports"`
	Response     *ConfirmResponse `json:"response,omitempty" yaml:"response,omitempty"`
}

// Runner performs init, local attestation and confirm in sequence.
type Runner struct {
	client    *Client
	inspector *Inspector
	daemons   []string
	logger    *slog.Logger
}

// NewRunner creates a runner. daemons defaults to DefaultDaemonNames.
func NewRunner(client *Client, inspector *Inspector, daemons []string, logger *slog.Logger) *Runner {
	if len(daemons) == 0 {
		daemons = DefaultDaemonNames
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, inspector: inspector, daemons: daemons, logger: logger}
}

// Inspect runs only the local checks for port, without contacting the server.
func (r *Runner) Inspect(ctx context.Context, port int) *Result {
	res := &Result{Node: NodeAddress{Port: port}, SystemInfo: CollectSystemInfo()}
	r.attest(ctx, res)
	return res
}

// Run executes the full protocol for challenge. The returned Result is
// populated as far as the run got, even on error.
func (r *Runner) Run(ctx context.Context, challenge string) (*Result, error) {
	info := CollectSystemInfo()
	res := &Result{SystemInfo: info}

	initResp, err := r.client.Init(ctx, InitRequest{Challenge: challenge, Hostname: info.Hostname})
	if err != nil {
		return res, fmt.Errorf("init: %w", err)
	}
	res.Node = *initResp.Node
	r.logger.Info("challenge accepted", "node_ip", res.Node.IP, "node_port", res.Node.Port)

	r.attest(ctx, res)

	confirmResp, err := r.client.Confirm(ctx, ConfirmRequest{
		Challenge:    challenge,
		ProcessCheck: res.ProcessCheck,
		PortCheck:    res.PortCheck,
		SystemInfo:   info,
	})
	if err != nil {
		return res, fmt.Errorf("confirm: %w", err)
	}
	res.Response = confirmResp
	return res, nil
}

func (r *Runner) attest(ctx context.Context, res *Result) {
	processCheck, processReport := r.inspector.CheckProcess(ctx, r.daemons)
	portCheck, portReport := r.inspector.CheckPort(ctx, res.Node.Port)

	res.ProcessCheck = processCheck
	res.PortCheck = portCheck
	res.Reports = []Report{processReport, portReport}

	for _, rep := range res.Reports {
		if _, ok := rep.Succeeded(); ok {
			r.logger.Info(rep.Summary())
		} else {
			r.logger.Warn(rep.Summary())
		}
	}
}
