package probecli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tendant/nodeclaim/pkg/probe"
	"gopkg.in/yaml.v3"
)

type report struct {
	probe.Result `yaml:",inline"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (a *app) write(format string, res *probe.Result, runErr error) error {
	var out report
	if res != nil {
		out.Result = *res
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	switch format {
	case "json":
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return fmt.Errorf("error marshaling report: %w", err)
		}
		_, err = a.stdout.Write(data)
		return err
	default:
		writeText(a.stdout, res, runErr)
		return nil
	}
}

func writeText(w io.Writer, res *probe.Result, runErr error) {
	if res == nil {
		return
	}
	if res.Node.IP != "" {
		fmt.Fprintf(w, "Node:     %s:%d\n", res.Node.IP, res.Node.Port)
	}
	if res.SystemInfo != nil {
		fmt.Fprintf(w, "Host:     %s (%s/%s)\n", res.SystemInfo.Hostname, res.SystemInfo.Platform, res.SystemInfo.Arch)
	}
	for _, rep := range res.Reports {
		mark := "✗"
		if _, ok := rep.Succeeded(); ok {
			mark = "✓"
		}
		fmt.Fprintf(w, "%s %s\n", mark, rep.Summary())
	}
	switch {
	case runErr != nil:
		fmt.Fprintf(w, "\nVerification not submitted: %v\n", runErr)
	case res.Response != nil && res.Response.Presumed:
		fmt.Fprintf(w, "\nStatus:   %s (presumed: %s)\n", res.Response.Status, res.Response.Message)
	case res.Response != nil:
		msg := res.Response.Message
		if msg == "" {
			msg = "submitted for moderator review"
		}
		fmt.Fprintf(w, "\nStatus:   %s (%s)\n", res.Response.Status, msg)
	}
}
