// Package probe implements the claimant side of the network-probe method: the
// wire protocol shared with the server, local process and port inspection, and
// the HTTP client that drives the init/confirm exchange.
package probe

// InitRequest is the body of POST /init.
type InitRequest struct {
	Challenge string `json:"challenge"`
	Hostname  string `json:"hostname,omitempty"`
}

// NodeAddress is the node the challenge is bound to.
type NodeAddress struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// InitResponse is the body returned by POST /init.
type InitResponse struct {
	Success bool         `json:"success"`
	Node    *NodeAddress `json:"node,omitempty"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ProcessCheck reports whether a node daemon process was found locally.
type ProcessCheck struct {
	Found      bool   `json:"found"`
	Method     string `json:"method"`
	DaemonName string `json:"daemonName,omitempty"`
}

// PortCheck reports whether the node port is in a listening state locally.
type PortCheck struct {
	Listening bool   `json:"listening"`
	Port      int    `json:"port"`
	Method    string `json:"method"`
}

// SystemInfo is host metadata recorded for audit.
type SystemInfo struct {
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"`
	Arch     string `json:"arch,omitempty"`
}

// ConfirmRequest is the body of POST /confirm.
type ConfirmRequest struct {
	Challenge    string       `json:"challenge"`
	ProcessCheck ProcessCheck `json:"processCheck"`
	PortCheck    PortCheck    `json:"portCheck"`
	SystemInfo   *SystemInfo  `json:"systemInfo,omitempty"`
}

// ConfirmResponse is the body returned by POST /confirm.
type ConfirmResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	// Presumed is set by the client, never the server: a resent confirm found
	// the request already finalized.
	Presumed bool `json:"presumed,omitempty" yaml:"presumed,omitempty"`
}
