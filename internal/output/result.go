package output

import (
	"github.com/jobtracing/dbresolve/internal/candidate"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// Operator hints attached to reports.
const (
	HintLocalFallback = "Resolved to the local fallback server; use it for testing only."
	HintCredentials   = "Resolved only after changing credentials; check the database user and password."
	HintSchemeChanged = "Resolved under a different scheme or host than configured; update the connection string."

	HintClusterConfig = "Check the cluster configuration and that the cluster is running."
	HintAllowlist     = "Check that this machine's IP address is on the cluster's access list."
	HintNetwork       = "Check network connectivity and firewall rules to the database port."

	HintDNS     = "Host names did not resolve; verify the host name and DNS settings."
	HintAuth    = "Authentication failed; verify the username, password and auth source."
	HintTimeout = "Attempts timed out; the server may be unreachable or blocked by a firewall."
)

// Hints returns operator guidance for report. A clean resolution of the
// original candidate yields none.
func Hints(report *resolver.Report) []string {
	if report == nil {
		return nil
	}

	if report.Resolved != nil {
		switch t := report.Resolved.Transform; {
		case t == candidate.LocalFallback:
			return []string{HintLocalFallback}
		case t.ChangesCredentials():
			return []string{HintCredentials}
		case t != candidate.Original:
			return []string{HintSchemeChanged}
		}
		return nil
	}

	hints := []string{HintClusterConfig, HintAllowlist, HintNetwork}
	outcomes := report.Outcomes()
	if outcomes[probe.DNSFailure] > 0 || len(report.Skipped) > 0 {
		hints = append(hints, HintDNS)
	}
	if outcomes[probe.AuthFailure] > 0 {
		hints = append(hints, HintAuth)
	}
	if outcomes[probe.Timeout] > 0 {
		hints = append(hints, HintTimeout)
	}
	return hints
}
