// Package suite runs repeated attempts of one task, voids runs that hit
// infrastructure faults, retries them once, and aggregates scored runs.
package suite

import (
	"strings"
)

// Void reason codes.
const (
	VoidSubstrateTimeout    = "substrate_timeout"
	VoidComposeUnsupported  = "compose_version_unsupported"
	VoidRateLimit           = "provider_rate_limit"
	VoidStreamDisconnect    = "provider_stream_disconnect"
	VoidHarnessUnavailable  = "harness_unavailable"
	VoidSubstrateCLIFailure = "substrate_cli_failure"
	VoidSubstrateException  = "substrate_trial_exception"
	VoidRuntimeCrash        = "runtime_crash"
	VoidTurnFailure         = "provider_or_harness_turn_failure"
	VoidSuiteTimeout        = "suite_timeout"
	VoidCommandTimeout      = "command_timeout"
	VoidInfrastructureFault = "infrastructure_fault"
)

type voidRule struct {
	code     string
	patterns []string
}

// voidRules match lowercased fault text. Every matching rule contributes a code.
var voidRules = []voidRule{
	{VoidSubstrateTimeout, []string{"timeout expired", "deadline exceeded", "timed out"}},
	{VoidComposeUnsupported, []string{"unsupported docker compose version"}},
	{VoidRateLimit, []string{"rate limit", "rate_limit", "429", "too many requests"}},
	{VoidStreamDisconnect, []string{"stream disconnected", "stream closed before completion", "connection reset"}},
	{VoidHarnessUnavailable, []string{"not installed", "command not found", "executable file not found"}},
	{VoidSubstrateCLIFailure, []string{"exited with code"}},
	{VoidSubstrateException, []string{"trial exception"}},
	{VoidRuntimeCrash, []string{"segmentation fault", "signal: killed", "panic:", "out of memory"}},
}

// ClassifyVoid maps an infrastructure fault message to void reason codes in
// rule order, without duplicates. A turn failure is reported only when no
// other rule matched. An empty message has no reasons; a non-empty one that
// matches nothing is an infrastructure fault.
func ClassifyVoid(fault string) []string {
	reason := strings.ToLower(strings.TrimSpace(fault))
	if reason == "" {
		return nil
	}

	var codes []string
	for _, rule := range voidRules {
		for _, p := range rule.patterns {
			if strings.Contains(reason, p) {
				codes = append(codes, rule.code)
				break
			}
		}
	}
	if len(codes) == 0 && strings.Contains(reason, "turn failed") {
		codes = append(codes, VoidTurnFailure)
	}
	if len(codes) == 0 {
		codes = append(codes, VoidInfrastructureFault)
	}
	return codes
}

// Recognized reports whether output carries a known infrastructure fault
// signature. Agents routinely exit non-zero for ordinary reasons, so only a
// recognized signature turns a non-zero exit into a fault.
func Recognized(output string) bool {
	codes := ClassifyVoid(output)
	return len(codes) > 0 && codes[0] != VoidInfrastructureFault
}
