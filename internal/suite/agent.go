package suite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lemon07r/tally/internal/config"
	"github.com/lemon07r/tally/internal/task"
)

// AgentArgv expands an agent configuration into an argv. {prompt} and
// {model} placeholders are substituted; with no model, a {model} argument
// is dropped together with the flag that precedes it.
func AgentArgv(agent config.AgentConfig, prompt, model string) []string {
	argv := []string{agent.Command}
	for i := 0; i < len(agent.Args); i++ {
		arg := agent.Args[i]
		if model == "" && i+1 < len(agent.Args) && agent.Args[i+1] == "{model}" && strings.HasPrefix(arg, "-") {
			i++
			continue
		}
		if model == "" && arg == "{model}" {
			continue
		}
		arg = strings.ReplaceAll(arg, "{model}", model)
		arg = strings.ReplaceAll(arg, "{prompt}", prompt)
		argv = append(argv, arg)
	}
	return argv
}

// AgentEnv renders an agent's extra environment as KEY=VALUE pairs in a
// stable order.
func AgentEnv(agent config.AgentConfig) []string {
	env := make([]string, 0, len(agent.Env))
	for k, v := range agent.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// BuildPrompt renders the instructions given to the agent. A task prompt is
// used as the body when present; the verification gates and checks are
// listed so the agent knows what the scorer will run.
func BuildPrompt(spec *task.Spec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are working on a task called %q.\n\n", spec.Name)

	body := spec.Prompt
	if body == "" {
		body = spec.Description
	}
	if body != "" {
		sb.WriteString("TASK:\n")
		sb.WriteString(strings.TrimSpace(body))
		sb.WriteString("\n\n")
	}

	if len(spec.Verification.Gates) > 0 {
		sb.WriteString("VERIFICATION (run by the scorer after you finish):\n")
		for _, g := range spec.Verification.Gates {
			fmt.Fprintf(&sb, "- %s: %s\n", g.Name, g.CommandString())
		}
		sb.WriteString("\n")
	}

	if reqs := spec.Compliance.Requirements; len(reqs) > 0 {
		sb.WriteString("REQUIREMENTS:\n")
		for _, r := range reqs {
			desc := r.Description
			if desc == "" {
				desc = r.Check.Rule()
			}
			fmt.Fprintf(&sb, "- %s: %s\n", r.ID, desc)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`RULES:
- Work only inside the current directory.
- Do NOT change the build, lint, test or typecheck scripts in package.json.
- Do NOT replace or delete the lockfile.
- Write tests for the behavior you implement.`)
	return sb.String()
}
