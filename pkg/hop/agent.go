package hop

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh/agent"

	"github.com/dcos/dcos-node/pkg/logger"
)

// AgentSocketEnv names the variable pointing at the ssh-agent socket.
const AgentSocketEnv = "SSH_AUTH_SOCK"

// NoAgentError is returned when no ssh-agent is reachable through the environment.
type NoAgentError struct{}

func (*NoAgentError) Error() string {
	return "There is no SSH_AUTH_SOCK env variable, which likely means you " +
		"aren't running `ssh-agent`.  `dcos node ssh` depends on " +
		"`ssh-agent` so we can safely use your private key to hop between " +
		"nodes in your cluster.  Please run `ssh-agent`, then add your " +
		"private key with `ssh-add`."
}

// RequireAgent fails with *NoAgentError when SSH_AUTH_SOCK is unset. It only
// reads the environment.
func RequireAgent(getenv func(string) string) error {
	if getenv(AgentSocketEnv) == "" {
		return &NoAgentError{}
	}
	return nil
}

// CheckAgent fails with *NoAgentError when SSH_AUTH_SOCK is unset.
// Otherwise it asks the agent for its identities and logs what it finds.
// An agent that cannot be queried is only reported, since ssh itself makes
// the final decision.
func CheckAgent(getenv func(string) string, log *logger.Logger) error {
	if err := RequireAgent(getenv); err != nil {
		return err
	}
	socket := getenv(AgentSocketEnv)

	n, err := agentIdentities(socket)
	if err != nil {
		log.Warn("ssh-agent at %s: %v", socket, err)
		return nil
	}
	if n == 0 {
		log.Warn("ssh-agent at %s holds no identities; add your key with ssh-add", socket)
		return nil
	}
	log.Debug("ssh-agent at %s holds %d identities", socket, n)
	return nil
}

func agentIdentities(socket string) (int, error) {
	conn, err := net.DialTimeout("unix", socket, 500*time.Millisecond)
	if err != nil {
		return 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return 0, fmt.Errorf("failed to list identities: %w", err)
	}
	return len(keys), nil
}
