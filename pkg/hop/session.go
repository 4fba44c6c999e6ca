package hop

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/dcos/dcos-node/pkg/logger"
	"github.com/dcos/dcos-node/pkg/mesos"
)

// Session is one two-hop ssh invocation.
type Session struct {
	User       string
	EntryHost  string   // public address of the cluster entry point
	TargetHost string   // internal address of the node
	Options    []string // passed as -o, in order, unvalidated
	ConfigFile string   // passed as -F when set
}

// Args returns the full command line, starting with "ssh".
func (s Session) Args() []string {
	args := []string{"ssh", "-A", "-t"}
	for _, opt := range s.Options {
		args = append(args, "-o", opt)
	}
	if s.ConfigFile != "" {
		args = append(args, "-F", s.ConfigFile)
	}
	return append(args,
		s.User+"@"+s.EntryHost,
		"ssh", "-A", "-t",
		s.User+"@"+s.TargetHost,
	)
}

// Runner starts a command attached to the user's terminal and returns its
// exit status.
type Runner interface {
	Run(ctx context.Context, argv []string) (int, error)
}

// Cluster answers the lookups needed to build a session.
type Cluster interface {
	SlaveLister
	Metadata(ctx context.Context) (mesos.Metadata, error)
}

// Request selects the node and the ssh settings for Connect.
type Request struct {
	Role       Role
	User       string
	Options    []string
	ConfigFile string
}

// Builder resolves sessions and hands them to a Runner.
type Builder struct {
	runner Runner
	getenv func(string) string
	logger *logger.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithGetenv replaces os.Getenv for the agent check.
func WithGetenv(getenv func(string) string) BuilderOption {
	return func(b *Builder) {
		b.getenv = getenv
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder that launches sessions through runner.
func NewBuilder(runner Runner, opts ...BuilderOption) *Builder {
	b := &Builder{
		runner: runner,
		getenv: os.Getenv,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Prepare checks the agent and resolves both hops. Nothing is contacted
// when no agent is available.
func (b *Builder) Prepare(ctx context.Context, cluster Cluster, req Request) (Session, error) {
	if err := CheckAgent(b.getenv, b.logger); err != nil {
		return Session{}, err
	}
	if req.User == "" {
		return Session{}, errors.New("ssh user must not be empty")
	}

	target, err := Resolve(ctx, req.Role, cluster)
	if err != nil {
		return Session{}, err
	}

	md, err := cluster.Metadata(ctx)
	if err != nil {
		return Session{}, err
	}
	if md.PublicIPv4 == "" {
		return Session{}, errors.New("cluster metadata has no PUBLIC_IPV4")
	}

	return Session{
		User:       req.User,
		EntryHost:  md.PublicIPv4,
		TargetHost: target.Host,
		Options:    req.Options,
		ConfigFile: req.ConfigFile,
	}, nil
}

// Connect prepares a session and runs it, returning the child's exit status.
func (b *Builder) Connect(ctx context.Context, cluster Cluster, req Request) (int, error) {
	s, err := b.Prepare(ctx, cluster, req)
	if err != nil {
		return 1, err
	}

	argv := s.Args()
	b.logger.WithField("role", req.Role).Info("running %s", strings.Join(argv, " "))
	return b.runner.Run(ctx, argv)
}
