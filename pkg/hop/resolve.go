// Package hop opens an interactive shell on a cluster node by hopping
// through the cluster's public entry point with an ssh-agent-forwarding
// ssh client.
//
// The local command line has the shape
//
//	ssh -A -t [-o OPT]... [-F CONFIG] USER@ENTRY ssh -A -t USER@TARGET
//
// where ENTRY is the cluster's public IPv4 address and TARGET the node's
// internal address.
package hop

import (
	"context"
	"fmt"

	"github.com/dcos/dcos-node/pkg/mesos"
)

// MasterHost is the cluster-internal name of the leading master.
const MasterHost = "leader.mesos"

// Kind selects the node a session or log tail is aimed at.
type Kind int

const (
	KindMaster Kind = iota
	KindSlave
)

// Role is the chosen node: the leading master, or a slave by ID.
type Role struct {
	Kind    Kind
	SlaveID string
}

// Master returns the role of the leading master.
func Master() Role {
	return Role{Kind: KindMaster}
}

// Slave returns the role of the slave with the given ID.
func Slave(id string) Role {
	return Role{Kind: KindSlave, SlaveID: id}
}

func (r Role) String() string {
	if r.Kind == KindMaster {
		return "master"
	}
	return "slave " + r.SlaveID
}

// Target is a resolved node address.
type Target struct {
	Host string
	Role Role
}

// NotFoundError is returned when no slave carries the requested ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("No slave found with ID %q.", e.ID)
}

// SlaveLister lists the cluster's slaves.
type SlaveLister interface {
	StateSummary(ctx context.Context) ([]mesos.Slave, error)
}

// Resolve maps a role to its internal host. The master needs no lookup.
func Resolve(ctx context.Context, role Role, nodes SlaveLister) (Target, error) {
	if role.Kind == KindMaster {
		return Target{Host: MasterHost, Role: role}, nil
	}

	slave, err := FindSlave(ctx, role.SlaveID, nodes)
	if err != nil {
		return Target{}, err
	}
	host, err := slave.Host()
	if err != nil {
		return Target{}, err
	}
	return Target{Host: host, Role: role}, nil
}

// FindSlave returns the slave with the given ID.
func FindSlave(ctx context.Context, id string, nodes SlaveLister) (mesos.Slave, error) {
	slaves, err := nodes.StateSummary(ctx)
	if err != nil {
		return mesos.Slave{}, err
	}
	for _, s := range slaves {
		if s.ID == id {
			return s, nil
		}
	}
	return mesos.Slave{}, &NotFoundError{ID: id}
}
