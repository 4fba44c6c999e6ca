package mesos

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
)

// Slave is one worker node as reported by the master's state summary.
type Slave struct {
	ID       string `json:"id"`
	PID      string `json:"pid"`
	Hostname string `json:"hostname"`
	Active   bool   `json:"active"`

	// Raw keeps the complete object for JSON output.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and retains the original bytes.
func (s *Slave) UnmarshalJSON(data []byte) error {
	type plain Slave
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Slave(p)
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the original object when available.
func (s Slave) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain Slave
	return json.Marshal(plain(s))
}

// Host returns the host part of the slave's PID.
func (s Slave) Host() (string, error) {
	pid, err := ParsePID(s.PID)
	if err != nil {
		return "", err
	}
	return pid.Host, nil
}

// PID is a parsed libprocess identifier such as slave(1)@10.0.1.2:5051.
type PID struct {
	Name string
	Host string
	Port int
}

// ParsePID splits name@host:port. IPv6 hosts must be bracketed.
func ParsePID(s string) (PID, error) {
	name, addr, ok := strings.Cut(s, "@")
	if !ok || name == "" || addr == "" {
		return PID{}, &MalformedIdentifierError{PID: s}
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return PID{}, &MalformedIdentifierError{PID: s}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return PID{}, &MalformedIdentifierError{PID: s}
	}

	return PID{Name: name, Host: host, Port: port}, nil
}

// Addr returns host:port for building URLs.
func (p PID) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}
