package s2s

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
)

func TestResolveTargetsSortsByPriorityThenWeight(t *testing.T) {
	d := &dialer{
		srvResolve: func(service, proto, name string) (string, []*net.SRV, error) {
			return "", []*net.SRV{
				{Target: "low-weight.example.", Port: 5269, Priority: 10, Weight: 1},
				{Target: "backup.example.", Port: 5270, Priority: 20, Weight: 100},
				{Target: "high-weight.example.", Port: 5269, Priority: 10, Weight: 50},
			}, nil
		},
	}
	targets := d.resolveTargets("remote.example")
	want := []string{
		"high-weight.example:5269",
		"low-weight.example:5269",
		"backup.example:5270",
	}
	if len(targets) != len(want) {
		t.Fatalf("unexpected target count: %v", targets)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("target %d: got %q, want %q", i, targets[i], want[i])
		}
	}
}

func TestResolveTargetsFallsBackWithoutSRV(t *testing.T) {
	d := &dialer{
		srvResolve: func(service, proto, name string) (string, []*net.SRV, error) {
			return "", nil, errors.New("no such host")
		},
	}
	targets := d.resolveTargets("remote.example")
	if len(targets) != 1 || targets[0] != "remote.example:5269" {
		t.Fatalf("expected A-record fallback, got %v", targets)
	}
}

func TestResolveTargetsTreatsRootTargetAsAbsent(t *testing.T) {
	d := &dialer{
		srvResolve: func(service, proto, name string) (string, []*net.SRV, error) {
			return "", []*net.SRV{{Target: ".", Port: 0}}, nil
		},
	}
	targets := d.resolveTargets("remote.example")
	if len(targets) != 1 || targets[0] != "remote.example:5269" {
		t.Fatalf("expected fallback for '.' SRV target, got %v", targets)
	}
}

func TestDialTriesTargetsInOrder(t *testing.T) {
	var attempts []string
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	d := &dialer{
		srvResolve: func(service, proto, name string) (string, []*net.SRV, error) {
			return "", []*net.SRV{
				{Target: "dead.example.", Port: 5269, Priority: 1, Weight: 1},
				{Target: "alive.example.", Port: 5269, Priority: 2, Weight: 1},
			}, nil
		},
		dialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			attempts = append(attempts, address)
			if address == "dead.example:5269" {
				return nil, errors.New("connection refused")
			}
			return client, nil
		},
	}
	conn, err := d.Dial(context.Background(), "remote.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn != client {
		t.Fatalf("expected the second target's connection")
	}
	if len(attempts) != 2 || attempts[0] != "dead.example:5269" || attempts[1] != "alive.example:5269" {
		t.Fatalf("unexpected dial order: %v", attempts)
	}
}
