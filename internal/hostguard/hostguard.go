// Package hostguard installs the two host-wide iptables rules the fleet
// needs (conntrack forwarding and NAT egress) once per daemon lifetime, and
// flushes them on shutdown. Unlike the per-VM rules in internal/network,
// these never run inside a namespace, so they're implemented directly
// against go-iptables rather than through the Command Runner.
package hostguard

import (
	"fmt"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

const conntrackComment = "fleetd-conntrack-forward"

// Guard owns the host's global FORWARD/NAT rules for as long as the daemon
// runs. Exactly one Guard should exist per host.
type Guard struct {
	ipt            *iptables.IPTables
	hostIface      string
	log            *zap.Logger
	mu             sync.Mutex
	installed      bool
	forwardRule    []string
	masqueradeRule []string
}

// New installs the forwarding and masquerade rules for hostIface. The
// returned Guard's Close flushes everything this process installed.
func New(hostIface string, log *zap.Logger) (*Guard, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fleeterr.New(fleeterr.KindNetworkSetup, "hostguard.New", err)
	}

	g := &Guard{
		ipt:       ipt,
		hostIface: hostIface,
		log:       log,
		forwardRule: []string{
			"-m", "conntrack", "--ctstate", "RELATED,ESTABLISHED", "-j", "ACCEPT",
		},
		masqueradeRule: []string{
			"-o", hostIface, "-j", "MASQUERADE",
		},
	}

	if err := g.ipt.AppendUnique("filter", "FORWARD", g.forwardRule...); err != nil {
		return nil, fleeterr.New(fleeterr.KindNetworkSetup, "hostguard.New", err)
	}
	if err := g.ipt.AppendUnique("nat", "POSTROUTING", g.masqueradeRule...); err != nil {
		return nil, fleeterr.New(fleeterr.KindNetworkSetup, "hostguard.New",
			fmt.Errorf("masquerade rule for %s: %w", hostIface, err))
	}

	g.installed = true
	if log != nil {
		log.Info("installed host guard rules", zap.String("host_interface", hostIface))
	}
	return g, nil
}

// Close flushes the entire filter table (the equivalent of `iptables -F`),
// not just the FORWARD rule this Guard installed, so that after Close the
// filter table is empty regardless of what else accumulated in it during
// the daemon's lifetime. Safe to call more than once.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.installed {
		return nil
	}
	g.installed = false

	var firstErr error
	chains, err := g.ipt.ListChains("filter")
	if err != nil {
		firstErr = fleeterr.New(fleeterr.KindNetworkSetup, "hostguard.Close", err)
	}
	for _, chain := range chains {
		if err := g.ipt.ClearChain("filter", chain); err != nil && firstErr == nil {
			firstErr = fleeterr.New(fleeterr.KindNetworkSetup, "hostguard.Close", err)
		}
	}
	if err := g.ipt.Delete("nat", "POSTROUTING", g.masqueradeRule...); err != nil && firstErr == nil {
		firstErr = fleeterr.New(fleeterr.KindNetworkSetup, "hostguard.Close", err)
	}
	if g.log != nil {
		g.log.Info("flushed host guard rules", zap.Error(firstErr))
	}
	return firstErr
}
