package network

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

// VerifyTapUp checks that a VM's tap device exists inside its namespace and
// that its operational state is UP or UNKNOWN (the state tap devices
// commonly report), the way the teacher's own network diagnostics
// (shared/network) inspect link state directly rather than shelling out to
// `ip link show`. It checks only this VM's own tap and is not called
// anywhere in this repository.
func (n *VmNetwork) VerifyTapUp() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origNS, err := netns.Get()
	if err != nil {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.VerifyTapUp", err)
	}
	defer origNS.Close()

	targetNS, err := netns.GetFromName(n.NamespaceName)
	if err != nil {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.VerifyTapUp", err)
	}
	defer targetNS.Close()

	if err := netns.Set(targetNS); err != nil {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.VerifyTapUp", err)
	}
	defer func() { _ = netns.Set(origNS) }()

	link, err := netlink.LinkByName(n.TapDeviceName)
	if err != nil {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.VerifyTapUp", err)
	}
	if link.Attrs().OperState != netlink.OperUp && link.Attrs().OperState != netlink.OperUnknown {
		return fleeterr.New(fleeterr.KindNetworkSetup, "network.VerifyTapUp",
			fmt.Errorf("tap device %s in namespace %s is not up (state %s)",
				n.TapDeviceName, n.NamespaceName, link.Attrs().OperState))
	}
	return nil
}
