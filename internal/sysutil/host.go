package sysutil

import (
	"context"
	"net/netip"
	"os"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// HostIdentity 写入事件存储的主机标识
type HostIdentity struct {
	Hostname string
	LocalIP  string
	MAC      string
}

// LookupHost 采集主机名和第一块活动网卡的 IPv4/MAC
func LookupHost(ctx context.Context) HostIdentity {
	var id HostIdentity
	if info, err := host.InfoWithContext(ctx); err == nil {
		id.Hostname = info.Hostname
	} else if name, err := os.Hostname(); err == nil {
		id.Hostname = name
	}

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return id
	}
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			addr := prefix.Addr()
			if addr.Is4() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast() {
				id.LocalIP = addr.String()
				id.MAC = strings.ToUpper(iface.HardwareAddr)
				return id
			}
		}
	}
	return id
}
