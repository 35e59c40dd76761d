package config

import (
	"net"
	"os"
	"os/user"
)

// probeAddr is used only to select the outbound interface; UDP "dial" sends
// no packets.
const probeAddr = "192.0.2.1:9"

// DetectDevice fills in a best-effort device identity for 'config init':
// hostname, current login name, and the LAN address of the default route.
// Fields that cannot be determined are left empty for the user to supply.
func DetectDevice() DeviceConfig {
	var d DeviceConfig

	if host, err := os.Hostname(); err == nil {
		d.Name = host
	}

	if u, err := user.Current(); err == nil {
		d.User = u.Username
	}

	d.IP = outboundIP()

	return d
}

// outboundIP returns the local address the kernel would use to reach the
// network, or "" when there is no route.
func outboundIP() string {
	conn, err := net.Dial("udp", probeAddr)
	if err != nil {
		return ""
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}

	return addr.IP.String()
}
