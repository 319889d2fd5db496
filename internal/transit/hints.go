package transit

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pion/stun"

	"github.com/slipwire/slipwire/pkg/protocol"
)

// DefaultStunServers is used when the options carry none.
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

const stunQueryTimeout = 2 * time.Second

// OwnDirectHints returns the endpoints this side advertises for inbound
// connections: the listener port on every usable interface address, plus the
// STUN-discovered public address when one resolves. STUN failures degrade to
// LAN-only hints.
func (t *Transit) OwnDirectHints(ctx context.Context) ([]protocol.Hint, error) {
	port := t.listener.Addr().(*net.TCPAddr).Port

	hints := make([]protocol.Hint, 0, 4)
	for _, ip := range usableInterfaceIPs(t.logger) {
		hints = append(hints, protocol.Hint{
			Type:     protocol.HintDirectTCP,
			Hostname: ip.String(),
			Port:     port,
		})
	}

	servers := t.opts.StunServers
	if len(servers) == 0 {
		servers = DefaultStunServers
	}
	if public := resolvePublicIP(ctx, servers, t.logger); public != nil {
		hints = append(hints, protocol.Hint{
			Type:     protocol.HintDirectTCP,
			Hostname: public.String(),
			Port:     port,
		})
	}

	t.logger.Debug("gathered direct hints", "count", len(hints), "port", port)
	return hints, nil
}

func usableInterfaceIPs(logger *slog.Logger) []net.IP {
	var ips []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn("failed to list interfaces", "error", err)
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.To4() == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips
}

// resolvePublicIP asks each STUN server for our reflexive address and
// returns the first mapped IP. The mapped UDP port is irrelevant here; only
// the public IP pairs with the TCP listener port.
func resolvePublicIP(ctx context.Context, servers []string, logger *slog.Logger) net.IP {
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return nil
		}
		ip, err := stunQuery(server)
		if err != nil {
			logger.Debug("STUN query failed", "server", server, "error", err)
			continue
		}
		logger.Debug("public address resolved", "server", server, "ip", ip)
		return ip
	}
	return nil
}

func stunQuery(server string) (net.IP, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.WriteToUDP(msg.Raw, serverAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, 1024)
	_ = conn.SetReadDeadline(time.Now().Add(stunQueryTimeout))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}

	res := &stun.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		return nil, err
	}
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err != nil {
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(res); err != nil {
			return nil, err
		}
		return mapped.IP, nil
	}
	return xorAddr.IP, nil
}

// ListenerPort exposes the bound port, used by tests to build loopback
// hints.
func (t *Transit) ListenerPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}
