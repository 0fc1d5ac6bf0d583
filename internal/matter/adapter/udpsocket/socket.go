// Package udpsocket implements ports.MDNSSocket over real IPv4/IPv6
// multicast UDP sockets, one shared socket per address family joined to the
// standard mDNS group on every configured interface. Grounded on
// other_examples' whosthere mDNS scanner (golang.org/x/net/ipv4's
// PacketConn.JoinGroup pattern), extended to IPv6 and to multi-interface
// SO_REUSEPORT binding so matterctld can share port 5353 with any other
// mDNS responder already running on the host (avahi, mDNSResponder).
package udpsocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/defaults"
	"matterctl/internal/matter/ports"
)

var _ ports.MDNSSocket = (*Socket)(nil)

// Config selects which interfaces and address families Socket joins.
type Config struct {
	// Interfaces lists the network interface names to join the mDNS
	// multicast group on. Empty means every multicast-capable interface.
	Interfaces []string
	EnableIPv4 bool
	EnableIPv6 bool
}

// Socket is the production ports.MDNSSocket: real multicast UDP sockets
// bound to defaults.MDNSPort, one shared conn per address family.
type Socket struct {
	log    *slog.Logger
	ifaces []net.Interface

	v4 *ipv4.PacketConn
	v6 *ipv6.PacketConn

	packets   chan ports.InboundPacket
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New opens and joins the configured sockets. Call Close when done.
func New(log *slog.Logger, cfg Config) (*Socket, error) {
	ifaces, err := resolveInterfaces(cfg.Interfaces)
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("udpsocket: no usable multicast interfaces found")
	}

	s := &Socket{
		log:     log,
		ifaces:  ifaces,
		packets: make(chan ports.InboundPacket, 256),
	}

	if cfg.EnableIPv4 {
		conn, err := listenReusable("udp4", fmt.Sprintf(":%d", defaults.MDNSPort))
		if err != nil {
			return nil, fmt.Errorf("listen ipv4: %w", err)
		}
		pc := ipv4.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(defaults.MulticastIPv4)}
		for _, ifi := range ifaces {
			if err := pc.JoinGroup(&ifi, group); err != nil {
				log.Warn("join ipv4 multicast group failed", "iface", ifi.Name, "err", err)
			}
		}
		if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set ipv4 control message: %w", err)
		}
		s.v4 = pc
	}

	if cfg.EnableIPv6 {
		conn, err := listenReusable("udp6", fmt.Sprintf("[::]:%d", defaults.MDNSPort))
		if err != nil {
			if s.v4 != nil {
				_ = s.v4.Close()
			}
			return nil, fmt.Errorf("listen ipv6: %w", err)
		}
		pc := ipv6.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(defaults.MulticastIPv6)}
		for _, ifi := range ifaces {
			if err := pc.JoinGroup(&ifi, group); err != nil {
				log.Warn("join ipv6 multicast group failed", "iface", ifi.Name, "err", err)
			}
		}
		if err := pc.SetControlMessage(ipv6.FlagInterface, true); err != nil {
			_ = conn.Close()
			if s.v4 != nil {
				_ = s.v4.Close()
			}
			return nil, fmt.Errorf("set ipv6 control message: %w", err)
		}
		s.v6 = pc
	}

	if s.v4 != nil {
		s.wg.Add(1)
		go s.readLoop4()
	}
	if s.v6 != nil {
		s.wg.Add(1)
		go s.readLoop6()
	}
	return s, nil
}

func resolveInterfaces(names []string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	if len(names) == 0 {
		var out []net.Interface
		for _, ifi := range all {
			if ifi.Flags&net.FlagMulticast != 0 && ifi.Flags&net.FlagUp != 0 {
				out = append(out, ifi)
			}
		}
		return out, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []net.Interface
	for _, ifi := range all {
		if want[ifi.Name] {
			out = append(out, ifi)
		}
	}
	return out, nil
}

// listenReusable binds addr with SO_REUSEADDR and SO_REUSEPORT set, letting
// matterctld's mDNS socket coexist with any other mDNS responder already
// bound to the well-known port on this host.
func listenReusable(network, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	conn, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UDPConn), nil
}

func (s *Socket) Interfaces() []string {
	out := make([]string, len(s.ifaces))
	for i, ifi := range s.ifaces {
		out[i] = ifi.Name
	}
	return out
}

func (s *Socket) Send(ctx context.Context, iface string, data []byte) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("udpsocket: send: %w", err)
	}

	var errs []error
	if s.v4 != nil {
		cm := &ipv4.ControlMessage{IfIndex: ifi.Index}
		dst := &net.UDPAddr{IP: net.ParseIP(defaults.MulticastIPv4), Port: defaults.MDNSPort}
		if _, err := s.v4.WriteTo(data, cm, dst); err != nil {
			errs = append(errs, fmt.Errorf("ipv4: %w", err))
		}
	}
	if s.v6 != nil {
		cm := &ipv6.ControlMessage{IfIndex: ifi.Index}
		dst := &net.UDPAddr{IP: net.ParseIP(defaults.MulticastIPv6), Port: defaults.MDNSPort, Zone: iface}
		if _, err := s.v6.WriteTo(data, cm, dst); err != nil {
			errs = append(errs, fmt.Errorf("ipv6: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("udpsocket: send on %s: %v", iface, errs)
	}
	return nil
}

func (s *Socket) Packets() <-chan ports.InboundPacket {
	return s.packets
}

func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		if s.v4 != nil {
			_ = s.v4.Close()
		}
		if s.v6 != nil {
			_ = s.v6.Close()
		}
		s.wg.Wait()
		close(s.packets)
	})
	return nil
}

func (s *Socket) readLoop4() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, cm, src, err := s.v4.ReadFrom(buf)
		if err != nil {
			return
		}
		s.deliver(n, buf, cm.IfIndex, src)
	}
}

func (s *Socket) readLoop6() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, cm, src, err := s.v6.ReadFrom(buf)
		if err != nil {
			return
		}
		s.deliver(n, buf, cm.IfIndex, src)
	}
}

func (s *Socket) deliver(n int, buf []byte, ifIndex int, src net.Addr) {
	ifi, err := net.InterfaceByIndex(ifIndex)
	ifaceName := ""
	if err == nil {
		ifaceName = ifi.Name
	}

	data := make([]byte, n)
	copy(data, buf[:n])

	from := addr.ServerAddress{Interface: ifaceName}
	if udpAddr, ok := src.(*net.UDPAddr); ok {
		if ip, ok := netip.AddrFromSlice(udpAddr.IP); ok {
			from.IP = ip.Unmap()
		}
		from.Port = uint16(udpAddr.Port)
	}

	select {
	case s.packets <- ports.InboundPacket{Interface: ifaceName, Data: data, From: from}:
	default:
		s.log.Debug("udpsocket: dropping inbound packet, consumer too slow")
	}
}
