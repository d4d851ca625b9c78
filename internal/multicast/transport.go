package multicast

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"lanchat/internal/wire"
)

const (
	readTimeout = 500 * time.Millisecond
	maxDatagram = 64 * 1024
)

// Handler receives every valid decoded datagram together with the observed
// source IP of its sender.
type Handler func(msg wire.Message, sourceIP string)

// Transport owns the pair of UDP sockets bound to the multicast group: a
// send socket with TTL=1 and loopback enabled (so peers on the same host can
// talk) and a receive socket with group membership on every multicast-capable
// interface. Delivery is best effort: no acks, no ordering, no fragmentation.
type Transport struct {
	group    *net.UDPAddr
	sendConn *net.UDPConn
	recvConn *net.UDPConn

	sendMu sync.Mutex

	quitOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// Listen opens both sockets and joins the multicast group. The receive loop
// is not started until Start is called with a handler.
func Listen() (*Transport, error) {
	group := &net.UDPAddr{IP: net.ParseIP(wire.MulticastGroup), Port: wire.UDPPort}

	sendConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}
	psend := ipv4.NewPacketConn(sendConn)
	if err := psend.SetMulticastTTL(wire.TTL); err != nil {
		log.Printf("multicast ttl: %v", err)
	}
	if err := psend.SetMulticastLoopback(true); err != nil {
		log.Printf("multicast loopback: %v", err)
	}

	recvConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: wire.UDPPort})
	if err != nil {
		_ = sendConn.Close()
		return nil, err
	}
	precv := ipv4.NewPacketConn(recvConn)
	joinAllInterfaces(precv, group)

	return &Transport{
		group:    group,
		sendConn: sendConn,
		recvConn: recvConn,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func joinAllInterfaces(pc *ipv4.PacketConn, group *net.UDPAddr) {
	ifaces, err := net.Interfaces()
	if err != nil {
		if err := pc.JoinGroup(nil, group); err != nil {
			log.Printf("multicast join: %v", err)
		}
		return
	}
	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		if err := pc.JoinGroup(nil, group); err != nil {
			log.Printf("multicast join: %v", err)
		}
	}
}

// Start launches the receive loop. Invalid datagrams are dropped at the
// codec boundary and never reach the handler.
func (t *Transport) Start(handler Handler) {
	go t.readLoop(handler)
}

func (t *Transport) readLoop(handler Handler) {
	defer close(t.done)
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-t.quit:
			return
		default:
		}
		_ = t.recvConn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := t.recvConn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
		msg, ok := wire.Decode(buf[:n])
		if !ok {
			continue
		}
		handler(msg, addr.IP.String())
	}
}

// Send encodes and multicasts msg. Encoding failures (oversize payloads) and
// transport errors are collapsed into a false result; the caller decides
// whether false means queue-for-later.
func (t *Transport) Send(msg wire.Message) bool {
	data, err := wire.Encode(msg)
	if err != nil {
		log.Printf("multicast encode: %v", err)
		return false
	}
	if t.sendConn == nil {
		return false
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if _, err := t.sendConn.WriteToUDP(data, t.group); err != nil {
		return false
	}
	return true
}

// Close stops the receive loop and closes both sockets. Safe to call more
// than once.
func (t *Transport) Close() {
	t.quitOnce.Do(func() {
		close(t.quit)
		if t.recvConn != nil {
			_ = t.recvConn.Close()
		}
		select {
		case <-t.done:
		case <-time.After(readTimeout):
		}
		if t.sendConn != nil {
			_ = t.sendConn.Close()
		}
	})
}
