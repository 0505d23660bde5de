// Bedrock probe — the RakNet unconnected ping/pong exchange over UDP used
// by Minecraft Bedrock servers. The pong carries a semicolon-delimited
// server ID string whose fields include online and max player counts.
package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	raknetUnconnectedPing = 0x01
	raknetUnconnectedPong = 0x1c
	raknetMaxDatagram     = 1500
)

// raknetMagic is the fixed offline-message marker all unconnected RakNet
// packets carry.
var raknetMagic = []byte{
	0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE,
	0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78,
}

// Bedrock probes a server via the RakNet unconnected ping.
type Bedrock struct {
	opts   Options
	target Target
	conn   net.Conn
}

// NewBedrock creates an unconnected Bedrock probe.
func NewBedrock(opts Options) *Bedrock {
	return &Bedrock{opts: opts}
}

// Connect opens the UDP socket toward the target.
func (p *Bedrock) Connect(ctx context.Context, target Target) error {
	p.target = target
	d := net.Dialer{Timeout: p.opts.timeout()}
	conn, err := d.DialContext(ctx, "udp", target.Addr())
	if err != nil {
		return &ConnectError{Addr: target.Addr(), Err: err}
	}
	p.conn = conn
	return nil
}

// Query performs the ping/pong exchange; failures degrade to the fallback
// tier.
func (p *Bedrock) Query(ctx context.Context) string {
	online, max, err := p.ping()
	if err != nil {
		p.opts.logger().Debug("Bedrock ping failed, using fallback",
			zap.String("addr", p.target.Addr()),
			zap.Error(err))
		return p.opts.resolve(ctx, p.target)
	}
	return strconv.Itoa(online) + "/" + strconv.Itoa(max)
}

// Dispose closes the socket. Idempotent.
func (p *Bedrock) Dispose() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// ping sends an unconnected ping and parses the pong's server ID string.
func (p *Bedrock) ping() (online, max int, err error) {
	if p.conn == nil {
		return 0, 0, errors.New("not connected")
	}
	if err := p.conn.SetDeadline(time.Now().Add(p.opts.timeout())); err != nil {
		return 0, 0, err
	}

	// Ping: id, send time, magic, client GUID.
	packet := make([]byte, 0, 33)
	packet = append(packet, raknetUnconnectedPing)
	packet = binary.BigEndian.AppendUint64(packet, uint64(time.Now().UnixMilli()))
	packet = append(packet, raknetMagic...)
	packet = binary.BigEndian.AppendUint64(packet, rand.Uint64())

	if _, err := p.conn.Write(packet); err != nil {
		return 0, 0, err
	}

	buf := make([]byte, raknetMaxDatagram)
	n, err := p.conn.Read(buf)
	if err != nil {
		return 0, 0, err
	}
	return parsePong(buf[:n])
}

// parsePong extracts player counts from an unconnected pong: id, ping
// time, server GUID, magic, then a length-prefixed server ID string of
// semicolon-delimited fields (edition;motd;protocol;version;online;max;...).
func parsePong(data []byte) (online, max int, err error) {
	// id(1) + time(8) + guid(8) + magic(16) + strlen(2)
	const header = 35
	if len(data) < header {
		return 0, 0, errors.New("short pong")
	}
	if data[0] != raknetUnconnectedPong {
		return 0, 0, fmt.Errorf("unexpected pong id 0x%02x", data[0])
	}
	strLen := int(binary.BigEndian.Uint16(data[33:35]))
	if len(data) < header+strLen {
		return 0, 0, errors.New("truncated pong server ID")
	}
	fields := strings.Split(string(data[header:header+strLen]), ";")
	if len(fields) < 6 {
		return 0, 0, errors.New("pong server ID too short")
	}
	online, err1 := strconv.Atoi(fields[4])
	max, err2 := strconv.Atoi(fields[5])
	if err1 != nil || err2 != nil {
		return 0, 0, errors.New("pong player counts not numeric")
	}
	return online, max, nil
}
