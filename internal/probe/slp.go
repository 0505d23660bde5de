// Server List Ping probe — the binary handshake/status protocol spoken by
// Minecraft Java servers. Reference implementation for the probe
// capability set.
package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/statuspoll/agent/internal/protocol"
)

// slpProtocolVersion is the protocol-version varint sent in the handshake.
// Status requests work regardless of the advertised version.
const slpProtocolVersion = 754

const (
	slpHandshakeID = 0x00
	slpStatusState = 1
)

// Two tolerant matchers over the status response text, tried in order:
// the players object shape first, then a looser online-then-max scan.
var (
	slpPlayersRe = regexp.MustCompile(`"players"\s*:\s*\{[^}]*"online"\s*:\s*(\d+)[^}]*"max"\s*:\s*(\d+)`)
	slpLooseRe   = regexp.MustCompile(`"online"\s*:\s*(\d+)[\s\S]*"max"\s*:\s*(\d+)`)
)

// SLP probes a server via the Server List Ping handshake over TCP.
type SLP struct {
	opts   Options
	target Target
	conn   net.Conn
}

// NewSLP creates an unconnected Server List Ping probe.
func NewSLP(opts Options) *SLP {
	return &SLP{opts: opts}
}

// Connect dials the target over TCP with the configured timeout.
func (p *SLP) Connect(ctx context.Context, target Target) error {
	p.target = target
	d := net.Dialer{Timeout: p.opts.timeout()}
	conn, err := d.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return &ConnectError{Addr: target.Addr(), Err: err}
	}
	p.conn = conn
	return nil
}

// Query performs the handshake and status exchange. Any failure — no
// connection, truncated frame, oversized varint, unmatched response —
// falls through the HTTP fallback resolver exactly once.
func (p *SLP) Query(ctx context.Context) string {
	status, err := p.status()
	if err != nil {
		p.opts.logger().Debug("SLP status failed, using fallback",
			zap.String("addr", p.target.Addr()),
			zap.Error(err))
		return p.opts.resolve(ctx, p.target)
	}

	online, max, ok := slpPlayerCounts(status)
	if !ok {
		p.opts.logger().Debug("SLP response had no player counts, using fallback",
			zap.String("addr", p.target.Addr()))
		return p.opts.resolve(ctx, p.target)
	}
	return strconv.Itoa(online) + "/" + strconv.Itoa(max)
}

// Dispose closes the transport. Idempotent.
func (p *SLP) Dispose() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// status runs the wire exchange: handshake, status request, response.
func (p *SLP) status() (string, error) {
	if p.conn == nil {
		return "", errors.New("not connected")
	}
	if err := p.conn.SetDeadline(time.Now().Add(p.opts.timeout())); err != nil {
		return "", err
	}

	// Handshake payload: id, protocol version, host, port (big-endian
	// uint16), next state = status.
	var payload bytes.Buffer
	payload.WriteByte(slpHandshakeID)
	if err := protocol.WriteVarInt(&payload, slpProtocolVersion); err != nil {
		return "", err
	}
	if err := protocol.WriteString(&payload, p.target.Host); err != nil {
		return "", err
	}
	if err := binary.Write(&payload, binary.BigEndian, p.target.Port); err != nil {
		return "", err
	}
	if err := protocol.WriteVarInt(&payload, slpStatusState); err != nil {
		return "", err
	}

	// Length-prefix the whole payload and write it in one operation.
	var packet bytes.Buffer
	if err := protocol.WriteVarInt(&packet, int32(payload.Len())); err != nil {
		return "", err
	}
	packet.Write(payload.Bytes())
	if _, err := p.conn.Write(packet.Bytes()); err != nil {
		return "", err
	}

	// Status request: length=1, id=0.
	if _, err := p.conn.Write([]byte{0x01, 0x00}); err != nil {
		return "", err
	}

	// Response: length varint and id varint are read and discarded, then
	// a length-prefixed string holds the JSON status text.
	r := bufio.NewReader(p.conn)
	if _, err := protocol.ReadVarInt(r); err != nil {
		return "", err
	}
	if _, err := protocol.ReadVarInt(r); err != nil {
		return "", err
	}
	return protocol.ReadString(r)
}

// slpPlayerCounts extracts online/max from the status text via tolerant
// pattern matching; the response is not parsed as structured data here.
func slpPlayerCounts(status string) (online, max int, ok bool) {
	for _, re := range []*regexp.Regexp{slpPlayersRe, slpLooseRe} {
		m := re.FindStringSubmatch(status)
		if m == nil {
			continue
		}
		online, err1 := strconv.Atoi(m[1])
		max, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil {
			return online, max, true
		}
	}
	return 0, 0, false
}
