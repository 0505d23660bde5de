// Source-engine query probe — the A2S_INFO request/response exchange over
// UDP, including the challenge round-trip newer servers require.
package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	a2sInfoRequest   = 0x54 // 'T'
	a2sInfoReply     = 0x49 // 'I'
	a2sChallengeResp = 0x41 // 'A'

	// Responses fit well within one datagram.
	a2sMaxDatagram = 1400
)

var a2sInfoPayload = append(
	[]byte{0xFF, 0xFF, 0xFF, 0xFF, a2sInfoRequest},
	append([]byte("Source Engine Query"), 0x00)...,
)

// Source probes a server via the Source-engine A2S_INFO query.
type Source struct {
	opts   Options
	target Target
	conn   net.Conn
}

// NewSource creates an unconnected Source-engine probe.
func NewSource(opts Options) *Source {
	return &Source{opts: opts}
}

// Connect opens the UDP socket toward the target.
func (p *Source) Connect(ctx context.Context, target Target) error {
	p.target = target
	d := net.Dialer{Timeout: p.opts.timeout()}
	conn, err := d.DialContext(ctx, "udp", target.Addr())
	if err != nil {
		return &ConnectError{Addr: target.Addr(), Err: err}
	}
	p.conn = conn
	return nil
}

// Query performs the info exchange; failures degrade to the fallback tier.
func (p *Source) Query(ctx context.Context) string {
	online, max, err := p.info()
	if err != nil {
		p.opts.logger().Debug("A2S_INFO failed, using fallback",
			zap.String("addr", p.target.Addr()),
			zap.Error(err))
		return p.opts.resolve(ctx, p.target)
	}
	return strconv.Itoa(online) + "/" + strconv.Itoa(max)
}

// Dispose closes the socket. Idempotent.
func (p *Source) Dispose() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// info sends A2S_INFO, retrying once with the server's challenge token
// when one is demanded, and parses the player counts from the reply.
func (p *Source) info() (online, max int, err error) {
	if p.conn == nil {
		return 0, 0, errors.New("not connected")
	}
	if err := p.conn.SetDeadline(time.Now().Add(p.opts.timeout())); err != nil {
		return 0, 0, err
	}

	reply, err := p.exchange(a2sInfoPayload)
	if err != nil {
		return 0, 0, err
	}

	if reply[0] == a2sChallengeResp {
		if len(reply) < 5 {
			return 0, 0, errors.New("short challenge reply")
		}
		withChallenge := append(append([]byte{}, a2sInfoPayload...), reply[1:5]...)
		reply, err = p.exchange(withChallenge)
		if err != nil {
			return 0, 0, err
		}
	}

	return parseA2SInfo(reply)
}

// exchange writes one datagram and reads one reply, stripping the
// 0xFFFFFFFF single-packet header.
func (p *Source) exchange(request []byte) ([]byte, error) {
	if _, err := p.conn.Write(request); err != nil {
		return nil, err
	}
	buf := make([]byte, a2sMaxDatagram)
	n, err := p.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 5 || binary.LittleEndian.Uint32(buf[:4]) != 0xFFFFFFFF {
		return nil, errors.New("malformed A2S header")
	}
	return buf[4:n], nil
}

// parseA2SInfo walks an A2S_INFO reply (header byte stripped of the
// leading 0xFFFFFFFF) to the players/max bytes: protocol byte, four
// null-terminated strings (name, map, folder, game), 2-byte appid, then
// players and max players.
func parseA2SInfo(reply []byte) (online, max int, err error) {
	if len(reply) < 1 || reply[0] != a2sInfoReply {
		return 0, 0, fmt.Errorf("unexpected A2S reply type 0x%02x", reply[0])
	}
	i := 2 // reply type + protocol byte
	for s := 0; s < 4; s++ {
		for {
			if i >= len(reply) {
				return 0, 0, errors.New("truncated A2S_INFO strings")
			}
			if reply[i] == 0x00 {
				i++
				break
			}
			i++
		}
	}
	i += 2 // appid
	if i+1 >= len(reply) {
		return 0, 0, errors.New("truncated A2S_INFO player counts")
	}
	return int(reply[i]), int(reply[i+1]), nil
}
