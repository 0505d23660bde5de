// RCON probe — authenticates over the Source RCON protocol and executes a
// configured player-listing command. The raw response text is returned
// as-is for the player-count extractor, which understands the listing
// formats of several games.
package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	rconAuth         = 3
	rconExecCommand  = 2
	rconAuthResponse = 2
	rconResponse     = 0

	// rconMaxBody bounds a single packet body; larger frames are treated
	// as protocol errors.
	rconMaxBody = 4096
)

// defaultRCONCommand lists online players on most RCON-capable servers.
const defaultRCONCommand = "list"

// RCON probes a server by running a player-listing command over RCON.
type RCON struct {
	opts   Options
	target Target
	conn   net.Conn
	nextID int32
}

// NewRCON creates an unconnected RCON probe.
func NewRCON(opts Options) *RCON {
	return &RCON{opts: opts, nextID: 1}
}

// Connect dials the target over TCP with the configured timeout.
func (p *RCON) Connect(ctx context.Context, target Target) error {
	p.target = target
	d := net.Dialer{Timeout: p.opts.timeout()}
	conn, err := d.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return &ConnectError{Addr: target.Addr(), Err: err}
	}
	p.conn = conn
	return nil
}

// Query authenticates and runs the listing command. Auth failure is
// treated like any other error: fall through to the fallback tier.
func (p *RCON) Query(ctx context.Context) string {
	body, err := p.run()
	if err != nil {
		p.opts.logger().Debug("RCON query failed, using fallback",
			zap.String("addr", p.target.Addr()),
			zap.Error(err))
		return p.opts.resolve(ctx, p.target)
	}
	return body
}

// Dispose closes the transport. Idempotent.
func (p *RCON) Dispose() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// run performs the auth and command exchange, returning the raw response
// body of the listing command.
func (p *RCON) run() (string, error) {
	if p.conn == nil {
		return "", errors.New("not connected")
	}
	if err := p.conn.SetDeadline(time.Now().Add(p.opts.timeout())); err != nil {
		return "", err
	}

	authID := p.nextID
	p.nextID++
	if err := writeRCONPacket(p.conn, authID, rconAuth, p.opts.RCONPassword); err != nil {
		return "", err
	}
	// Some servers precede the auth response with an empty response
	// packet; skip until the auth response type arrives.
	for {
		id, typ, _, err := readRCONPacket(p.conn)
		if err != nil {
			return "", err
		}
		if typ != rconAuthResponse {
			continue
		}
		if id == -1 {
			return "", errors.New("authentication refused")
		}
		if id != authID {
			return "", fmt.Errorf("auth response id %d, want %d", id, authID)
		}
		break
	}

	command := p.opts.RCONCommand
	if command == "" {
		command = defaultRCONCommand
	}
	execID := p.nextID
	p.nextID++
	if err := writeRCONPacket(p.conn, execID, rconExecCommand, command); err != nil {
		return "", err
	}
	_, _, body, err := readRCONPacket(p.conn)
	if err != nil {
		return "", err
	}
	return body, nil
}

// writeRCONPacket frames one packet: little-endian size, id, type, body,
// two null terminators.
func writeRCONPacket(w io.Writer, id, typ int32, body string) error {
	size := int32(4 + 4 + len(body) + 2)
	buf := make([]byte, 0, 4+size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(typ))
	buf = append(buf, body...)
	buf = append(buf, 0x00, 0x00)
	_, err := w.Write(buf)
	return err
}

// readRCONPacket reads and unframes one packet.
func readRCONPacket(r io.Reader) (id, typ int32, body string, err error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, 0, "", err
	}
	if size < 10 || size > rconMaxBody {
		return 0, 0, "", fmt.Errorf("rcon frame size %d out of range", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return 0, 0, "", err
	}
	id = int32(binary.LittleEndian.Uint32(frame[0:4]))
	typ = int32(binary.LittleEndian.Uint32(frame[4:8]))
	body = string(frame[8 : size-2])
	return id, typ, body, nil
}
