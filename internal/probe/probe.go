// Package probe implements the game-server status probes. Each probe
// speaks one wire protocol family behind a common connect/query/dispose
// capability set; a factory selects the implementation by configured game
// type. Query never fails: internal errors degrade through the HTTP
// fallback resolver to the NoData sentinel.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// NoData is the sentinel result meaning "no data available". It is not an
// error amount — an empty server is reported as "0/<max>", never NoData.
const NoData = "N/A"

// DefaultTimeout bounds each probe's dial, read, and write operations.
const DefaultTimeout = 5 * time.Second

// ErrUnknownGame is returned by New for an unrecognized game type.
var ErrUnknownGame = errors.New("unknown game type")

// Target identifies the network endpoint to query.
// It is immutable for the lifetime of a probe.
type Target struct {
	Host string
	Port uint16
}

// Addr returns the target formatted as host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// ConnectError indicates the probe's transport could not be established
// (refused, unreachable, or timed out).
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Probe is the capability set every protocol family implements.
// There is no shared base implementation — framing differs entirely per
// wire format.
type Probe interface {
	// Connect opens the transport to the target. Timeout or refusal is
	// surfaced as a *ConnectError; it is not swallowed at this layer.
	Connect(ctx context.Context, target Target) error

	// Query performs the protocol exchange and returns a normalized
	// result: "<online>/<max>", raw protocol text for the player-count
	// extractor, or NoData. It never returns an error — failures fall
	// through the HTTP fallback resolver exactly once.
	Query(ctx context.Context) string

	// Dispose releases the transport. Safe to call multiple times.
	Dispose()
}

// Options configures a probe built by New.
type Options struct {
	// Fallback resolves status via a third-party HTTP API when the
	// direct probe fails. A nil fallback degrades straight to NoData.
	Fallback Resolver

	// Timeout bounds dial/read/write; DefaultTimeout when zero.
	Timeout time.Duration

	// Logger for debug output. A nil logger is replaced with a no-op.
	Logger *zap.Logger

	// RCONPassword and RCONCommand configure the RCON probe.
	RCONPassword string
	RCONCommand  string
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// resolve runs the fallback tier for a target, or yields NoData when no
// fallback is configured.
func (o Options) resolve(ctx context.Context, target Target) string {
	if o.Fallback == nil {
		return NoData
	}
	return o.Fallback.Resolve(ctx, target.Host, target.Port)
}

// New builds a probe for the given game type. Unknown game types are an
// error at construction, not at query time.
func New(game string, opts Options) (Probe, error) {
	switch strings.ToLower(game) {
	case "minecraft", "slp":
		return NewSLP(opts), nil
	case "source":
		return NewSource(opts), nil
	case "bedrock":
		return NewBedrock(opts), nil
	case "rcon":
		return NewRCON(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, game)
	}
}

// Status runs one full probe lifecycle: connect, query, dispose. A connect
// failure is not terminal — the query path degrades through the probe's
// fallback tier, so the returned result is never empty and never an error.
func Status(ctx context.Context, p Probe, target Target) string {
	defer p.Dispose()
	// The connect error is intentionally not propagated here: Query on an
	// unconnected probe resolves via the fallback tier.
	_ = p.Connect(ctx, target)
	return p.Query(ctx)
}
