// HTTP fallback resolver — queries a third-party status aggregation API
// when the direct probe fails. This is the terminal fallback tier: it
// never errors past its boundary, only NoData.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// DefaultFallbackEndpoint is the status aggregation API queried when a
// direct probe fails.
const DefaultFallbackEndpoint = "https://api.mcsrvstat.us/2"

// fallbackMaxBody caps how much of the aggregation response is read.
const fallbackMaxBody = 1 << 20

// The upstream format may shift, so the counts are matched tolerantly
// rather than parsed as a strict schema.
var (
	fallbackOnlineRe = regexp.MustCompile(`"online"\s*:\s*(\d+)`)
	fallbackMaxRe    = regexp.MustCompile(`"max"\s*:\s*(\d+)`)
)

// Resolver resolves a server's status out-of-band when the direct probe
// fails. Implementations must be total: any failure yields NoData.
type Resolver interface {
	Resolve(ctx context.Context, host string, port uint16) string
}

// HTTPResolver resolves status via a third-party aggregation API.
type HTTPResolver struct {
	client   *http.Client
	endpoint string
	logger   *zap.Logger
}

// NewHTTPResolver creates a resolver against the given endpoint base URL;
// an empty endpoint selects DefaultFallbackEndpoint.
func NewHTTPResolver(endpoint string, logger *zap.Logger) *HTTPResolver {
	if endpoint == "" {
		endpoint = DefaultFallbackEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPResolver{
		client:   &http.Client{Timeout: DefaultTimeout},
		endpoint: endpoint,
		logger:   logger,
	}
}

// Resolve issues one bounded request and extracts "<online>/<max>" from
// the body. Any network error, non-2xx status, or absence of either count
// yields NoData.
func (r *HTTPResolver) Resolve(ctx context.Context, host string, port uint16) string {
	url := fmt.Sprintf("%s/%s:%d", r.endpoint, host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NoData
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("Fallback request failed", zap.String("url", url), zap.Error(err))
		return NoData
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Debug("Fallback returned non-2xx",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return NoData
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fallbackMaxBody))
	if err != nil {
		return NoData
	}

	onlineMatch := fallbackOnlineRe.FindSubmatch(body)
	maxMatch := fallbackMaxRe.FindSubmatch(body)
	if onlineMatch == nil || maxMatch == nil {
		return NoData
	}
	online, err1 := strconv.Atoi(string(onlineMatch[1]))
	max, err2 := strconv.Atoi(string(maxMatch[1]))
	if err1 != nil || err2 != nil {
		return NoData
	}
	return strconv.Itoa(online) + "/" + strconv.Itoa(max)
}

var _ Resolver = (*HTTPResolver)(nil)
