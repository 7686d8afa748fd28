package enrichment

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"ingest-service/internal/util"
)

// ClientIPResolver picks the address used for rate limiting, hashing and
// geolocation. X-Forwarded-For is honoured only when the direct peer is a
// trusted proxy; otherwise a client could pick its own rate-limit key.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver accepts plain addresses and CIDR ranges. Invalid
// entries are logged and skipped.
func NewClientIPResolver(trustedProxies []string) *ClientIPResolver {
	r := &ClientIPResolver{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			r.trusted = append(r.trusted, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			r.trusted = append(r.trusted, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			continue
		}
		util.Warn("Ignoring invalid trusted proxy", zap.String("entry", entry))
	}
	return r
}

func (r *ClientIPResolver) ClientIP(req *http.Request) string {
	peer := remoteHost(req.RemoteAddr)
	if !r.isTrusted(peer) {
		return peer
	}
	xff := req.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if _, err := netip.ParseAddr(first); err != nil {
		return peer
	}
	return first
}

func (r *ClientIPResolver) isTrusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
