package audit

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// OriginResolver derives the origin recorded on entries. Forwarding headers
// are honoured only when the socket peer is a trusted proxy.
type OriginResolver struct {
	trusted []netip.Prefix
}

// NewOriginResolver parses trustedProxies, each a CIDR or a bare address.
// With none, only the socket address is used.
func NewOriginResolver(trustedProxies []string) (*OriginResolver, error) {
	o := &OriginResolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := ParseTrustedProxy(raw)
		if err != nil {
			return nil, err
		}
		o.trusted = append(o.trusted, prefix)
	}
	return o, nil
}

// ParseTrustedProxy parses a CIDR or a bare address into a prefix
func ParseTrustedProxy(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// FromRequest returns the client address and user agent of r
func (o *OriginResolver) FromRequest(r *http.Request) Origin {
	return Origin{
		IPAddress: o.clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// Middleware stores the request origin for entries recorded while serving
// the request
func (o *OriginResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithOrigin(r.Context(), o.FromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP walks X-Forwarded-For from the right, skipping trusted hops, so
// a client cannot forge its address by prepending entries
func (o *OriginResolver) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !o.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !o.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (o *OriginResolver) isTrusted(host string) bool {
	if len(o.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range o.trusted {
		if prefix.Contains(addr) {
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

var directOrigins = &OriginResolver{}

// OriginFromRequest derives the origin of r from its socket address,
// ignoring forwarding headers
func OriginFromRequest(r *http.Request) Origin {
	return directOrigins.FromRequest(r)
}

// OriginMiddleware is Middleware of a resolver that trusts no proxy
func OriginMiddleware(next http.Handler) http.Handler {
	return directOrigins.Middleware(next)
}
