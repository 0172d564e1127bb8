package proxy

import (
	"crypto/sha1"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/netip"
	"strings"
	"sync"
)

const clientKeyHeader = "X-Adtrim-Client-Key"

// cookieJarStore keeps one upstream session per proxy client.
type cookieJarStore struct {
	mu   sync.Mutex
	jars map[string]http.CookieJar
}

func newCookieJarStore() *cookieJarStore {
	return &cookieJarStore{jars: make(map[string]http.CookieJar)}
}

func (s *cookieJarStore) Get(key string) http.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, ok := s.jars[key]; ok {
		return jar
	}
	jar, _ := cookiejar.New(nil)
	s.jars[key] = jar
	return jar
}

// trustedProxies lists the peers allowed to name the client on whose behalf
// they forward.
type trustedProxies []netip.Prefix

func parseTrustedProxies(raw []string) trustedProxies {
	var out trustedProxies
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}
	return out
}

func (t trustedProxies) contains(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// deriveClientKey identifies the client by peer address and user agent. The
// client key header and X-Forwarded-For are honoured only when the peer is a
// trusted proxy.
func deriveClientKey(r *http.Request, trusted trustedProxies) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	if trusted.contains(r.RemoteAddr) {
		if v := strings.TrimSpace(r.Header.Get(clientKeyHeader)); v != "" {
			return v
		}
		if fwd := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); fwd != "" {
			host = fwd
		}
	}
	return host + "|" + r.UserAgent()
}

// cacheScope turns a client key into a fixed-size cache namespace.
func cacheScope(clientKey string) string {
	h := sha1.Sum([]byte(clientKey))
	return hex.EncodeToString(h[:8])
}
