package mcp

import (
	"container/heap"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerClientID  = "x-client-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"

	// signatureWindow bounds the clock skew accepted on x-ts.
	signatureWindow = 5 * time.Minute
)

func canonicalLegacy(ts, method, path string, body []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + string(body)
}

func canonical(ts, method, path, clientID, nonce string, body []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + strings.TrimSpace(clientID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(body)
}

func sign(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

type verifyResult struct {
	ClientID  string
	Signature string
	// Expires is when x-ts leaves the window; past it the signature is
	// rejected by verify and need not be remembered.
	Expires    time.Time
	HTTPStatus int
	Message    string
}

func deny(msg string) verifyResult {
	return verifyResult{HTTPStatus: http.StatusUnauthorized, Message: msg}
}

// verify checks the request signature. allowLegacy also accepts signatures
// computed without client id and nonce.
func verify(r *http.Request, body, secret []byte, allowLegacy bool, now time.Time) verifyResult {
	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	if clientID == "" {
		return deny("missing " + headerClientID)
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return deny("missing " + headerTS)
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return deny("missing " + headerSignature)
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" && !allowLegacy {
		return deny("missing " + headerNonce)
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return deny("bad " + headerTS)
	}
	if d := now.UnixMilli() - tsMS; d > signatureWindow.Milliseconds() || d < -signatureWindow.Milliseconds() {
		return deny(headerTS + " outside window")
	}

	ok := verifyResult{ClientID: clientID, Signature: sig, Expires: time.UnixMilli(tsMS).Add(signatureWindow)}
	if nonce != "" && hmac.Equal([]byte(sig), []byte(sign(secret, canonical(tsStr, r.Method, r.URL.Path, clientID, nonce, body)))) {
		return ok
	}
	if allowLegacy && hmac.Equal([]byte(sig), []byte(sign(secret, canonicalLegacy(tsStr, r.Method, r.URL.Path, body)))) {
		return ok
	}
	return deny("bad signature")
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// maxSeenSignatures bounds the ledger. When it is full, new signatures are
// refused until older ones expire.
const maxSeenSignatures = 1 << 16

// seenSignatures remembers every accepted signature until it expires, so a
// captured request cannot be sent twice inside the signature window.
type seenSignatures struct {
	mu      sync.Mutex
	expires map[string]time.Time
	order   expiryHeap
	max     int
}

func newSeenSignatures(max int) *seenSignatures {
	if max <= 0 {
		max = maxSeenSignatures
	}
	return &seenSignatures{expires: map[string]time.Time{}, max: max}
}

type seenResult int

const (
	seenFresh seenResult = iota
	seenReplay
	seenFull
)

// record admits vr unless its signature is already known or the ledger is
// full. Entries past their expiry are dropped first.
func (l *seenSignatures) record(vr verifyResult, now time.Time) seenResult {
	key := vr.ClientID + "|" + vr.Signature
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.order) > 0 && l.order[0].at.Before(now) {
		e := heap.Pop(&l.order).(expiry)
		if l.expires[e.key].Equal(e.at) {
			delete(l.expires, e.key)
		}
	}
	if _, ok := l.expires[key]; ok {
		return seenReplay
	}
	if len(l.expires) >= l.max {
		return seenFull
	}
	l.expires[key] = vr.Expires
	heap.Push(&l.order, expiry{key: key, at: vr.Expires})
	return seenFresh
}

func (l *seenSignatures) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}

type expiry struct {
	key string
	at  time.Time
}

type expiryHeap []expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}
