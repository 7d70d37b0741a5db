package mcp

import (
	"bytes"
	"net/http"
	"testing"
	"time"
)

func signedRequest(t *testing.T, body []byte, headers map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://example.invalid/mcp", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestSign_LegacyVector(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"list_tools\"}")

	got := sign(secret, canonicalLegacy(ts, "POST", "/mcp", body))
	want := "8d8937fdcea524a9301a74e8e2e4b3ee64ea5ae993f29219d57d0cd3d276613b"
	if got != want {
		t.Fatalf("signature mismatch: got=%s want=%s", got, want)
	}

	req := signedRequest(t, body, map[string]string{headerClientID: "narrator", headerTS: ts, headerSignature: want})
	if vr := verify(req, body, secret, true, time.UnixMilli(1700000000000)); vr.HTTPStatus != 0 || vr.ClientID != "narrator" {
		t.Fatalf("legacy allowed: %+v", vr)
	}
	if vr := verify(req, body, secret, false, time.UnixMilli(1700000000000)); vr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("legacy disallowed should fail: %+v", vr)
	}
}

func TestVerify_NonceSignature(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	sig := sign(secret, canonical(ts, "POST", "/mcp", "narrator", "n-1", body))

	headers := map[string]string{headerClientID: "narrator", headerTS: ts, headerNonce: "n-1", headerSignature: sig}
	vr := verify(signedRequest(t, body, headers), body, secret, false, time.UnixMilli(1700000000500))
	if vr.HTTPStatus != 0 {
		t.Fatalf("expected ok, got %+v", vr)
	}
	if want := time.UnixMilli(1700000000000).Add(signatureWindow); !vr.Expires.Equal(want) {
		t.Fatalf("expires=%v want %v", vr.Expires, want)
	}

	headers[headerNonce] = "n-2"
	if vr := verify(signedRequest(t, body, headers), body, secret, false, time.UnixMilli(1700000000500)); vr.Message != "bad signature" {
		t.Fatalf("tampered nonce accepted: %+v", vr)
	}
}

func TestVerify_Rejections(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte(`{}`)
	sig := sign(secret, canonical(ts, "POST", "/mcp", "narrator", "n", body))
	full := func() map[string]string {
		return map[string]string{headerClientID: "narrator", headerTS: ts, headerNonce: "n", headerSignature: sig}
	}
	cases := []struct {
		name  string
		drop  string
		nowMS int64
		want  string
	}{
		{"no client", headerClientID, 1700000000000, "missing x-client-id"},
		{"no ts", headerTS, 1700000000000, "missing x-ts"},
		{"no signature", headerSignature, 1700000000000, "missing x-signature"},
		{"no nonce", headerNonce, 1700000000000, "missing x-nonce"},
		{"expired", "", 1700000000000 + 301_000, "x-ts outside window"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := full()
			delete(h, tc.drop)
			vr := verify(signedRequest(t, body, h), body, secret, false, time.UnixMilli(tc.nowMS))
			if vr.HTTPStatus != http.StatusUnauthorized || vr.Message != tc.want {
				t.Fatalf("got %+v want %q", vr, tc.want)
			}
		})
	}
}

func TestSeenSignatures_RememberedUntilTimestampExpires(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	vr := verifyResult{ClientID: "narrator", Signature: "s1", Expires: ts.Add(signatureWindow)}
	l := newSeenSignatures(0)

	if got := l.record(vr, ts); got != seenFresh {
		t.Fatalf("first=%v", got)
	}
	if got := l.record(vr, ts.Add(signatureWindow)); got != seenReplay {
		t.Fatalf("at window edge=%v want replay", got)
	}
	other := vr
	other.ClientID = "critic"
	if got := l.record(other, ts); got != seenFresh {
		t.Fatalf("same signature from another client=%v", got)
	}

	// Past the window verify rejects the timestamp, so the entry is dropped.
	later := verifyResult{ClientID: "narrator", Signature: "s2", Expires: ts.Add(2 * signatureWindow)}
	if got := l.record(later, ts.Add(signatureWindow+time.Millisecond)); got != seenFresh {
		t.Fatalf("later=%v", got)
	}
	if l.len() != 1 {
		t.Fatalf("len=%d want 1 after expiry", l.len())
	}
}

func TestSeenSignatures_FullLedgerRefusesInsteadOfForgetting(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	l := newSeenSignatures(2)
	a := verifyResult{ClientID: "c", Signature: "a", Expires: ts.Add(signatureWindow)}
	b := verifyResult{ClientID: "c", Signature: "b", Expires: ts.Add(signatureWindow)}
	c := verifyResult{ClientID: "c", Signature: "c", Expires: ts.Add(signatureWindow)}
	l.record(a, ts)
	l.record(b, ts)

	if got := l.record(c, ts); got != seenFull {
		t.Fatalf("overflow=%v want full", got)
	}
	if got := l.record(a, ts); got != seenReplay {
		t.Fatalf("replay after overflow=%v want replay", got)
	}
	if got := l.record(c, ts.Add(signatureWindow+time.Millisecond)); got != seenFresh {
		t.Fatalf("after expiry=%v want fresh", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.4:80":    false,
		"localhost:80":   false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Errorf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
