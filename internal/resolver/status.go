package resolver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Status codes follow curl's exit codes so caches written by older tools keep
// their meaning. See https://ec.haxx.se/usingcurl/usingcurl-returns
const (
	StatusOK                  = 0
	StatusUnsupportedProtocol = 1
	StatusMalformedURL        = 3
	StatusCouldNotResolveHost = 6
	StatusCouldNotConnect     = 7
	StatusTimeout             = 28
	StatusSSLConnectError     = 35
	StatusTooManyRedirects    = 47
	StatusGotNothing          = 52
	StatusRecvError           = 56
	StatusPeerCertificate     = 60

	// StatusSecondaryFailed marks a link the secondary check confirmed broken
	StatusSecondaryFailed = -22
)

var deadCodes = map[int]struct{}{
	3: {}, 6: {}, 7: {}, 18: {}, 28: {}, 35: {}, 47: {}, 52: {}, 56: {}, StatusSecondaryFailed: {},
}

var retryableCodes = map[int]struct{}{
	4: {}, 5: {}, 16: {}, 23: {}, 26: {}, 27: {}, 33: {}, 42: {}, 43: {},
	45: {}, 48: {}, 55: {}, 59: {}, 60: {}, 61: {}, 75: {}, 76: {}, 77: {}, 78: {}, 80: {},
}

// IsDead reports whether a status means the link should not be re-checked
// without force.
func IsDead(code int) bool {
	_, ok := deadCodes[code]
	return ok
}

// IsRetryable reports whether a status is worth another attempt
func IsRetryable(code int) bool {
	_, ok := retryableCodes[code]
	return ok
}

// DeadCodes returns the dead status set
func DeadCodes() []int {
	out := make([]int, 0, len(deadCodes))
	for c := range deadCodes {
		out = append(out, c)
	}
	return out
}

var errTooManyRedirects = errors.New("stopped after too many redirects")

// Classify maps a request error onto the status vocabulary
func Classify(err error) int {
	if err == nil {
		return StatusOK
	}

	if errors.Is(err, errTooManyRedirects) {
		return StatusTooManyRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusCouldNotResolveHost
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return StatusCouldNotConnect
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return StatusRecvError
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return StatusGotNothing
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) {
		return StatusPeerCertificate
	}
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return StatusSSLConnectError
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported protocol scheme"):
		return StatusUnsupportedProtocol
	case strings.Contains(msg, "tls:"):
		return StatusSSLConnectError
	case strings.Contains(msg, "no such host"):
		return StatusCouldNotResolveHost
	case strings.Contains(msg, "connection refused"):
		return StatusCouldNotConnect
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return StatusMalformedURL
	}

	return StatusRecvError
}
