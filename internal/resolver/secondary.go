package resolver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/net/html"
)

// SecondaryOutcome is the verdict of a secondary reachability check
type SecondaryOutcome int

const (
	// SecondaryUnknown means the check could not decide
	SecondaryUnknown SecondaryOutcome = iota
	// SecondaryBroken means the server answered with an error status
	SecondaryBroken
	// SecondaryExists means the URL serves content itself
	SecondaryExists
	// SecondaryFound means another destination was found in the response
	SecondaryFound
)

func (o SecondaryOutcome) String() string {
	switch o {
	case SecondaryBroken:
		return "broken"
	case SecondaryExists:
		return "exists"
	case SecondaryFound:
		return "found"
	default:
		return "unknown"
	}
}

// SecondaryResult is returned by a SecondaryChecker
type SecondaryResult struct {
	Outcome SecondaryOutcome
	URL     string
}

// SecondaryChecker decides between a broken link, a server that only
// misbehaves for HEAD, and a destination buried in the response body.
type SecondaryChecker interface {
	Check(ctx context.Context, rawURL string) SecondaryResult
}

// maxBodyBytes bounds how much of a page is scanned for buried redirects
const maxBodyBytes = 512 << 10

// errServerStatus marks an attempt answered with a 5xx status; it is retried
var errServerStatus = errors.New("server error status")

// SpiderChecker issues a GET with one retry and inspects the answer
type SpiderChecker struct {
	client   *http.Client
	executor failsafe.Executor[*http.Response]
}

// NewSpiderChecker returns a checker whose attempts are bounded by timeout
func NewSpiderChecker(timeout time.Duration) *SpiderChecker {
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(200*time.Millisecond, time.Second).
		WithMaxRetries(1).
		HandleIf(func(_ *http.Response, err error) bool { return err != nil }).
		Build()

	return &SpiderChecker{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
		executor: failsafe.With[*http.Response](retry),
	}
}

// Check implements SecondaryChecker
func (s *SpiderChecker) Check(ctx context.Context, rawURL string) SecondaryResult {
	var serverErr bool
	//nolint:bodyclose // closed below; failed attempts close their own body
	resp, _ := s.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		serverErr = err == nil && resp.StatusCode >= 500
		if serverErr {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", errServerStatus, resp.Status)
		}
		return resp, err
	})
	if resp == nil {
		if serverErr {
			return SecondaryResult{Outcome: SecondaryBroken}
		}
		return SecondaryResult{Outcome: SecondaryUnknown}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return SecondaryResult{Outcome: SecondaryBroken}
	}

	final := resp.Request.URL
	if final.String() != rawURL {
		return SecondaryResult{Outcome: SecondaryFound, URL: final.String()}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		if buried := findBuriedURL(io.LimitReader(resp.Body, maxBodyBytes), final); buried != "" && buried != rawURL {
			return SecondaryResult{Outcome: SecondaryFound, URL: buried}
		}
	}
	return SecondaryResult{Outcome: SecondaryExists, URL: rawURL}
}

// findBuriedURL returns the destination a page points at through a meta
// refresh, or failing that its canonical or og:url link. Relative
// references are resolved against base.
func findBuriedURL(r io.Reader, base *url.URL) string {
	var refresh, canonical string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return pickURL(base, refresh, canonical)
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				equiv, content, property := attr(tok, "http-equiv"), attr(tok, "content"), attr(tok, "property")
				if strings.EqualFold(equiv, "refresh") {
					if u := refreshTarget(content); u != "" {
						refresh = u
					}
				} else if property == "og:url" && canonical == "" {
					canonical = content
				}
			case "link":
				if strings.EqualFold(attr(tok, "rel"), "canonical") {
					canonical = attr(tok, "href")
				}
			case "body":
				return pickURL(base, refresh, canonical)
			}
		}
	}
}

func pickURL(base *url.URL, candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme == "http" || abs.Scheme == "https" {
			return abs.String()
		}
	}
	return ""
}

// refreshTarget extracts the URL from a content="0; url=..." value
func refreshTarget(content string) string {
	idx := strings.Index(strings.ToLower(content), "url=")
	if idx < 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(content[idx+4:]), `'"`)
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}
