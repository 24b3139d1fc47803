package links

import (
	"net/url"
	"strings"
)

// shorteners are hosts whose URLs redirect elsewhere rather than serve content
var shorteners = toSet(
	"53eig.ht", "aca.st", "amzn.to", "b-o-e.uk", "b0x.ee", "bankofeng.uk",
	"bbc.in", "bit.ly", "bitly.com", "bloom.bg", "boe.uk", "bru.gl", "buff.ly",
	"cnb.cx", "cnnmon.ie", "dailym.ai", "deck.ly", "dld.bz", "dlvr.it", "econ.st",
	"eff.org", "eurone.ws", "fal.cn", "fb.me", "for.tn", "go.nasa.gov", "go.shr.lc",
	"goo.gl", "ht.ly", "hubs.ly", "huff.to", "ind.pn", "instagr.am", "interc.pt",
	"j.mp", "jrnl.ie", "jtim.es", "kurl.nl", "ln.is", "n.mynews.ly", "newsl.it",
	"n.pr", "nyp.st", "nyti.ms", "on.fb.me", "on.ft.com", "on.mktw.net", "on.rt.com",
	"on.wsj.com", "ow.ly", "owl.li", "po.st", "poal.me", "ptv.io", "read.bi",
	"reut.rs", "rviv.ly", "sc.mp", "scl.io", "shr.gs", "shar.es", "socsi.in",
	"spon.de", "spoti.fi", "spr.ly", "sptnkne.ws", "str.sg", "t.co", "tgam.ca",
	"ti.me", "tinurl.us", "tinyurl.com", "tlsur.net", "tmblr.co", "tr.im",
	"trib.al", "tws.io", "vrge.co", "wapo.st", "wef.ch", "wp.me", "wpo.st",
	"wrd.cm", "wrld.bg", "www.goo.gl", "xhne.ws", "yhoo.it", "youtu.be",
)

// expiredHosts are never contacted
var expiredHosts = toSet("b0x.ee", "4sq.com", "vid.me")

func toSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Host returns the lower-cased host of rawURL without its port, or "" when
// rawURL is not an absolute URL.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsShortener reports whether rawURL is on a known shortener host
func IsShortener(rawURL string) bool {
	_, ok := shorteners[Host(rawURL)]
	return ok
}

// IsExpired reports whether rawURL is on a host that is no longer followed
func IsExpired(rawURL string) bool {
	_, ok := expiredHosts[Host(rawURL)]
	return ok
}

// Shorteners returns the shortener host list
func Shorteners() []string {
	out := make([]string, 0, len(shorteners))
	for h := range shorteners {
		out = append(out, h)
	}
	return out
}
