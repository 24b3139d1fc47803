// Package entities recomputes the span annotations of a record from its
// final text.
package entities

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tweetarchive/tweets/internal/links"
	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/models"
)

var hashtagPattern = regexp.MustCompile(`#\S+`)

// MediaIndex locates local copies of media files by basename
type MediaIndex interface {
	Lookup(name string) (path string, kind media.Kind, ok bool)
}

// Options configures local media association
type Options struct {
	// Local enables media association through the index
	Local bool
	// Root is the archive directory local paths are made relative to
	Root string
	// PathPrefix, when set, replaces file:// references with prefix + relative path
	PathPrefix string
}

// Report collects what a rebuild found outside the record itself
type Report struct {
	// Missing maps media basenames with no local copy to their remote URL
	Missing map[string]string
	// Delete lists local video files superseded by a higher bitrate copy
	Delete []string
}

func (r *Report) missing(name, url string) {
	if r.Missing == nil {
		r.Missing = map[string]string{}
	}
	if _, ok := r.Missing[name]; !ok {
		r.Missing[name] = url
	}
}

// Rebuilder recomputes hashtag, mention, media and URL entities
type Rebuilder struct {
	index MediaIndex
	opts  Options
}

// New returns a rebuilder. index may be nil when local association is off.
func New(index MediaIndex, opts Options) *Rebuilder {
	return &Rebuilder{index: index, opts: opts}
}

// Rebuild returns a copy of rec whose entities are derived from its final
// text, in order: hashtags, mentions, media, URLs.
func (b *Rebuilder) Rebuild(rec *models.Record) (*models.Record, Report) {
	out := rec.Clone()
	var report Report

	if out.Entities == nil {
		out.Entities = &models.Entities{}
	}
	text := out.FinalText()

	out.Entities.Hashtags = Hashtags(text)
	out.Entities.UserMentions = Mentions(text, out.Entities.UserMentions)

	if b.opts.Local && b.index != nil {
		b.rebuildMedia(out, out.ID.String(), &report)
		if rt := out.RetweetedStatus; rt != nil {
			b.rebuildMedia(rt, rt.ID.String(), &report)
		}
	}
	if rt := out.RetweetedStatus; rt != nil {
		b.placeMedia(rt, rt.FinalText())
	}
	b.placeMedia(out, text)

	out.Entities.URLs = URLs(text)
	out.DisplayTextRange = &models.Span{Start: 0, End: utf8.RuneCountInString(text)}
	return out, report
}

// Hashtags returns one entity per #token run in text
func Hashtags(text string) []models.HashtagEntity {
	tags := []models.HashtagEntity{}
	for _, loc := range hashtagPattern.FindAllStringIndex(text, -1) {
		start := utf8.RuneCountInString(text[:loc[0]])
		tag := text[loc[0]:loc[1]]
		tags = append(tags, models.HashtagEntity{
			Text:    tag[1:],
			Indices: models.Span{Start: start, End: start + utf8.RuneCountInString(tag)},
		})
	}
	return tags
}

// Mentions relocates each known mention in text. A handle repeated in the
// list takes successive occurrences; mentions no longer present are dropped.
func Mentions(text string, known []models.MentionEntity) []models.MentionEntity {
	out := []models.MentionEntity{}
	used := map[string]int{}
	for _, m := range known {
		if m.ScreenName == "" {
			continue
		}
		handle := strings.ToLower(m.ScreenName)
		pattern := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(m.ScreenName) + `\b`)
		locs := pattern.FindAllStringIndex(text, -1)
		n := used[handle]
		if n >= len(locs) {
			continue
		}
		used[handle] = n + 1
		start := utf8.RuneCountInString(text[:locs[n][0]])
		m.Indices = models.Span{Start: start, End: start + utf8.RuneCountInString(m.ScreenName) + 1}
		out = append(out, m)
	}
	return out
}

// URLs returns one entity per absolute URL in text
func URLs(text string) []models.URLEntity {
	found := links.FindURLs(text)
	out := make([]models.URLEntity, 0, len(found))
	for _, m := range found {
		out = append(out, models.URLEntity{
			URL:         m.URL,
			ExpandedURL: m.URL,
			DisplayURL:  DisplayURL(m.URL),
			Indices:     m.Span,
		})
	}
	return out
}

// DisplayURL renders "(host/path)" with a leading www., m. or en. removed
func DisplayURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(" + raw + ")"
	}
	host := u.Host
	for _, prefix := range []string{"www.", "m.", "en."} {
		if strings.HasPrefix(strings.ToLower(host), prefix) {
			host = host[len(prefix):]
			break
		}
	}
	return "(" + host + u.EscapedPath() + ")"
}

// rebuildMedia associates rec's media with local files. Primary and extended
// lists are handled separately; when the record has no extended list the
// primary list stands in for it.
func (b *Rebuilder) rebuildMedia(rec *models.Record, recordID string, report *Report) {
	if rec.Entities != nil {
		for i := range rec.Entities.Media {
			b.associate(rec, &rec.Entities.Media[i], recordID, report)
		}
	}
	if rec.ExtendedEntities != nil {
		for i := range rec.ExtendedEntities.Media {
			b.associate(rec, &rec.ExtendedEntities.Media[i], recordID, report)
		}
	}
}

// placeMedia recomputes media spans against text. Local media sits in a
// zero-width span at the end; remote media spans its link, found by URL then
// by expanded URL, or falls back to the end as well.
func (b *Rebuilder) placeMedia(rec *models.Record, text string) {
	end := utf8.RuneCountInString(text)
	place := func(list []models.MediaEntity) {
		for i := range list {
			list[i].Indices = models.Span{Start: end, End: end}
			if isLocalRef(list[i].MediaURLHTTPS, b.opts.PathPrefix) {
				continue
			}
			if span, ok := locate(text, list[i].URL, list[i].ExpandedURL); ok {
				list[i].Indices = span
			}
		}
	}
	if rec.Entities != nil {
		place(rec.Entities.Media)
	}
	if rec.ExtendedEntities != nil {
		place(rec.ExtendedEntities.Media)
	}
}

// locate returns the code-point span of the first candidate found in text
func locate(text string, candidates ...string) (models.Span, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if i := strings.Index(text, c); i >= 0 {
			start := utf8.RuneCountInString(text[:i])
			return models.Span{Start: start, End: start + utf8.RuneCountInString(c)}, true
		}
	}
	return models.Span{}, false
}

func isLocalRef(ref, prefix string) bool {
	if strings.HasPrefix(ref, "file://") {
		return true
	}
	return prefix != "" && strings.HasPrefix(ref, prefix)
}

// candidates lists the local filenames a media file may be saved under
func candidates(base, recordID string, sourceID int64) []string {
	names := []string{base, recordID + "-" + base}
	if sourceID != 0 {
		names = append(names, models.FlexInt(sourceID).String()+"-"+base)
	}
	return names
}

func (b *Rebuilder) find(base, recordID string, sourceID int64) (string, media.Kind, bool) {
	if base == "" || base == "." || base == "/" {
		return "", media.KindOther, false
	}
	for _, name := range candidates(base, recordID, sourceID) {
		if p, kind, ok := b.index.Lookup(name); ok {
			return p, kind, true
		}
	}
	return "", media.KindOther, false
}

func (b *Rebuilder) associate(rec *models.Record, e *models.MediaEntity, recordID string, report *Report) {
	if e.VideoInfo != nil && len(e.VideoInfo.Variants) > 0 {
		if b.associateVideo(rec, e, recordID, report) {
			return
		}
	}

	base := e.Filename()
	p, kind, ok := b.find(base, recordID, e.SourceID())
	if !ok {
		if e.VideoInfo == nil || len(e.VideoInfo.Variants) == 0 {
			report.missing(base, e.MediaURLHTTPS)
		}
		return
	}
	b.point(e, p)
	remember(rec, kind, filepath.Base(p), p)
}

// associateVideo keeps the highest bitrate variant present locally and
// schedules the other local variants for deletion. With no local variant
// the highest bitrate remote URL is reported missing.
func (b *Rebuilder) associateVideo(rec *models.Record, e *models.MediaEntity, recordID string, report *Report) bool {
	type local struct {
		bitrate int64
		path    string
		variant models.VideoVariant
	}
	var found []local
	for _, v := range e.VideoInfo.Variants {
		base := variantFilename(v.URL)
		p, _, ok := b.find(base, recordID, e.SourceID())
		if !ok {
			if full := path.Base(v.URL); full != base {
				p, _, ok = b.find(full, recordID, e.SourceID())
			}
		}
		if !ok {
			continue
		}
		var rate int64
		if v.Bitrate != nil {
			rate = v.Bitrate.Int64()
		}
		found = append(found, local{bitrate: rate, path: p, variant: v})
	}

	if len(found) == 0 {
		if remote, ok := e.VideoInfo.HighestBitrate(); ok {
			report.missing(variantFilename(remote), remote)
		}
		return false
	}

	best := found[0]
	for _, f := range found[1:] {
		if f.bitrate > best.bitrate {
			best = f
		}
	}
	for _, f := range found {
		if f.path != best.path {
			report.Delete = appendUnique(report.Delete, f.path)
		}
	}

	ref := b.ref(best.path)
	kept := best.variant
	kept.URL = ref
	e.VideoInfo.Variants = []models.VideoVariant{kept}
	b.point(e, best.path)
	remember(rec, media.KindVideo, filepath.Base(best.path), best.path)
	return true
}

// variantFilename is the basename of a variant URL without its query
func variantFilename(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	return path.Base(raw)
}

func (b *Rebuilder) point(e *models.MediaEntity, localPath string) {
	ref := b.ref(localPath)
	e.URL = ""
	e.ExpandedURL = ""
	e.DisplayURL = ""
	e.MediaURL = ref
	e.MediaURLHTTPS = ref
}

// ref renders a local path as a file:// URL or, with a prefix configured, as
// a prefix-relative path.
func (b *Rebuilder) ref(localPath string) string {
	if b.opts.PathPrefix == "" {
		return "file://" + filepath.ToSlash(localPath)
	}
	rel := localPath
	if b.opts.Root != "" {
		if r, err := filepath.Rel(b.opts.Root, localPath); err == nil {
			rel = r
		}
	}
	return b.opts.PathPrefix + filepath.ToSlash(rel)
}

func remember(rec *models.Record, kind media.Kind, name, p string) {
	switch kind {
	case media.KindImage:
		if rec.Images == nil {
			rec.Images = map[string]string{}
		}
		rec.Images[name] = p
	case media.KindVideo:
		if rec.Videos == nil {
			rec.Videos = map[string]string{}
		}
		rec.Videos[name] = p
	default:
		if rec.Files == nil {
			rec.Files = map[string]string{}
		}
		rec.Files[name] = p
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
