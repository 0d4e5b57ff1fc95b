// Package assets mirrors system and CDN resources referenced by a document
// into the content's own directory and points the references at the copies.
package assets

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikepea/lure/pkg/lure/metrics"
	"github.com/mikepea/lure/pkg/lure/pathguard"
)

// Fetcher downloads url into dest.
type Fetcher interface {
	Download(ctx context.Context, url, dest string) error
}

const (
	classSystem = "system"
	classCDN    = "cdn"

	// cdnDir is the directory CDN copies are stored under, inside a content directory.
	cdnDir = "cdn"

	downloadConcurrency = 4
)

var (
	attrRef = regexp.MustCompile(`(?i)\b(?:src|href)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	cssRef  = regexp.MustCompile(`(?i)\burl\(\s*(?:"([^"]*)"|'([^']*)'|([^'")\s]+))\s*\)`)
	cdnRef  = regexp.MustCompile(`^//([A-Za-z0-9][A-Za-z0-9.\-]*)(/[^?#]*)`)
)

// Options configures a Mirror.
type Options struct {
	ContentRoot  string // directory holding one subdirectory per content item
	BasePath     string // URL prefix the app is mounted under
	SystemOrigin string // origin serving system paths; empty disables system mirroring
	SystemPrefix string
	CDNScheme    string // scheme used to fetch protocol-relative references
}

// Mirror downloads referenced assets and rewrites the references.
type Mirror struct {
	fetcher Fetcher
	opts    Options
	guard   pathguard.Guard
	cdn     pathguard.Guard
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Mirror.
func New(fetcher Fetcher, opts Options, logger *zap.Logger, m *metrics.Metrics) *Mirror {
	if opts.CDNScheme == "" {
		opts.CDNScheme = "https"
	}
	opts.SystemOrigin = strings.TrimRight(opts.SystemOrigin, "/")
	opts.BasePath = strings.TrimRight(opts.BasePath, "/")
	return &Mirror{
		fetcher: fetcher,
		opts:    opts,
		guard:   pathguard.New(opts.SystemPrefix),
		cdn:     pathguard.New("/" + cdnDir + "/"),
		logger:  logger,
		metrics: m,
	}
}

// asset is one distinct reference found in a document.
type asset struct {
	ref       string // as written in the document
	class     string
	remoteURL string
	localPath string // absolute destination
	publicURL string // replacement reference
}

// span locates a reference value inside the document.
type span struct {
	start, end int
	ref        string
}

// Mirror returns doc with every successfully mirrored reference rewritten to
// its content-scoped copy. References that are rejected or fail to download
// are left as they were. Failures are logged and never abort the document.
func (m *Mirror) Mirror(ctx context.Context, doc, contentID string) string {
	spans := findRefs(doc)
	if len(spans) == 0 {
		return doc
	}

	contentDir := filepath.Join(m.opts.ContentRoot, contentID)
	log := m.logger.With(zap.String("content_id", contentID))

	planned := make(map[string]*asset)
	var order []*asset
	for _, s := range spans {
		if _, ok := planned[s.ref]; ok {
			continue
		}
		a := m.plan(s.ref, contentID, contentDir, log)
		planned[s.ref] = a
		if a != nil {
			order = append(order, a)
		}
	}

	mirrored := m.download(ctx, order, log)
	if len(mirrored) == 0 {
		return doc
	}

	var b strings.Builder
	b.Grow(len(doc))
	last := 0
	for _, s := range spans {
		a := planned[s.ref]
		if a == nil || !mirrored[a.ref] {
			continue
		}
		b.WriteString(doc[last:s.start])
		b.WriteString(a.publicURL)
		last = s.end
	}
	b.WriteString(doc[last:])
	return b.String()
}

// plan classifies ref and works out where it comes from and goes to. It
// returns nil for references that are not mirrored.
func (m *Mirror) plan(ref, contentID, contentDir string, log *zap.Logger) *asset {
	switch {
	case strings.HasPrefix(ref, "//"):
		match := cdnRef.FindStringSubmatch(ref)
		if match == nil || strings.HasSuffix(match[2], "/") {
			return nil
		}
		host, p := strings.ToLower(match[1]), match[2]
		local := "/" + cdnDir + "/" + host + p
		if !m.cdn.Validate(local, contentDir) {
			m.metrics.AssetRejected()
			log.Warn("rejected CDN asset path", zap.String("asset", ref))
			return nil
		}
		return &asset{
			ref:       ref,
			class:     classCDN,
			remoteURL: m.opts.CDNScheme + "://" + host + p,
			localPath: filepath.Join(contentDir, filepath.FromSlash(local)),
			publicURL: m.publicURL(contentID, local),
		}

	case strings.HasPrefix(ref, m.guard.Prefix):
		if m.opts.SystemOrigin == "" {
			return nil
		}
		if !m.guard.Validate(ref, contentDir) {
			m.metrics.AssetRejected()
			log.Warn("rejected system asset path", zap.String("asset", ref))
			return nil
		}
		p, _ := pathguard.SplitQuery(ref)
		return &asset{
			ref:       ref,
			class:     classSystem,
			remoteURL: m.opts.SystemOrigin + p,
			localPath: filepath.Join(contentDir, filepath.FromSlash(p)),
			publicURL: m.publicURL(contentID, p),
		}
	}
	return nil
}

func (m *Mirror) publicURL(contentID, p string) string {
	return m.opts.BasePath + "/content/" + contentID + p
}

// download fetches each asset once and reports which refs succeeded. Several
// refs can share a local path (e.g. differing only in query string); the
// file is fetched once and all of them are rewritten.
func (m *Mirror) download(ctx context.Context, assets []*asset, log *zap.Logger) map[string]bool {
	byPath := make(map[string][]*asset)
	var paths []string
	for _, a := range assets {
		if _, ok := byPath[a.localPath]; !ok {
			paths = append(paths, a.localPath)
		}
		byPath[a.localPath] = append(byPath[a.localPath], a)
	}

	var (
		mu sync.Mutex
		ok = make(map[string]bool)
		g  errgroup.Group
	)
	g.SetLimit(downloadConcurrency)

	for _, p := range paths {
		group := byPath[p]
		first := group[0]
		g.Go(func() error {
			err := m.fetcher.Download(ctx, first.remoteURL, first.localPath)
			m.metrics.AssetDownload(first.class, err)
			if err != nil {
				log.Warn("asset download failed",
					zap.String("asset", first.ref),
					zap.String("url", first.remoteURL),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			for _, a := range group {
				ok[a.ref] = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return ok
}

// findRefs returns every src=, href= and url() value in doc, in document order.
func findRefs(doc string) []span {
	var spans []span
	for _, re := range []*regexp.Regexp{attrRef, cssRef} {
		for _, idx := range re.FindAllStringSubmatchIndex(doc, -1) {
			for g := 1; g*2+1 < len(idx); g++ {
				start, end := idx[g*2], idx[g*2+1]
				if start < 0 {
					continue
				}
				spans = append(spans, span{start: start, end: end, ref: strings.TrimSpace(doc[start:end])})
				break
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	out := spans[:0]
	lastEnd := -1
	for _, s := range spans {
		if s.start < lastEnd || s.ref == "" {
			continue
		}
		out = append(out, s)
		lastEnd = s.end
	}
	return out
}
