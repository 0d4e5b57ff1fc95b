// Package annotation asks a remote text-generation service to label the
// interactive elements or phishing cues in a document, and turns its reply
// into a cleaned document plus the labels it added.
package annotation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/metrics"
)

// Profile selects the instructions sent with a document.
type Profile string

const (
	ProfileInteractive Profile = "interactive"
	ProfilePhishingCue Profile = "phishing-cue"
)

// Result is an annotated document and the labels found in it. For the
// phishing-cue profile Labels holds the cues and Difficulty is 1-3; for the
// interactive profile Difficulty is 0.
type Result struct {
	Document   string
	Labels     []string
	Difficulty int
}

// Client annotates documents through a Generator. Identical requests are
// served from an LRU cache.
type Client struct {
	gen     Generator
	cache   *lru.Cache[string, Result]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a Client. cacheSize <= 0 disables caching.
func NewClient(gen Generator, cacheSize int, logger *zap.Logger, m *metrics.Metrics) *Client {
	c := &Client{gen: gen, logger: logger, metrics: m}
	if cacheSize > 0 {
		c.cache, _ = lru.New[string, Result](cacheSize)
	}
	return c
}

// TagInteractive adds data-tag attributes to the document's interactive
// elements and returns the distinct tags in order of first appearance.
func (c *Client) TagInteractive(ctx context.Context, doc string) (Result, error) {
	return c.annotate(ctx, ProfileInteractive, doc, false)
}

// TagPhishingCues adds data-cue attributes to an email body and rates how hard
// it is to spot. A missing or unusable difficulty line yields DefaultDifficulty.
func (c *Client) TagPhishingCues(ctx context.Context, doc string) (Result, error) {
	return c.annotate(ctx, ProfilePhishingCue, doc, false)
}

// TagInteractiveFragment tags one piece of a larger document. The reply is
// only accepted if, apart from added attributes, it reproduces fragment byte
// for byte; otherwise ErrFragmentAltered is returned.
func (c *Client) TagInteractiveFragment(ctx context.Context, fragment string) (Result, error) {
	return c.annotate(ctx, ProfileInteractive, fragment, true)
}

// TagPhishingCuesFragment is TagInteractiveFragment for phishing cues.
func (c *Client) TagPhishingCuesFragment(ctx context.Context, fragment string) (Result, error) {
	return c.annotate(ctx, ProfilePhishingCue, fragment, true)
}

func (c *Client) annotate(ctx context.Context, profile Profile, doc string, fragment bool) (Result, error) {
	key := cacheKey(profile, doc, fragment)
	if c.cache != nil {
		if r, ok := c.cache.Get(key); ok {
			c.logger.Debug("annotation cache hit", zap.String("profile", string(profile)))
			return clone(r), nil
		}
	}

	var system, prompt string
	switch profile {
	case ProfilePhishingCue:
		system, prompt = phishingCueSystem, phishingCuePrompt+doc
	default:
		system, prompt = interactiveSystem, interactivePrompt+doc
	}

	raw, err := c.gen.Generate(ctx, system, prompt)
	if err == nil {
		var r Result
		if fragment {
			r, err = parseFragment(profile, raw, doc)
		} else {
			r, err = parse(profile, raw)
		}
		if err == nil {
			c.metrics.AnnotationCall(string(profile), nil)
			if c.cache != nil {
				c.cache.Add(key, r)
			}
			return clone(r), nil
		}
	}

	c.metrics.AnnotationCall(string(profile), err)
	return Result{}, apperr.ExternalService(err, "annotation failed")
}

func parse(profile Profile, raw string) (Result, error) {
	var r Result
	text := raw

	if profile == ProfilePhishingCue {
		difficulty, rest, found := parseDifficulty(text)
		if !found {
			// The marker may sit inside a fenced block.
			text = stripCodeFences(text)
			difficulty, rest, _ = parseDifficulty(text)
		}
		r.Difficulty = difficulty
		text = rest
	}

	r.Document = extractHTML(stripCodeFences(text))
	if r.Document == "" {
		return Result{}, errors.New("annotation response contained no document")
	}
	r.Labels = labelsOf(profile, r.Document)
	return r, nil
}

// parseFragment is parse for a piece of a document. The reply is never
// trimmed or cropped; it must match fragment once added attributes are
// removed.
func parseFragment(profile Profile, raw, fragment string) (Result, error) {
	var r Result
	text := raw

	if profile == ProfilePhishingCue {
		difficulty, rest, found := parseDifficulty(text)
		if !found {
			if inner, ok := unfence(text); ok {
				difficulty, rest, _ = parseDifficulty(inner)
			}
		}
		r.Difficulty = difficulty
		text = rest
	}

	doc, ok := matchFragment(text, fragment)
	if !ok {
		return Result{}, ErrFragmentAltered
	}
	r.Document = doc
	r.Labels = labelsOf(profile, doc)
	return r, nil
}

func labelsOf(profile Profile, doc string) []string {
	if profile == ProfilePhishingCue {
		return extractAttr(cueAttr, doc)
	}
	return extractAttr(tagAttr, doc)
}

func cacheKey(profile Profile, doc string, fragment bool) string {
	h := sha256.New()
	h.Write([]byte(profile))
	if fragment {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(doc))
	return hex.EncodeToString(h.Sum(nil))
}

func clone(r Result) Result {
	r.Labels = slices.Clone(r.Labels)
	return r
}
