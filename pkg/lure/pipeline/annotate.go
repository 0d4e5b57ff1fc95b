package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mikepea/lure/pkg/lure/annotation"
	"github.com/mikepea/lure/pkg/lure/chunking"
	"github.com/mikepea/lure/pkg/lure/labels"
	"github.com/mikepea/lure/pkg/lure/models"
)

// Strategy is how a document is annotated.
type Strategy string

const (
	StrategyKeywords Strategy = "keywords" // no remote call; labels come from the vocabulary
	StrategySingle   Strategy = "single"
	StrategyChunked  Strategy = "chunked"
)

// strategyFor picks the annotation strategy for a document of size bytes.
// Scorm packages carry scripts that annotation could break, so they only
// ever get keyword labels. Email always goes to the remote service.
func (p *Processor) strategyFor(kind models.ContentKind, size int) Strategy {
	switch {
	case kind == models.KindSCORM:
		return StrategyKeywords
	case kind != models.KindEmail && size > p.opts.MaxBytes:
		return StrategyKeywords
	case size > p.opts.ChunkThreshold:
		return StrategyChunked
	default:
		return StrategySingle
	}
}

// annotated is the outcome of the annotation step.
type annotated struct {
	doc        string
	labels     []string
	labelType  models.LabelType
	difficulty *int
	strategy   Strategy
	chunks     int
}

func (p *Processor) annotate(ctx context.Context, c *models.Content, doc string) (annotated, error) {
	strategy := p.strategyFor(c.Kind, len(doc))
	log := p.logger.With(zap.String("content_id", c.ID), zap.String("strategy", string(strategy)))

	profile := annotation.ProfileInteractive
	labelType := models.LabelInteraction
	call, callFragment := p.annotator.TagInteractive, p.annotator.TagInteractiveFragment
	if c.Kind == models.KindEmail {
		profile = annotation.ProfilePhishingCue
		labelType = models.LabelPhishingCue
		call, callFragment = p.annotator.TagPhishingCues, p.annotator.TagPhishingCuesFragment
	}

	out := annotated{doc: doc, labelType: labelType, strategy: strategy}

	switch strategy {
	case StrategyKeywords:
		out.labelType = models.LabelInteraction
		out.labels = keywordLabels(c.Title, documentTitle(doc))
		return out, nil

	case StrategySingle:
		out.chunks = 1
		r, err := call(ctx, doc)
		if err != nil {
			if p.opts.Strict {
				return annotated{}, err
			}
			log.Warn("annotation failed, keeping document unannotated", zap.Error(err))
			p.fallback(&out, c, doc)
			return out, nil
		}
		out.doc = r.Document
		out.labels = r.Labels
		if profile == annotation.ProfilePhishingCue {
			d := r.Difficulty
			out.difficulty = &d
		}
		return out, nil
	}

	chunks := chunking.Split(doc, p.opts.ChunkThreshold)
	out.chunks = len(chunks)
	p.metrics.AnnotationChunks(len(chunks))

	var b strings.Builder
	b.Grow(len(doc))
	var found []string
	difficulty := 0
	failed := 0
	for i, chunk := range chunks {
		r, err := callFragment(ctx, chunk)
		if err == nil && annotation.StripLabels(r.Document) != annotation.StripLabels(chunk) {
			err = annotation.ErrFragmentAltered
		}
		if err != nil {
			failed++
			log.Warn("chunk annotation failed, keeping original text",
				zap.Int("chunk", i),
				zap.Int("chunks", len(chunks)),
				zap.Error(err))
			b.WriteString(chunk)
			continue
		}
		b.WriteString(r.Document)
		found = append(found, r.Labels...)
		if r.Difficulty > difficulty {
			difficulty = r.Difficulty
		}
	}

	out.doc = b.String()
	out.labels = labels.Normalize(found)
	if profile == annotation.ProfilePhishingCue && difficulty > 0 {
		out.difficulty = &difficulty
	}
	if failed == len(chunks) {
		p.fallback(&out, c, doc)
	}
	return out, nil
}

// fallback labels an unannotated document from its titles. Phishing cues
// cannot be guessed from keywords, so email gets no labels.
func (p *Processor) fallback(out *annotated, c *models.Content, doc string) {
	if c.Kind == models.KindEmail {
		return
	}
	out.labels = keywordLabels(c.Title, documentTitle(doc))
}
