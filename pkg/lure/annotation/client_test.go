package annotation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikepea/lure/pkg/lure/apperr"
)

type fakeGenerator struct {
	reply   string
	err     error
	calls   int
	systems []string
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	f.calls++
	f.systems = append(f.systems, system)
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestTagInteractive(t *testing.T) {
	gen := &fakeGenerator{reply: "```html\n<html><body><input data-tag=\"phishing\"><button data-tag=\"phishing\">Go</button></body></html>\n```"}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	r, err := c.TagInteractive(context.Background(), "<html><body><input><button>Go</button></body></html>")
	require.NoError(t, err)
	assert.Equal(t, `<html><body><input data-tag="phishing"><button data-tag="phishing">Go</button></body></html>`, r.Document)
	assert.Equal(t, []string{"phishing"}, r.Labels)
	assert.Zero(t, r.Difficulty)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.systems[0], "data-tag")
	assert.True(t, strings.HasSuffix(gen.prompts[0], "<html><body><input><button>Go</button></body></html>"))
}

func TestTagPhishingCues(t *testing.T) {
	gen := &fakeGenerator{reply: "DIFFICULTY:3\n<html><body><p data-cue=\"language:urgency\">Act now</p><img data-cue=\"visual:logo\"></body></html>\nI marked two cues."}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	r, err := c.TagPhishingCues(context.Background(), "<html><body><p>Act now</p><img></body></html>")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Difficulty)
	assert.Equal(t, []string{"language:urgency", "visual:logo"}, r.Labels)
	assert.False(t, strings.Contains(r.Document, "DIFFICULTY"))
	assert.False(t, strings.Contains(r.Document, "I marked"))
	assert.Contains(t, gen.systems[0], "data-cue")
}

func TestTagPhishingCuesDifficultyInsideFence(t *testing.T) {
	gen := &fakeGenerator{reply: "```html\nDIFFICULTY:1\n<p data-cue=\"error:typo\">Dear costumer</p>\n```"}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	r, err := c.TagPhishingCues(context.Background(), "<p>Dear costumer</p>")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Difficulty)
	assert.Equal(t, `<p data-cue="error:typo">Dear costumer</p>`, r.Document)
}

func TestTagPhishingCuesDefaultDifficulty(t *testing.T) {
	gen := &fakeGenerator{reply: "<p data-cue=\"language:generic-greeting\">Dear user</p>"}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	r, err := c.TagPhishingCues(context.Background(), "<p>Dear user</p>")
	require.NoError(t, err)
	assert.Equal(t, DefaultDifficulty, r.Difficulty)
}

func TestAnnotateFailureIsExternalServiceError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	_, err := c.TagInteractive(context.Background(), "<p>x</p>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExternalService))
	assert.Equal(t, apperr.CategoryExternalService, apperr.CategoryOf(err))
}

func TestAnnotateEmptyReplyIsError(t *testing.T) {
	gen := &fakeGenerator{reply: "```html\n```"}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	_, err := c.TagInteractive(context.Background(), "<p>x</p>")
	assert.True(t, errors.Is(err, apperr.ErrExternalService))
}

func TestAnnotateCache(t *testing.T) {
	gen := &fakeGenerator{reply: "<input data-tag=\"malware\">"}
	c := NewClient(gen, 8, zap.NewNop(), nil)
	ctx := context.Background()

	first, err := c.TagInteractive(ctx, "<input>")
	require.NoError(t, err)
	first.Labels[0] = "mutated"

	second, err := c.TagInteractive(ctx, "<input>")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, []string{"malware"}, second.Labels)

	// A different profile is a different request.
	_, err = c.TagPhishingCues(ctx, "<input>")
	require.NoError(t, err)
	assert.Equal(t, 2, gen.calls)
}

func TestAnnotateFailuresAreNotCached(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	c := NewClient(gen, 8, zap.NewNop(), nil)
	ctx := context.Background()

	_, err := c.TagInteractive(ctx, "<p>x</p>")
	require.Error(t, err)

	gen.err = nil
	gen.reply = "<p data-tag=\"phishing\">x</p>"
	r, err := c.TagInteractive(ctx, "<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, []string{"phishing"}, r.Labels)
	assert.Equal(t, 2, gen.calls)
}

func TestTagFragmentRejectsAlteredReply(t *testing.T) {
	gen := &fakeGenerator{reply: "<div>only the markup</div>"}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	_, err := c.TagInteractiveFragment(context.Background(), "leading text <div>only the markup</div>")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFragmentAltered)
	assert.Equal(t, apperr.CategoryExternalService, apperr.CategoryOf(err))
}

func TestTagPhishingCuesFragment(t *testing.T) {
	gen := &fakeGenerator{reply: "DIFFICULTY:3\n<p data-cue=\"language:urgency\">Act now</p> or lose access"}
	c := NewClient(gen, 0, zap.NewNop(), nil)

	r, err := c.TagPhishingCuesFragment(context.Background(), "<p>Act now</p> or lose access")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Difficulty)
	assert.Equal(t, `<p data-cue="language:urgency">Act now</p> or lose access`, r.Document)
	assert.Equal(t, []string{"language:urgency"}, r.Labels)
}
