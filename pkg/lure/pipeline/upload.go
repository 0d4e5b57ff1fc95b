package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/mikepea/lure/pkg/lure/apperr"
	"github.com/mikepea/lure/pkg/lure/models"
)

// Upload is one of ArchiveUpload, MarkupUpload, EmailUpload or VideoUpload.
type Upload interface {
	Kind() models.ContentKind
	validate() error
}

// ArchiveUpload is a zip archive of scorm or html content. Source is a
// temporary file the pipeline removes once it has been extracted.
type ArchiveUpload struct {
	Scorm    bool
	Source   string
	Filename string
}

// Kind implements Upload.
func (u ArchiveUpload) Kind() models.ContentKind {
	if u.Scorm {
		return models.KindSCORM
	}
	return models.KindHTML
}

func (u ArchiveUpload) validate() error {
	if u.Source == "" {
		return apperr.Validation("file is required")
	}
	if !strings.EqualFold(filepath.Ext(u.Filename), ".zip") {
		return apperr.Validation("only .zip archives are accepted")
	}
	return nil
}

// MarkupUpload is a raw_html or landing document.
type MarkupUpload struct {
	Landing bool
	HTML    string
}

// Kind implements Upload.
func (u MarkupUpload) Kind() models.ContentKind {
	if u.Landing {
		return models.KindLanding
	}
	return models.KindRawHTML
}

func (u MarkupUpload) validate() error {
	if strings.TrimSpace(u.HTML) == "" {
		return apperr.Validation("html_content is required")
	}
	return nil
}

// Attachment is a file sent along with an email.
type Attachment struct {
	Filename string
	Data     []byte
}

// EmailUpload is an email body plus its headers and an optional attachment.
type EmailUpload struct {
	HTML       string
	Subject    string
	From       string
	Attachment *Attachment
}

// Kind implements Upload.
func (EmailUpload) Kind() models.ContentKind { return models.KindEmail }

func (u EmailUpload) validate() error {
	if strings.TrimSpace(u.HTML) == "" {
		return apperr.Validation("email_html is required")
	}
	if u.Attachment != nil {
		if _, err := attachmentName(u.Attachment.Filename); err != nil {
			return err
		}
	}
	return nil
}

// attachmentName reduces name to a plain file name.
func attachmentName(name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return "", apperr.Validation("invalid attachment filename %q", name)
	}
	return base, nil
}

// VideoUpload is a video file. Source is a temporary file moved into place.
type VideoUpload struct {
	Source   string
	Filename string
}

// Kind implements Upload.
func (VideoUpload) Kind() models.ContentKind { return models.KindVideo }

var videoExtensions = map[string]bool{"mp4": true, "webm": true, "ogg": true}

func (u VideoUpload) ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(u.Filename), "."))
}

func (u VideoUpload) validate() error {
	if u.Source == "" {
		return apperr.Validation("file is required")
	}
	if !videoExtensions[u.ext()] {
		return apperr.Validation("unsupported video format %q", u.ext())
	}
	return nil
}
