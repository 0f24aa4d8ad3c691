package models

import "strings"

// AnonymousAuthor is recorded as the author label when the authenticated
// identity has no email.
const AnonymousAuthor = "익명"

// Validate checks a decoded post for the fields every stored post must carry.
func (p *Post) Validate() error {
	return validate.Struct(p)
}

// DisplayName returns the local part of the author email, the label shown
// next to a post.
func (p *Post) DisplayName() string {
	name, _, _ := strings.Cut(p.AuthorEmail, "@")
	if name == "" {
		return AnonymousAuthor
	}
	return name
}

// Validate checks the draft. When requireTitle is set the title must be
// non-blank as well. Errors are validator.ValidationErrors.
func (d *Draft) Validate(requireTitle bool) error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	if requireTitle {
		return validate.Struct(&struct {
			Title string `validate:"nonblank"`
		}{Title: d.Title})
	}
	return nil
}

// NewDraft builds a draft for the given identity. A nil email is replaced by
// AnonymousAuthor.
func NewDraft(id *Identity, title, content string) Draft {
	d := Draft{Title: title, Content: content}
	if id == nil {
		return d
	}
	d.AuthorID = id.ID
	d.AuthorEmail = AnonymousAuthor
	if id.Email != nil && *id.Email != "" {
		d.AuthorEmail = *id.Email
	}
	return d
}
