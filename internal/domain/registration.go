package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// Default content types for the two upload slots.
const (
	DefaultGroundContentType = "image/jpeg"
	DefaultAerialContentType = "image/tiff"
)

var (
	errEmailRequired    = errors.New("email is required")
	errEmailInvalid     = errors.New("email is not a valid address")
	errUsernameRequired = errors.New("username is required")
	errContentType      = errors.New("content type must be an image/* type")
)

// RegistrationRequest is the immutable input to a registration attempt.
type RegistrationRequest struct {
	Email             string `json:"email"`
	Username          string `json:"username"`
	AvatarURL         string `json:"avatar_url,omitempty"`
	GroundContentType string `json:"ground_photo_content_type,omitempty"`
	AerialContentType string `json:"aerial_photo_content_type,omitempty"`
}

// Normalize returns a copy with whitespace trimmed, the email lower-cased and
// default content types filled in.
func (r RegistrationRequest) Normalize() RegistrationRequest {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = strings.TrimSpace(r.Username)
	r.AvatarURL = strings.TrimSpace(r.AvatarURL)
	if r.GroundContentType == "" {
		r.GroundContentType = DefaultGroundContentType
	}
	if r.AerialContentType == "" {
		r.AerialContentType = DefaultAerialContentType
	}
	return r
}

// Validate checks field syntax. It does not check uniqueness.
func (r RegistrationRequest) Validate() error {
	if r.Email == "" {
		return errEmailRequired
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return errEmailInvalid
	}
	if r.Username == "" {
		return errUsernameRequired
	}
	for _, ct := range []string{r.GroundContentType, r.AerialContentType} {
		if ct != "" && !strings.HasPrefix(ct, "image/") {
			return errContentType
		}
	}
	return nil
}

// ContentType returns the requested content type for a slot.
func (r RegistrationRequest) ContentType(slot AssetSlot) string {
	switch slot {
	case SlotGround:
		return r.GroundContentType
	case SlotAerial:
		return r.AerialContentType
	}
	return ""
}
