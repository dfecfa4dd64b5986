package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg" // avatar uploads
	_ "image/png"  // avatar uploads
	"strings"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/camera"
	"lexion/cmd/internal/lexapi"
	pwpolicy "lexion/cmd/security/password"
)

// Avatars are normalized before upload.
const (
	avatarSize    = 480
	avatarQuality = 85
)

const (
	msgNothingToUpdate = "Nothing to update."
	msgCurrentPassword = "Enter your current password."
	msgAvatarMissing   = "Choose a photo."
	msgAvatarInvalid   = "The photo must be a JPEG or PNG image."
)

// updateProfile sends u and refreshes the session identity from the result.
func (a *App) updateProfile(ctx context.Context, cred string, u lexapi.ProfileUpdate) (lexapi.Profile, error) {
	const op = "app.updateProfile"

	u.FullName = strings.TrimSpace(u.FullName)
	u.Phone = strings.TrimSpace(u.Phone)
	u.Email = strings.TrimSpace(u.Email)
	if u == (lexapi.ProfileUpdate{}) {
		return lexapi.Profile{}, autherr.Local(op, msgNothingToUpdate)
	}

	if err := a.api.UpdateProfile(ctx, cred, u); err != nil {
		a.signOutIfDenied(ctx, err)
		return lexapi.Profile{}, err
	}
	return a.refreshIdentity(ctx, cred)
}

// changePassword applies the local policy before any remote call.
func (a *App) changePassword(ctx context.Context, cred, current, next, confirm string) error {
	const op = "app.changePassword"

	if current == "" {
		return autherr.Local(op, msgCurrentPassword)
	}
	if err := a.policy.ValidatePair(next, confirm); err != nil {
		return autherr.Local(op, passwordPolicyMessage(err))
	}
	if err := a.api.ChangePassword(ctx, cred, current, next); err != nil {
		a.signOutIfDenied(ctx, err)
		return err
	}
	a.log.Info("account.password.changed")
	return nil
}

// uploadAvatar re-encodes img as a square JPEG, uploads it and refreshes the
// identity so views pick up the new photo.
func (a *App) uploadAvatar(ctx context.Context, cred string, img []byte) (lexapi.Profile, error) {
	const op = "app.uploadAvatar"

	if len(img) == 0 {
		return lexapi.Profile{}, autherr.Local(op, msgAvatarMissing)
	}
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return lexapi.Profile{}, autherr.Local(op, msgAvatarInvalid)
	}
	jpg, err := camera.EncodeJPEG(decoded, avatarSize, avatarSize, avatarQuality)
	if err != nil {
		return lexapi.Profile{}, autherr.Local(op, msgAvatarInvalid)
	}

	if _, err := a.api.UploadAvatar(ctx, cred, jpg); err != nil {
		a.signOutIfDenied(ctx, err)
		return lexapi.Profile{}, err
	}
	return a.refreshIdentity(ctx, cred)
}

func (a *App) refreshIdentity(ctx context.Context, cred string) (lexapi.Profile, error) {
	p, err := a.api.Profile(ctx, cred)
	if err != nil {
		a.signOutIfDenied(ctx, err)
		return lexapi.Profile{}, err
	}
	if err := a.sessions.Establish(ctx, cred, p.Identity()); err != nil {
		// The change went through; only the local copy is stale.
		a.log.Warn("account.identity.refresh.fail", "err", err)
	}
	return p, nil
}

func passwordPolicyMessage(err error) string {
	switch {
	case errors.Is(err, pwpolicy.ErrPasswordMismatch):
		return "The passwords do not match."
	case errors.Is(err, pwpolicy.ErrPasswordTooShort):
		return "The new password is too short."
	case errors.Is(err, pwpolicy.ErrPasswordTooLong):
		return "The new password is too long."
	default:
		return "Choose a less predictable password."
	}
}
