package app

import (
	"context"
	"regexp"
	"strings"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/facial"
	"lexion/cmd/internal/camera"
	"lexion/cmd/internal/lexapi"
)

// Enrollment photo parameters.
const (
	enrollWidth   = 640
	enrollHeight  = 480
	enrollQuality = 90
)

var (
	phonePattern = regexp.MustCompile(`^\d{8}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const (
	msgRegisterMissing = "Fill in your username, email, full name and phone."
	msgRegisterPhone   = "The phone number must have exactly 8 digits."
	msgRegisterEmail   = "Enter a valid email address."
)

// signup is one registration request.
type signup struct {
	lexapi.Registration
	Confirm string
	// Facial enrolls a photo taken from the camera.
	Facial bool
}

// register validates s locally, captures the enrollment photo when asked and
// creates the account. It never signs in: the new account uses the normal
// sign-in methods afterwards.
func (a *App) register(ctx context.Context, s signup) (lexapi.Enrollment, error) {
	const op = "app.register"

	r := s.Registration
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = strings.TrimSpace(r.Phone)

	switch {
	case r.Username == "" || r.Email == "" || r.FullName == "" || r.Phone == "":
		return lexapi.Enrollment{}, autherr.Local(op, msgRegisterMissing)
	case !phonePattern.MatchString(r.Phone):
		return lexapi.Enrollment{}, autherr.Local(op, msgRegisterPhone)
	case !emailPattern.MatchString(r.Email):
		return lexapi.Enrollment{}, autherr.Local(op, msgRegisterEmail)
	}
	if err := a.policy.ValidatePair(r.Password, s.Confirm); err != nil {
		return lexapi.Enrollment{}, autherr.Local(op, passwordPolicyMessage(err))
	}

	if !s.Facial {
		e, err := a.api.Register(ctx, r)
		if err != nil {
			return lexapi.Enrollment{}, err
		}
		a.log.Info("account.registered", "user_id", e.UserID, "facial", false)
		return e, nil
	}

	face, err := a.captureEnrollment(ctx)
	if err != nil {
		return lexapi.Enrollment{}, err
	}
	e, err := a.api.RegisterFacial(ctx, r, face)
	if err != nil {
		return lexapi.Enrollment{}, err
	}
	a.log.Info("account.registered", "user_id", e.UserID, "facial", true)
	return e, nil
}

// captureEnrollment takes one still from the shared camera. Sign-in methods
// give the device up first; a running facial attempt makes this ErrBusy.
func (a *App) captureEnrollment(ctx context.Context) ([]byte, error) {
	const op = "app.captureEnrollment"

	if a.facial.Busy() {
		return nil, autherr.New(op, autherr.ErrBusy, "facial attempt in progress")
	}
	a.stopQR()
	if err := a.facial.WaitCamera(ctx); err != nil {
		return nil, autherr.Wrap(op, autherr.ErrCancelled, err)
	}

	h, err := camera.Acquire(ctx, a.cam, camera.Constraints{
		Facing: camera.FacingUser,
		Width:  enrollWidth,
		Height: enrollHeight,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Release() }()

	select {
	case <-time.After(facial.SettleDelay):
	case <-ctx.Done():
		return nil, autherr.Wrap(op, autherr.ErrCancelled, ctx.Err())
	}

	frame, err := h.Frame(ctx)
	if err != nil {
		return nil, autherr.Wrap(op, autherr.ErrDeviceAccess, err).WithUser("The camera could not take the photo.")
	}
	jpg, err := camera.EncodeJPEG(frame, enrollWidth, enrollHeight, enrollQuality)
	if err != nil {
		return nil, autherr.Wrap(op, autherr.ErrDeviceAccess, err).WithUser("The camera could not take the photo.")
	}
	return jpg, nil
}
