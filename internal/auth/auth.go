// Package auth logs a browser session in through the application's login form.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrElementNotFound is returned when a login form element is missing.
var ErrElementNotFound = errors.New("login form element not found")

// Page is the part of a browser session the authenticator drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, sel string) error
	Count(ctx context.Context, sel string) (int, error)
	SendKeys(ctx context.Context, sel, text string) error
	Click(ctx context.Context, sel string) error
}

// Selectors locate the login form by its stable test attributes.
type Selectors struct {
	Email    string
	Password string
	Submit   string
}

var DefaultSelectors = Selectors{
	Email:    `input[data-cy="EmailInput"]`,
	Password: `input[data-cy="PasswordInput"]`,
	Submit:   `button[data-cy="SignInButton"]`,
}

type Credentials struct {
	Username string
	Password string
}

type Authenticator struct {
	selectors Selectors
	logger    logrus.FieldLogger
}

func NewAuthenticator(selectors Selectors, logger logrus.FieldLogger) *Authenticator {
	return &Authenticator{selectors: selectors, logger: logger}
}

// Authenticate fills in and submits the login form at loginURL. It returns as
// soon as the submit control is clicked; it neither waits for the resulting
// navigation nor checks whether the login was accepted.
func (a *Authenticator) Authenticate(ctx context.Context, page Page, loginURL string, creds Credentials) error {
	a.logger.WithField("url", loginURL).Debug("logging in")

	if err := page.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("navigating to %s: %w", loginURL, err)
	}

	if err := page.WaitReady(ctx, a.selectors.Email); err != nil {
		return fmt.Errorf("waiting for %s: %w", a.selectors.Email, err)
	}

	for _, sel := range []string{a.selectors.Email, a.selectors.Password, a.selectors.Submit} {
		n, err := page.Count(ctx, sel)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", sel, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
		}
	}

	if err := page.SendKeys(ctx, a.selectors.Email, creds.Username); err != nil {
		return fmt.Errorf("typing username: %w", err)
	}
	if err := page.SendKeys(ctx, a.selectors.Password, creds.Password); err != nil {
		return fmt.Errorf("typing password: %w", err)
	}
	if err := page.Click(ctx, a.selectors.Submit); err != nil {
		return fmt.Errorf("submitting login form: %w", err)
	}

	return nil
}
