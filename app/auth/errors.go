package auth

import "errors"

var (
	// ErrEmailInUse is returned by SignUp when the email already has an account.
	ErrEmailInUse = errors.New("email already in use")
	// ErrInvalidEmail is returned for a missing or malformed email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrWeakPassword is returned for a password shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("weak password")
	// ErrPasswordTooLong is returned for a password over MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrUserNotFound is returned by SignIn for an unknown email.
	ErrUserNotFound = errors.New("user not found")
	// ErrWrongPassword is returned by SignIn when the password does not match.
	ErrWrongPassword = errors.New("wrong password")
	// ErrInvalidSession is returned for an unknown or signed-out token.
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Message maps an authentication error to the text shown to the user.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrEmailInUse):
		return "This email is already in use."
	case errors.Is(err, ErrInvalidEmail):
		return "The email address is not valid."
	case errors.Is(err, ErrWeakPassword):
		return "The password must be at least 6 characters."
	case errors.Is(err, ErrPasswordTooLong):
		return "The password must be at most 72 bytes."
	case errors.Is(err, ErrUserNotFound):
		return "No account is registered for this email."
	case errors.Is(err, ErrWrongPassword):
		return "The password is incorrect."
	case errors.Is(err, ErrInvalidSession):
		return "Please sign in again."
	default:
		return "Authentication failed. Please try again."
	}
}

var codes = map[error]string{
	ErrEmailInUse:      "email-already-in-use",
	ErrInvalidEmail:    "invalid-email",
	ErrWeakPassword:    "weak-password",
	ErrPasswordTooLong: "password-too-long",
	ErrUserNotFound:    "user-not-found",
	ErrWrongPassword:   "wrong-password",
	ErrInvalidSession:  "invalid-session",
}

// Code returns the wire code of an authentication error, or "" for other
// errors.
func Code(err error) string {
	for sentinel, code := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// FromCode maps a wire code back to its error, or nil for unknown codes.
func FromCode(code string) error {
	for sentinel, c := range codes {
		if c == code {
			return sentinel
		}
	}
	return nil
}
