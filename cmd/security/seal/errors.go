package seal

import "errors"

// Public, stable errors for callers.
var (
	ErrPassphraseTooShort = errors.New("seal passphrase too short")
	ErrSaltTooShort       = errors.New("seal salt too short")
	ErrSealedInvalid      = errors.New("sealed value invalid")
	ErrOpenFailed         = errors.New("sealed value could not be opened")
)
