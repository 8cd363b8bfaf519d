package exchange

import "errors"

var ErrInvalidKey = errors.New("exchange: key is not a valid X25519 key")
