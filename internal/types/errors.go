package types

import "errors"

// ErrInvalid is wrapped by every validation failure in this package.
//
//	if errors.Is(err, types.ErrInvalid) {
//	    // reject the form, nothing was written
//	}
var ErrInvalid = errors.New("invalid record")
