package model

import "errors"

var ErrInvalidTransition = errors.New("invalid run status transition")
