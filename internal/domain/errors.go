package domain

import "errors"

var (
	ErrUnknownDomain     = errors.New("domain: unknown domain")
	ErrInvalidDefinition = errors.New("domain: invalid bottleneck definition")
)
