package domain

import "errors"

var (
	ErrInvalidTrustedProxy = errors.New("invalid trusted proxy entry")
	ErrUnknownAdminAction  = errors.New("unknown admin action")
	ErrInvalidAdminPayload = errors.New("invalid admin payload")
)
