package domain

import "github.com/pkg/errors"

// 领域错误，调用方通过 errors.Is 判断类别
var (
	ErrNotFound     = errors.New("order not found")
	ErrForbidden    = errors.New("caller is not allowed to perform this action")
	ErrInvalidState = errors.New("order is not in a valid state for this action")
	ErrValidation   = errors.New("invalid input")
	ErrStorage      = errors.New("order storage failure")
	ErrDuplicateID  = errors.New("duplicate order id")
)
