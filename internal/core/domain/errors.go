package domain

import "errors"

var (
	ErrNotFound        = errors.New("domain: not found")
	ErrInvalidArgument = errors.New("domain: invalid argument")
	ErrNoOpenMeal      = errors.New("domain: no open meal")
	ErrMealTooShort    = errors.New("domain: meal shorter than minimum duration")
)
