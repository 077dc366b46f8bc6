package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrUnauthorized           = errors.New("unauthorized access")
	ErrConflict               = errors.New("resource already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrNotRegistered          = errors.New("connection is not registered")
)
