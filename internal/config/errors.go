package config

import (
	"errors"
)

// ErrInvalidConfig wraps every validation failure; ErrLoadConfig wraps file,
// env and decoding failures.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config")
)
