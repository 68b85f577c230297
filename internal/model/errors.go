package model

import (
	"errors"
	"fmt"
)

// Configuration errors are fatal at startup.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrUnknownPlatformKind  = fmt.Errorf("%w: unknown platform kind", ErrConfiguration)
	ErrUnknownAlgorithmKind = fmt.Errorf("%w: unknown algorithm kind", ErrConfiguration)
	ErrInvalidConfig        = fmt.Errorf("%w: invalid config", ErrConfiguration)
)

// Contract violations fail fast in strict mode and are counted otherwise.
var (
	ErrContractViolation = errors.New("contract violation")
	ErrUnownedField      = fmt.Errorf("%w: field not owned by role", ErrContractViolation)
	ErrFieldType         = fmt.Errorf("%w: wrong value type for field", ErrContractViolation)
	ErrNotArmed          = fmt.Errorf("%w: actuation before arm", ErrContractViolation)
)

// Runtime errors handled inside the thread framework or the link.
var (
	ErrTransient     = errors.New("transient conflict")
	ErrResourceBusy  = fmt.Errorf("%w: resource currently in use", ErrTransient)
	ErrDeadlineMiss  = errors.New("deadline miss")
	ErrLinkRejection = errors.New("link rejection")
)
