package forwarder

import "errors"

var (
	// ErrInvalidListen is returned when the bridge listen address cannot
	// be turned into a forwarder target.
	ErrInvalidListen = errors.New("invalid listen address")

	// ErrAlreadyRunning is returned by Start on a running supervisor.
	ErrAlreadyRunning = errors.New("forwarder already running")

	// ErrNoBinary is returned when no binary is configured.
	ErrNoBinary = errors.New("forwarder binary not configured")

	// ErrRadioSilent is reported by the watchdog when no frame arrived
	// within the silence timeout.
	ErrRadioSilent = errors.New("no radio frames within silence timeout")
)
