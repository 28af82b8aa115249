// Package kernel exposes the public constructor for the dispatch kernel.
package kernel

import (
	realtime "github.com/NemoZon/real-time-framework"
	ikernel "github.com/NemoZon/real-time-framework/internal/kernel"
	"github.com/NemoZon/real-time-framework/internal/logger"
)

// Config configures a Kernel.
type Config struct {
	// Transports to register before start. More can be added later with
	// UseTransport.
	Transports []realtime.Transport

	// LogLevel is one of silent, error, info, debug (default info).
	LogLevel string
}

// New creates a Kernel.
//
// Example:
//
//	k := kernel.New(kernel.Config{
//	    Transports: []realtime.Transport{ws.New(ws.Config{Port: 7070})},
//	    LogLevel:   "debug",
//	})
//	k.On("chat:message", chatHandler)
//	if err := k.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg Config) realtime.Kernel {
	k := ikernel.New(logger.New(logger.ParseLevel(cfg.LogLevel), "realtime"))
	for _, t := range cfg.Transports {
		if t == nil {
			continue
		}
		// adding before start cannot fail
		_ = k.UseTransport(t)
	}
	return k
}
