package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultMaxMemoryMB = 48
)

// HTTP server timeouts
const (
	ReadTimeout     = 15 * time.Second
	WriteTimeout    = 30 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 10 * time.Second
)

// Background task intervals
const (
	RotationInterval = 1 * time.Hour
	BadgerGCInterval = 10 * time.Minute
	StatsInterval    = 5 * time.Minute
)

// Rotation defaults
const (
	// DefaultRetention keeps a week of samples on the fast tier before
	// chunks are archived to the slow tier.
	DefaultRetention = 7 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
