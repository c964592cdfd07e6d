package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// RegisterFlags holds flags for the register command.
type RegisterFlags struct {
	Product string
	Version string
}

// EventFlags holds flags for the event command.
type EventFlags struct {
	SessionID string
	Name      string
	Data      string // JSON object
}

// MetricFlags holds flags for the metric command.
type MetricFlags struct {
	SessionID string
	Name      string
	Value     float64
	Type      string
	Tags      []string
	Unit      string
	Count     int
	HasCount  bool
}

// StateFlags holds flags for the state command.
type StateFlags struct {
	SessionID string
	Data      string // JSON object
}

// SessionFlags holds flags for commands addressing one session.
type SessionFlags struct {
	SessionID string
}

// DaemonStartFlags holds flags for daemon start.
type DaemonStartFlags struct {
	Port         string
	Binary       string
	ServerURL    string
	ConfigDir    string
	ReadyTimeout time.Duration
}

// DaemonStopFlags holds flags for daemon stop.
type DaemonStopFlags struct {
	PID  int
	Wait time.Duration
}
