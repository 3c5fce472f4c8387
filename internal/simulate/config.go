// Package simulate drives a running trackpick server with a fake peer network
// and a fake transfer client, then checks that every request ended sensibly.
package simulate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultBaseURL              = "http://localhost:9080"
	DefaultRequests             = 200
	DefaultWorkers              = 8
	DefaultCandidatesPerRequest = 6
	DefaultFailureRate          = 0.25
	DefaultTimeout              = 10 * time.Second
	DefaultPollInterval         = 250 * time.Millisecond
	DefaultDeadline             = 2 * time.Minute
)

// Sentinel kinds for simulation errors.
var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrUnhealthy     = errors.New("service is not healthy")
	ErrVerification  = errors.New("verification failed")
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL              string        // Base URL of the service
	Requests             int           // Number of track requests to submit
	Workers              int           // Concurrent submitters
	CandidatesPerRequest int           // Search results the peer network offers per request
	FailureRate          float64       // Share of downloads the transfer client fails, 0..1
	Seed                 uint64        // Drives the catalog and failure choices
	Timeout              time.Duration // HTTP request timeout
	PollInterval         time.Duration // Pending, dispatch and status polling
	Deadline             time.Duration // How long to wait for every request to end
	Retire               bool          // Retire terminal requests when done
	Verbose              bool
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:              DefaultBaseURL,
		Requests:             DefaultRequests,
		Workers:              DefaultWorkers,
		CandidatesPerRequest: DefaultCandidatesPerRequest,
		FailureRate:          DefaultFailureRate,
		Seed:                 1,
		Timeout:              DefaultTimeout,
		PollInterval:         DefaultPollInterval,
		Deadline:             DefaultDeadline,
		Retire:               true,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, "base URL must not be empty")
	}
	if c.Requests <= 0 {
		problems = append(problems, "requests must be positive")
	}
	if c.Workers <= 0 {
		problems = append(problems, "workers must be positive")
	}
	if c.CandidatesPerRequest <= 0 {
		problems = append(problems, "candidates per request must be positive")
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		problems = append(problems, "failure rate must be within [0, 1]")
	}
	if c.Timeout <= 0 || c.PollInterval <= 0 || c.Deadline <= 0 {
		problems = append(problems, "timeout, poll interval and deadline must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Report summarizes a simulation run.
type Report struct {
	Requests       int
	Replays        int
	CandidatesSent int
	Dispatches     int
	Successes      int
	Failures       int
	StaleOutcomes  int
	Completed      int
	Exhausted      int
	Failed         int
	Unfinished     int
	Retired        int
	Duration       time.Duration
}
