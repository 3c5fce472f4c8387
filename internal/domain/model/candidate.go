package model

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// candidateNamespace scopes deterministic candidate ids.
var candidateNamespace = uuid.MustParse("5b0c7a52-4a8e-4f0e-9d53-2c1f6f0e8a11")

// Candidate is one raw search result offered against a request.
// Zero values mean "absent".
type Candidate struct {
	Peer        string `json:"peer"`
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Extension   string `json:"extension,omitempty"`
	BitrateKbps int    `json:"bitrate_kbps,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// ID identifies a candidate by its source peer and filename. The same file
// offered twice by the same peer always maps to the same id.
func (c Candidate) ID() string {
	return uuid.NewSHA1(candidateNamespace, []byte(c.Peer+"\x00"+c.Filename)).String()
}

// Ext returns the normalized extension (lowercase, leading dot), falling back
// to the filename's extension when none was supplied.
func (c Candidate) Ext() string {
	if ext := NormalizeExt(c.Extension); ext != "" {
		return ext
	}
	// Peer paths frequently use backslashes.
	return NormalizeExt(path.Ext(strings.ReplaceAll(c.Filename, `\`, "/")))
}

// NormalizeExt lowercases ext and ensures a single leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	ext = strings.TrimLeft(ext, ".")
	if ext == "" {
		return ""
	}
	return "." + ext
}

// ScoredCandidate is a candidate scored against exactly one request.
type ScoredCandidate struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Candidate Candidate `json:"candidate"`
	Score     int       `json:"score"`
	Seq       uint64    `json:"seq"` // arrival order within the engine
	ArrivedAt time.Time `json:"arrived_at"`
}

// Outcome is the result of a download attempt reported by the external client.
type Outcome string

// Download outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// CommandKind selects the collaborator a command is delivered to.
type CommandKind string

// Command kinds.
const (
	CommandDownload    CommandKind = "download"
	CommandPostProcess CommandKind = "postprocess"
)

// Command is emitted by the engine for an external collaborator: a download
// instruction for the transfer client, or the accepted candidate's descriptor
// for the post-processor.
type Command struct {
	Kind      CommandKind     `json:"kind"`
	RequestID string          `json:"request_id"`
	Attempt   int             `json:"attempt"`
	Target    Target          `json:"target"`
	Candidate ScoredCandidate `json:"candidate"`
	Reason    string          `json:"reason,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
}
