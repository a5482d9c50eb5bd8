package queue

const (
	TypeResponsesSweep = "responses:sweep"
)

// SweepPayload optionally narrows a sweep to some kinds. Empty means all.
type SweepPayload struct {
	Kinds []string `json:"kinds,omitempty"`
}
