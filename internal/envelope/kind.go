package envelope

import (
	"fmt"
	"strings"
)

// Kind identifies a type of work and, through it, the streams and consumer
// group that carry it.
type Kind string

const (
	KindSummarize      Kind = "summarize"
	KindAnswerQuestion Kind = "answer-question"
)

type streamSet struct {
	requests  string
	responses string
	group     string
}

var kindStreams = map[Kind]streamSet{
	KindSummarize: {
		requests:  "summary-requests",
		responses: "summary-responses",
		group:     "summary-processors",
	},
	KindAnswerQuestion: {
		requests:  "qa-requests",
		responses: "qa-responses",
		group:     "qa-processors",
	},
}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindSummarize, KindAnswerQuestion}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := kindStreams[k]; !ok {
		return "", fmt.Errorf("unknown work kind %q", s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	_, ok := kindStreams[k]
	return ok
}

func (k Kind) RequestStream() string  { return kindStreams[k].requests }
func (k Kind) ResponseStream() string { return kindStreams[k].responses }
func (k Kind) Group() string          { return kindStreams[k].group }

func (k Kind) String() string { return string(k) }
