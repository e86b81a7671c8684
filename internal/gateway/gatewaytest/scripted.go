// Package gatewaytest provides a deterministic gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
)

type Reply struct {
	Text string
	Err  error
}

// Text builds successful replies.
func Text(values ...string) []Reply {
	replies := make([]Reply, 0, len(values))
	for _, value := range values {
		replies = append(replies, Reply{Text: value})
	}
	return replies
}

type Call struct {
	Directive   string
	Instruction string
}

// Scripted answers each directive from its own queue of replies. Once a queue is
// down to its last reply, that reply repeats.
type Scripted struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call
}

func New() *Scripted {
	return &Scripted{replies: map[string][]Reply{}}
}

func (s *Scripted) On(directive string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[directive] = append(s.replies[directive], replies...)
	return s
}

func (s *Scripted) Invoke(ctx context.Context, directive, instruction string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Directive: directive, Instruction: instruction})

	queue := s.replies[directive]
	if len(queue) == 0 {
		return "", fmt.Errorf("gatewaytest: no reply scripted for directive %q", directive)
	}
	reply := queue[0]
	if len(queue) > 1 {
		s.replies[directive] = queue[1:]
	}
	return reply.Text, reply.Err
}

func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many calls used the directive.
func (s *Scripted) CallCount(directive string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, call := range s.calls {
		if call.Directive == directive {
			count++
		}
	}
	return count
}
