package mounter

import (
	"sort"
	"strings"
)

// fakeRunner scripts command responses for tests. Commands are matched
// exactly first, then by longest prefix; anything unmatched succeeds
// with empty output.
type fakeRunner struct {
	responses map[string]fakeResponse
	calls     []string
}

type fakeResponse struct {
	code   int
	output string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]fakeResponse{}}
}

func (r *fakeRunner) on(command string, code int, output string) {
	r.responses[command] = fakeResponse{code: code, output: output}
}

func (r *fakeRunner) Run(command string, elevated bool) (int, string) {
	r.calls = append(r.calls, command)

	if resp, ok := r.responses[command]; ok {
		return resp.code, resp.output
	}

	prefixes := make([]string, 0, len(r.responses))
	for prefix := range r.responses {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, prefix := range prefixes {
		if strings.HasPrefix(command, prefix) {
			resp := r.responses[prefix]
			return resp.code, resp.output
		}
	}

	return 0, ""
}

func (r *fakeRunner) ran(prefix string) bool {
	for _, call := range r.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

// fakeSelector answers selection prompts from a queue. An exhausted
// queue or cancel=true reports cancellation.
type fakeSelector struct {
	answers []string
	cancel  bool

	prompts []string
	options [][]string
}

func (s *fakeSelector) Choose(prompt string, options []string) (string, bool) {
	s.prompts = append(s.prompts, prompt)
	s.options = append(s.options, options)

	if s.cancel || len(s.answers) == 0 {
		return "", false
	}

	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, true
}
