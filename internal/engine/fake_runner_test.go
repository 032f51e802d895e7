package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type fakeRunner struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	calls     [][]string
	stdins    []string
}

type fakeResponse struct {
	out    string
	errOut string
	err    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string][]fakeResponse),
	}
}

func (f *fakeRunner) stub(args string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[args] = append(f.responses[args], fakeResponse{out: out, err: err})
}

func (f *fakeRunner) stubStream(args string, stdout, stderr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[args] = append(f.responses[args], fakeResponse{out: stdout, errOut: stderr, err: err})
}

func (f *fakeRunner) next(args []string) (fakeResponse, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))
	queue := f.responses[key]
	if len(queue) == 0 {
		return fakeResponse{}, fmt.Errorf("unexpected call: %s", key)
	}
	resp := queue[0]
	f.responses[key] = queue[1:]
	return resp, nil
}

func (f *fakeRunner) Run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		f.mu.Lock()
		f.stdins = append(f.stdins, string(data))
		f.mu.Unlock()
	}
	resp, err := f.next(args)
	if err != nil {
		return "", err
	}
	return resp.out, resp.err
}

func (f *fakeRunner) Start(ctx context.Context, stdout, stderr io.Writer, args ...string) (func() error, error) {
	resp, err := f.next(args)
	if err != nil {
		return nil, err
	}
	return func() error {
		_, _ = io.WriteString(stdout, resp.out)
		_, _ = io.WriteString(stderr, resp.errOut)
		return resp.err
	}, nil
}

func (f *fakeRunner) callCount(args ...string) int {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Join(c, " ") == key {
			n++
		}
	}
	return n
}
