package completion

import (
	"context"
	"encoding/json"
	"sync"
)

// Mock is a scripted test implementation of Client.
//
// Use Mock in tests to verify handler behavior without API calls. It
// provides:
//   - Configurable response sequences per method
//   - Call history tracking
//   - Error injection
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &completion.Mock{
//	    Responses: []completion.Response{
//	        {Text: "First response"},
//	        {Text: "Second response"},
//	    },
//	}
//	resp, err := mock.Complete(ctx, req)
//	// Returns "First response", then "Second response" on later calls
//
// Example with error injection:
//
//	mock := &completion.Mock{
//	    Err: errors.New("backend unavailable"),
//	}
//	_, err := mock.Complete(ctx, req)
//	// Returns the configured error
type Mock struct {
	// Responses is the sequence returned by Complete and Stream.
	// When consumed, the last response repeats.
	Responses []Response

	// Structured is the sequence returned by CompleteStructured. When
	// empty, CompleteStructured decodes the next Responses entry instead.
	Structured []interface{}

	// Images is the sequence returned by GenerateImage. When empty,
	// GenerateImage returns PlaceholderImage.
	Images []Image

	// Err, if set, is returned by every method instead of a response.
	Err error

	// Calls records every invocation in order.
	Calls []MockCall

	mu         sync.Mutex
	textIndex  int
	structIdx  int
	imageIndex int
}

// MockCall records a single invocation of any Mock method.
type MockCall struct {
	// Method is one of "complete", "stream", "completeStructured",
	// "generateImage".
	Method string

	Request      Request
	Schema       map[string]interface{}
	ImageRequest ImageRequest
}

// Complete returns the next scripted response.
func (m *Mock) Complete(ctx context.Context, req Request) (Response, error) {
	return m.nextText(ctx, "complete", req)
}

// Stream chunks the next scripted response through onToken.
func (m *Mock) Stream(ctx context.Context, req Request, onToken func(token string) error) (Response, error) {
	resp, err := m.nextText(ctx, "stream", req)
	if err != nil {
		return Response{}, err
	}
	if err := StreamText(resp.Text, onToken); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// CompleteStructured returns the next scripted structured value, or
// decodes the next text response when none is scripted.
func (m *Mock) CompleteStructured(ctx context.Context, req Request, schema map[string]interface{}) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "completeStructured", Request: req, Schema: schema})
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return Response{}, err
	}
	if len(m.Structured) > 0 {
		idx := m.structIdx
		if idx >= len(m.Structured) {
			idx = len(m.Structured) - 1
		} else {
			m.structIdx++
		}
		v := m.Structured[idx]
		m.mu.Unlock()

		raw, _ := json.Marshal(v)
		return Response{Text: string(raw), Data: v, Model: "mock"}, nil
	}
	resp := m.takeTextLocked()
	m.mu.Unlock()

	v, err := DecodeJSON(resp.Text)
	if err != nil {
		return resp, err
	}
	resp.Data = v
	return resp, nil
}

// GenerateImage returns the next scripted image.
func (m *Mock) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	if ctx.Err() != nil {
		return Image{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "generateImage", ImageRequest: req})
	if m.Err != nil {
		return Image{}, m.Err
	}
	if len(m.Images) == 0 {
		return PlaceholderImage(req), nil
	}
	idx := m.imageIndex
	if idx >= len(m.Images) {
		idx = len(m.Images) - 1
	} else {
		m.imageIndex++
	}
	return m.Images[idx], nil
}

// Reset clears the call history and rewinds every response sequence.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.textIndex = 0
	m.structIdx = 0
	m.imageIndex = 0
}

// CallCount returns the number of recorded invocations across all methods.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

func (m *Mock) nextText(ctx context.Context, method string, req Request) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: method, Request: req})
	if m.Err != nil {
		return Response{}, m.Err
	}
	return m.takeTextLocked(), nil
}

func (m *Mock) takeTextLocked() Response {
	if len(m.Responses) == 0 {
		return Response{}
	}
	idx := m.textIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.textIndex++
	}
	return m.Responses[idx]
}
