package httpretry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	calls     int
	responses []*http.Response
	errs      []error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return okResponse(), nil
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil))}
}

func statusResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(nil))}
}

func newRequest(t *testing.T) *http.Request {
	req, err := http.NewRequest(http.MethodPost, "http://vendor.test/log", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	return req
}

func TestExactlyThreeAttemptsOnNetworkFailure(t *testing.T) {
	doer := &fakeDoer{errs: []error{
		errors.New("dial timeout"),
		errors.New("dial timeout"),
		errors.New("dial timeout"),
		errors.New("dial timeout"), // must never be reached
	}}
	rc := NewRetryClient(doer, 2, time.Millisecond)

	_, err := rc.Do(newRequest(t))
	require.Error(t, err)
	assert.Equal(t, 3, doer.calls, "initial attempt + 2 retries, never more")
}

func TestNoRetryOnWellFormedResponse(t *testing.T) {
	for _, code := range []int{200, 400, 401, 404} {
		doer := &fakeDoer{responses: []*http.Response{statusResponse(code)}}
		rc := NewRetryClient(doer, 2, time.Millisecond)

		resp, err := rc.Do(newRequest(t))
		require.NoError(t, err)
		assert.Equal(t, code, resp.StatusCode)
		assert.Equal(t, 1, doer.calls)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	doer := &fakeDoer{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []*http.Response{nil, okResponse()},
	}
	rc := NewRetryClient(doer, 2, time.Millisecond)

	resp, err := rc.Do(newRequest(t))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, doer.calls)
}

func TestRetryableStatusReturnedOnFinalAttempt(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		statusResponse(503), statusResponse(503), statusResponse(503),
	}}
	rc := NewRetryClient(doer, 2, time.Millisecond)

	resp, err := rc.Do(newRequest(t))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, 3, doer.calls)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	doer := &fakeDoer{errs: []error{errors.New("dial timeout")}}
	rc := NewRetryClient(doer, 5, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := newRequest(t).WithContext(ctx)

	_, err := rc.Do(req)
	require.Error(t, err)
	assert.Equal(t, 1, doer.calls, "backoff must be abandoned when the deadline passes")
}

func TestDeterministicDelays(t *testing.T) {
	rc := NewRetryClient(nil, 2, time.Second)
	assert.Equal(t, time.Second, rc.delay(1))
	assert.Equal(t, 2*time.Second, rc.delay(2))
}
