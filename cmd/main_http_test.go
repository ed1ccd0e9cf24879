package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	started  bool
	stopped  bool
	startErr error
}

func (f *fakeRunner) Start() error {
	f.started = true
	return f.startErr
}

func (f *fakeRunner) Stop() {
	f.stopped = true
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	return context.Background()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"}}
}

func TestMain_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), runner, cronEngine, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, runner.started)
	assert.True(t, runner.stopped)
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
}

func TestMain_ReturnsHTTPFailure(t *testing.T) {
	runner := &fakeRunner{}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")

	err := runWithComponents(context.Background(), testConfig(), runner, cronEngine, httpSrv)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.True(t, runner.stopped)
	assert.True(t, cronEngine.stopped)
}

func TestMain_RunnerFailureStopsEarly(t *testing.T) {
	runner := &fakeRunner{startErr: errors.New("bad cron")}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	err := runWithComponents(context.Background(), testConfig(), runner, cronEngine, httpSrv)

	require.EqualError(t, err, "bad cron")
	assert.False(t, cronEngine.started)
}
