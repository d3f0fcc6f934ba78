package reactor_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-talk/api"
	"github.com/momentics/hioload-talk/pool"
	"github.com/momentics/hioload-talk/reactor"
)

type fakeObject struct {
	handle uintptr
	mu     sync.Mutex
	got    []int
	calls  atomic.Int32
	onDone func(w *reactor.Worker, op *reactor.Operation, n int, err error)
}

func (f *fakeObject) Handle() uintptr { return f.handle }

func (f *fakeObject) HandleCompletion(w *reactor.Worker, op *reactor.Operation, n int, err error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	if f.onDone != nil {
		f.onDone(w, op, n, err)
	}
}

func newWorker(id int) *reactor.Worker {
	return reactor.NewWorker(id, pool.NewChunkPool(1024, 0), nil)
}

func TestPortRegister(t *testing.T) {
	p := reactor.NewPort()
	defer p.Close()

	require.ErrorIs(t, p.Register(&fakeObject{}), reactor.ErrInvalidHandle)

	obj := &fakeObject{handle: 7}
	require.NoError(t, p.Register(obj))
	require.ErrorIs(t, p.Register(&fakeObject{handle: 7}), reactor.ErrAlreadyRegistered)
	assert.True(t, p.Registered(obj))

	p.Deregister(obj)
	assert.False(t, p.Registered(obj))
	assert.Zero(t, p.Len())
}

func TestPortPostRequiresRegistration(t *testing.T) {
	p := reactor.NewPort()
	defer p.Close()

	op := reactor.NewOperation(reactor.OpRecv, 0)
	err := p.Post(op, &fakeObject{handle: 3}, func() (int, error) { return 0, nil })
	require.ErrorIs(t, err, reactor.ErrNotRegistered)
	assert.False(t, op.Busy())
}

func TestPortDispatchDeliversCompletion(t *testing.T) {
	p := reactor.NewPort()
	defer p.Close()
	obj := &fakeObject{handle: 1}
	require.NoError(t, p.Register(obj))

	op := reactor.NewOperation(reactor.OpRecv, 0)
	ioErr := errors.New("boom")
	require.NoError(t, p.Post(op, obj, func() (int, error) { return 42, ioErr }))

	var gotErr error
	obj.onDone = func(_ *reactor.Worker, got *reactor.Operation, _ int, err error) {
		assert.Same(t, op, got)
		assert.False(t, got.Busy(), "slot must be free inside the handler")
		gotErr = err
	}
	ok, err := p.Dispatch(newWorker(0), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{42}, obj.got)
	assert.ErrorIs(t, gotErr, ioErr)
}

func TestPortPostOnBusySlotPanics(t *testing.T) {
	p := reactor.NewPort()
	defer p.Close()
	obj := &fakeObject{handle: 1}
	require.NoError(t, p.Register(obj))

	block := make(chan struct{})
	op := reactor.NewOperation(reactor.OpSend, 0)
	require.NoError(t, p.Post(op, obj, func() (int, error) { <-block; return 1, nil }))

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			assert.True(t, api.IsInvariant(r))
		}()
		_ = p.Post(op, obj, func() (int, error) { return 0, nil })
	}()
	close(block)
	ok, err := p.Dispatch(newWorker(0), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPortDispatchTimeoutAndClose(t *testing.T) {
	p := reactor.NewPort()
	w := newWorker(0)

	ok, err := p.Dispatch(w, 0)
	assert.False(t, ok)
	assert.NoError(t, err)

	ok, err = p.Dispatch(w, 10*time.Millisecond)
	assert.False(t, ok)
	assert.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = p.Close()
	}()
	ok, err = p.Dispatch(w, -1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, reactor.ErrClosed)
	assert.ErrorIs(t, err, api.ErrClosed)

	require.ErrorIs(t, p.Register(&fakeObject{handle: 9}), reactor.ErrClosed)
}

func TestPortEachCompletionReachesOneWorker(t *testing.T) {
	p := reactor.NewPort()
	const objects = 64
	const rounds = 50

	var total atomic.Int32
	var wg sync.WaitGroup
	wg.Add(objects * rounds)

	for i := 0; i < objects; i++ {
		obj := &fakeObject{handle: uintptr(i + 1)}
		op := reactor.NewOperation(reactor.OpRecv, 0)
		left := rounds
		obj.onDone = func(_ *reactor.Worker, op *reactor.Operation, _ int, _ error) {
			total.Add(1)
			wg.Done()
			left--
			if left > 0 {
				assert.NoError(t, p.Post(op, obj, func() (int, error) { return 1, nil }))
			}
		}
		require.NoError(t, p.Register(obj))
		require.NoError(t, p.Post(op, obj, func() (int, error) { return 1, nil }))
	}

	var workers sync.WaitGroup
	for i := 0; i < 4; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			w := newWorker(id)
			for {
				if _, err := p.Dispatch(w, -1); err != nil {
					return
				}
			}
		}(i)
	}
	wg.Wait()
	_ = p.Close()
	workers.Wait()
	assert.EqualValues(t, objects*rounds, total.Load())
}

func TestPortObserver(t *testing.T) {
	var seen []reactor.OpKind
	p := reactor.NewPort(reactor.WithObserver(func(k reactor.OpKind, _ int, _ error) {
		seen = append(seen, k)
	}))
	defer p.Close()

	op := reactor.NewOperation(reactor.OpConnect, 0)
	// connect posts precede registration
	require.NoError(t, p.Post(op, &fakeObject{handle: 5}, func() (int, error) { return 0, nil }))
	ok, err := p.Dispatch(newWorker(0), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []reactor.OpKind{reactor.OpConnect}, seen)
}

func TestPortDispatchSurvivesHandlerPanic(t *testing.T) {
	p := reactor.NewPort()
	defer p.Close()
	obj := &fakeObject{handle: 9}
	require.NoError(t, p.Register(obj))
	obj.onDone = func(_ *reactor.Worker, _ *reactor.Operation, n int, _ error) {
		if n == 1 {
			panic("handler bug")
		}
	}
	w := newWorker(0)

	op := reactor.NewOperation(reactor.OpRecv, 0)
	require.NoError(t, p.Post(op, obj, func() (int, error) { return 1, nil }))
	ok, err := p.Dispatch(w, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, op.Busy(), "slot is released before the handler runs")

	require.NoError(t, p.Post(op, obj, func() (int, error) { return 2, nil }))
	ok, err = p.Dispatch(w, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, obj.calls.Load())
}

func TestPortDispatchRepanicsInvariant(t *testing.T) {
	p := reactor.NewPort()
	defer p.Close()
	obj := &fakeObject{handle: 10}
	require.NoError(t, p.Register(obj))
	obj.onDone = func(*reactor.Worker, *reactor.Operation, int, error) {
		api.Invariant("broken ownership")
	}

	op := reactor.NewOperation(reactor.OpRecv, 0)
	require.NoError(t, p.Post(op, obj, func() (int, error) { return 0, nil }))
	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, api.IsInvariant(r))
	}()
	_, _ = p.Dispatch(newWorker(0), time.Second)
	t.Fatal("invariant violation was swallowed")
}
