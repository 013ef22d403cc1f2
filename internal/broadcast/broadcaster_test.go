package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/model"
)

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
	fail bool
}

func (r *recorder) Receive(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("socket gone")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	b := New(slog.Default())
	a, c := &recorder{}, &recorder{}
	b.Register(a)
	b.Register(c)

	b.Broadcast([]byte("one"))
	b.Broadcast([]byte("two"))

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, a.msgs)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, c.msgs)
}

func TestBroadcastPrunesFailedObserver(t *testing.T) {
	b := New(slog.Default())
	good, bad := &recorder{}, &recorder{fail: true}
	b.Register(good)
	b.Register(bad)
	require.Equal(t, 2, b.Len())

	b.Broadcast([]byte("x"))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, good.count())

	bad.fail = false
	b.Broadcast([]byte("y"))
	assert.Equal(t, 0, bad.count(), "pruned observer must not receive later messages")
	assert.Equal(t, 2, good.count())
}

func TestBroadcastWithNoObservers(t *testing.T) {
	b := New(slog.Default())
	assert.NotPanics(t, func() { b.Broadcast([]byte("nobody")) })
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	b := New(slog.Default())
	b.Unregister(&recorder{})
	assert.Equal(t, 0, b.Len())
}

func TestChannelObserverClosedOnUnregister(t *testing.T) {
	b := New(slog.Default())
	o := NewChannelObserver(4)
	b.Register(o)
	b.Broadcast([]byte("hello"))

	msg, ok := <-o.C()
	require.True(t, ok)
	assert.Equal(t, "hello", string(msg))

	b.Unregister(o)
	_, ok = <-o.C()
	assert.False(t, ok, "channel should be closed")
	assert.ErrorIs(t, o.Receive([]byte("late")), ErrObserverClosed)
	assert.NoError(t, o.Close())
}

func TestChannelObserverFullBufferIsPruned(t *testing.T) {
	b := New(slog.Default())
	o := NewChannelObserver(1)
	b.Register(o)

	b.Broadcast([]byte("fills buffer"))
	assert.Equal(t, 1, b.Len())
	b.Broadcast([]byte("overflows"))
	assert.Equal(t, 0, b.Len())

	msg, ok := <-o.C()
	require.True(t, ok)
	assert.Equal(t, "fills buffer", string(msg))
	_, ok = <-o.C()
	assert.False(t, ok)
}

func TestPublishEnvelopes(t *testing.T) {
	b := New(slog.Default())
	r := &recorder{}
	b.Register(r)

	b.ReportTrial(model.TrialEvent{TrialIndex: 3, Score: 0.8, Status: model.TrialCompleted})
	b.PublishStatus(model.RunRecord{Status: model.RunStatusEvolving, Progress: 50})

	require.Equal(t, 2, r.count())

	var trial struct {
		Type string `json:"type"`
		Data struct {
			TrialID int     `json:"trial_id"`
			Score   float64 `json:"score"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.msgs[0], &trial))
	assert.Equal(t, "trial_update", trial.Type)
	assert.Equal(t, 3, trial.Data.TrialID)
	assert.InDelta(t, 0.8, trial.Data.Score, 1e-9)

	var status struct {
		Type string `json:"type"`
		Data struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.msgs[1], &status))
	assert.Equal(t, "status_update", status.Type)
	assert.Equal(t, "evolving", status.Data.Status)
	assert.Equal(t, 50, status.Data.Progress)
}

func TestConcurrentRegisterAndBroadcast(t *testing.T) {
	b := New(slog.Default())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o := NewChannelObserver(1)
			b.Register(o)
			b.Unregister(o)
		}()
		go func() {
			defer wg.Done()
			b.Broadcast([]byte("tick"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Len())
}
