package model

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTGT() *TicketGrantingTicket {
	return NewTicketGrantingTicket("TGT-1", "alice", TicketGrantingTicketPolicy(10*time.Hour, 2*time.Hour), t0)
}

// TGT 在 t=0 创建，空闲 2h，最长 10h
func TestTicketGrantingTicket_IdleScenario(t *testing.T) {
	tgt := newTestTGT()

	require.NoError(t, tgt.MarkUsed(t0.Add(time.Hour+59*time.Minute)))
	// 空闲时长恰好等于 2h 时仍有效，超过才过期
	assert.False(t, tgt.IsExpired(t0.Add(3*time.Hour+59*time.Minute)))
	assert.True(t, tgt.IsExpired(t0.Add(3*time.Hour+59*time.Minute+time.Nanosecond)))
	assert.True(t, tgt.IsExpired(t0.Add(3*time.Hour+59*time.Minute+time.Second)))

	fresh := newTestTGT()
	require.NoError(t, fresh.MarkUsed(t0.Add(time.Hour)))
	assert.False(t, fresh.IsExpired(t0.Add(2*time.Hour+59*time.Minute)))
}

func TestTicketGrantingTicket_MarkUsedWhenExpired(t *testing.T) {
	tgt := newTestTGT()

	err := tgt.MarkUsed(t0.Add(3 * time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTicketState)
	assert.Equal(t, 0, tgt.UsageCount())
	assert.True(t, tgt.LastTimeUsed().IsZero())
}

func TestTicketGrantingTicket_Invalidate(t *testing.T) {
	tgt := newTestTGT()
	assert.False(t, tgt.IsExpired(t0))

	tgt.Invalidate()
	assert.True(t, tgt.IsExpired(t0))

	_, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(10*time.Second), t0)
	assert.ErrorIs(t, err, ErrTicketExpired)
}

func TestTicketGrantingTicket_GrantServiceTicket(t *testing.T) {
	tgt := newTestTGT()

	st1, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(10*time.Second), t0.Add(time.Minute))
	require.NoError(t, err)
	st2, err := tgt.GrantServiceTicket("ST-2", "app2", ServiceTicketPolicy(10*time.Second), t0.Add(2*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, "TGT-1", st1.TicketGrantingTicketID)
	assert.Equal(t, PrefixServiceTicket, st1.Prefix())
	assert.True(t, st1.FromNewLogin)
	assert.False(t, st2.FromNewLogin)
	assert.Equal(t, 2, tgt.UsageCount())
	assert.Equal(t, t0.Add(2*time.Minute), tgt.LastTimeUsed())
	assert.Equal(t, map[string]string{"ST-1": "app1", "ST-2": "app2"}, tgt.ServiceMap())
	assert.Equal(t, []string{"ST-1", "ST-2"}, tgt.Descendants())
}

func TestProxyGrantingTicket(t *testing.T) {
	tgt := newTestTGT()

	pgt, err := NewProxyGrantingTicket("PGT-1", tgt, "https://proxy.example.com", TicketGrantingTicketPolicy(time.Hour, time.Hour), t0)
	require.NoError(t, err)
	assert.False(t, pgt.IsRoot())
	assert.Equal(t, PrefixProxyGrantingTicket, pgt.Prefix())
	assert.Equal(t, "TGT-1", pgt.ParentID)
	assert.Equal(t, "alice", pgt.Principal)
	assert.Equal(t, []string{"PGT-1"}, tgt.Descendants())

	pt, err := pgt.GrantServiceTicket("PT-1", "https://backend.example.com", ServiceTicketPolicy(time.Minute), t0)
	require.NoError(t, err)
	assert.Equal(t, PrefixProxyTicket, pt.Prefix())

	tgt.Invalidate()
	_, err = NewProxyGrantingTicket("PGT-2", tgt, "https://proxy.example.com", NeverExpires(), t0)
	assert.ErrorIs(t, err, ErrTicketExpired)
}

func TestServiceTicket_Validate(t *testing.T) {
	tgt := newTestTGT()
	st, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(10*time.Second), t0)
	require.NoError(t, err)

	require.NoError(t, st.Validate("app1", t0.Add(time.Second)))
	assert.True(t, st.IsConsumed())
	assert.Equal(t, t0.Add(time.Second), st.ConsumedAt)

	err = st.Validate("app1", t0.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrTicketAlreadyConsumed)
}

func TestServiceTicket_ValidateServiceMismatch(t *testing.T) {
	tgt := newTestTGT()
	st, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(10*time.Second), t0)
	require.NoError(t, err)

	err = st.Validate("app2", t0)
	assert.ErrorIs(t, err, ErrServiceMismatch)
	assert.False(t, st.IsConsumed(), "服务不匹配不应消耗票据")
}

func TestServiceTicket_ValidateExpired(t *testing.T) {
	tgt := newTestTGT()
	st, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(10*time.Second), t0)
	require.NoError(t, err)

	err = st.Validate("app1", t0.Add(11*time.Second))
	assert.ErrorIs(t, err, ErrTicketExpired)
	assert.False(t, st.IsConsumed())

	assert.ErrorIs(t, st.MarkUsed(t0.Add(11*time.Second)), ErrInvalidTicketState)
}

func TestServiceTicket_ConcurrentValidate(t *testing.T) {
	tgt := newTestTGT()
	st, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(time.Minute), t0)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		replays   atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := st.Validate("app1", t0.Add(time.Second)); {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, ErrTicketAlreadyConsumed):
				replays.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(63), replays.Load())
}

func TestServiceTicket_ConsumedGraceElapsed(t *testing.T) {
	tgt := newTestTGT()
	st, err := tgt.GrantServiceTicket("ST-1", "app1", ServiceTicketPolicy(time.Minute), t0)
	require.NoError(t, err)

	assert.False(t, st.ConsumedGraceElapsed(0, t0))

	require.NoError(t, st.Validate("app1", t0))
	assert.True(t, st.ConsumedGraceElapsed(0, t0))
	assert.False(t, st.ConsumedGraceElapsed(30*time.Second, t0.Add(29*time.Second)))
	assert.True(t, st.ConsumedGraceElapsed(30*time.Second, t0.Add(30*time.Second)))
}
