package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-account-tokens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []*gomail.Message
	err    error
	block  chan struct{}
	closed bool
}

func (c *fakeConn) Send(_ string, _ []string, msg io.WriterTo) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg.(*gomail.Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeDialer hands out conns in order, then fresh healthy ones.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	err   error
}

func (d *fakeDialer) Dial() (gomail.SendCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		d.conns = append(d.conns, &fakeConn{})
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func newTestNotifier(d dialer) *Notifier {
	return newNotifier(d, "noreply@example.com", map[domain.Purpose]time.Duration{
		domain.PurposeEmailVerification: 6 * time.Hour,
		domain.PurposePasswordReset:     60 * time.Minute,
	})
}

func TestSendLink_Headers(t *testing.T) {
	conn := &fakeConn{}
	n := newTestNotifier(&fakeDialer{conns: []*fakeConn{conn}})

	require.NoError(t, n.SendLink(context.Background(), "a@b.com", domain.PurposePasswordReset, "http://x/reset/U1/abc"))
	require.Len(t, conn.sent, 1)
	m := conn.sent[0]
	assert.Equal(t, []string{"a@b.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"noreply@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"Password Reset"}, m.GetHeader("Subject"))
}

func TestSendLink_ReusesConnection(t *testing.T) {
	conn := &fakeConn{}
	d := &fakeDialer{conns: []*fakeConn{conn}}
	n := newTestNotifier(d)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.SendLink(context.Background(), "a@b.com", domain.PurposeEmailVerification, "http://x"))
	}
	assert.Equal(t, 1, d.dials)
	assert.Len(t, conn.sent, 3)
	assert.False(t, conn.closed)
}

func TestSendLink_RedialsAfterDroppedConnection(t *testing.T) {
	stale, fresh := &fakeConn{}, &fakeConn{}
	d := &fakeDialer{conns: []*fakeConn{stale, fresh}}
	n := newTestNotifier(d)

	require.NoError(t, n.SendLink(context.Background(), "a@b.com", domain.PurposeEmailVerification, "http://x"))
	stale.mu.Lock()
	stale.err = errors.New("421 idle timeout")
	stale.mu.Unlock()

	require.NoError(t, n.SendLink(context.Background(), "a@b.com", domain.PurposePasswordReset, "http://y"))
	assert.Equal(t, 2, d.dials)
	assert.True(t, stale.closed)
	require.Len(t, fresh.sent, 1)
	assert.Equal(t, []string{"Password Reset"}, fresh.sent[0].GetHeader("Subject"))
}

func TestSendLink_SenderError(t *testing.T) {
	d := &fakeDialer{conns: []*fakeConn{{err: errors.New("535 auth failed")}}}
	n := newTestNotifier(d)
	err := n.SendLink(context.Background(), "a@b.com", domain.PurposeEmailVerification, "http://x")
	assert.ErrorContains(t, err, "535 auth failed")
	assert.Nil(t, n.conn)
}

func TestSendLink_DialError(t *testing.T) {
	n := newTestNotifier(&fakeDialer{err: errors.New("connection refused")})
	err := n.SendLink(context.Background(), "a@b.com", domain.PurposeEmailVerification, "http://x")
	assert.ErrorContains(t, err, "connection refused")
}

func TestSendLink_ContextCancelled(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	defer close(conn.block)
	n := newTestNotifier(&fakeDialer{conns: []*fakeConn{conn}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := n.SendLink(ctx, "a@b.com", domain.PurposeEmailVerification, "http://x")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClose_HangsUpHeldConnection(t *testing.T) {
	conn := &fakeConn{}
	n := newTestNotifier(&fakeDialer{conns: []*fakeConn{conn}})
	require.NoError(t, n.Close())

	require.NoError(t, n.SendLink(context.Background(), "a@b.com", domain.PurposeEmailVerification, "http://x"))
	require.NoError(t, n.Close())
	assert.True(t, conn.closed)
	assert.Nil(t, n.conn)
}

func TestBody(t *testing.T) {
	link := "http://localhost:9000/user/verify/U1/deadbeef"
	b := body(domain.PurposeEmailVerification, link, 6*time.Hour)
	assert.Contains(t, b, `href="`+link+`"`)
	assert.Contains(t, b, "expires in 6 hours")

	b = body(domain.PurposePasswordReset, link, 60*time.Minute)
	assert.Contains(t, b, "expire in 1 hour")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "6 hours", humanDuration(6*time.Hour))
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
}

func TestDevNotifier_LogsLink(t *testing.T) {
	var buf bytes.Buffer
	n := NewDevNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, n.SendLink(context.Background(), "a@b.com", domain.PurposePasswordReset, "http://x/U1/v"))
	assert.Contains(t, buf.String(), `"link":"http://x/U1/v"`)
	assert.Contains(t, buf.String(), `"purpose":"password_reset"`)
}
