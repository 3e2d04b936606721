package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver []string

func (s staticResolver) Resolve(_ context.Context, _ string, _ ...func(string) bool) []string {
	return s
}

type nopConn struct{ addr string }

func (nopConn) Do(context.Context, []string) (Reply, error) { return Reply{}, nil }
func (nopConn) Close() error                                  { return nil }

func TestConnectCommitsToFirstWorkingAddress(t *testing.T) {
	t.Parallel()

	var dialed []string
	c := &Connector{
		Resolver: staticResolver{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
		Dialer: DialerFunc(func(_ context.Context, addr string) (Conn, error) {
			dialed = append(dialed, addr)
			if addr == "10.0.0.1:6379" {
				return nil, errors.New("connection refused")
			}
			return nopConn{addr: addr}, nil
		}),
		Logger: zerolog.Nop(),
	}

	conn, err := c.Connect(context.Background(), "cache.internal", 6379)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:6379", conn.(nopConn).addr)
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, dialed)
}

func TestConnectNoAddresses(t *testing.T) {
	t.Parallel()

	c := &Connector{
		Resolver: staticResolver(nil),
		Dialer: DialerFunc(func(context.Context, string) (Conn, error) {
			t.Fatal("dial must not be attempted")
			return nil, nil
		}),
		Logger: zerolog.Nop(),
	}

	_, err := c.Connect(context.Background(), "nowhere.invalid", 6379)
	assert.ErrorIs(t, err, ErrNoAddresses)
}

func TestConnectAllCandidatesFail(t *testing.T) {
	t.Parallel()

	c := &Connector{
		Resolver: staticResolver{"10.0.0.1", "10.0.0.2"},
		Dialer: DialerFunc(func(context.Context, string) (Conn, error) {
			return nil, errors.New("connection refused")
		}),
		Logger: zerolog.Nop(),
	}

	_, err := c.Connect(context.Background(), "cache.internal", 6379)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReplyText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PONG", Reply{Kind: KindStatus, Str: "PONG"}.Text())
	assert.Equal(t, "bar", Reply{Kind: KindString, Str: "bar"}.Text())
	assert.Equal(t, "-7", Reply{Kind: KindInteger, Int: -7}.Text())
	assert.Equal(t, "ERR nope", Reply{Kind: KindError, Str: "ERR nope"}.Text())
	assert.Equal(t, "", Reply{Kind: KindNil}.Text())
	assert.Equal(t, "", Reply{Kind: KindArray, Elems: []Reply{{Kind: KindString, Str: "x"}}}.Text())
	assert.Equal(t, "array", KindArray.String())
}
