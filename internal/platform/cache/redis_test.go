package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), Options{Addr: srv.Addr(), DB: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	srv.Select(2)
	got, err := srv.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestNewRequiresPassword(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.RequireAuth("secret")

	client, err := New(context.Background(), Options{Addr: srv.Addr()})
	require.ErrorIs(t, err, ErrUnavailable)
	_ = client.Close()

	client, err = New(context.Background(), Options{Addr: srv.Addr(), Password: "secret"})
	require.NoError(t, err)
	_ = client.Close()
}

func TestNewReturnsClientWhenUnavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	client, err := New(context.Background(), Options{Addr: addr})
	require.ErrorIs(t, err, ErrUnavailable)
	require.NotNil(t, client)
	_ = client.Close()
}

func TestAsynqOpt(t *testing.T) {
	opt := Options{Addr: "redis:6379", Password: "pw", DB: 3}.AsynqOpt()
	require.Equal(t, "redis:6379", opt.Addr)
	require.Equal(t, "pw", opt.Password)
	require.Equal(t, 3, opt.DB)
}
