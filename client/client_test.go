package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/models"
	"chatd/server"
	"chatd/store"
)

func startTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(store.New(), &server.Config{
		Addr:         "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		ProbeTimeout: 2 * time.Second,
		PollInterval: 20 * time.Millisecond,
	})
	go srv.Start()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(srv.Shutdown)
	return srv
}

func dialTestClient(t *testing.T, srv *server.Server) *Client {
	t.Helper()
	c, err := Dial(srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAccountLifecycle(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestClient(t, srv)

	resp, err := c.Create("ream")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = c.Health()
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = c.Delete("ream")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = c.Delete("ream")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "user does not exist", resp.ErrorMessage)
}

func TestListPagination(t *testing.T) {
	srv := startTestServer(t)

	for _, name := range []string{"ream", "mark", "achele", "joe", "bob"} {
		c := dialTestClient(t, srv)
		resp, err := c.Create(name)
		require.NoError(t, err)
		require.True(t, resp.Success)
	}

	c := dialTestClient(t, srv)

	page0, err := c.List("", 0)
	require.NoError(t, err)
	assert.Len(t, page0.Accounts, 4)

	page1, err := c.List("", 1)
	require.NoError(t, err)
	assert.Len(t, page1.Accounts, 1)

	withE, err := c.List("e", 0)
	require.NoError(t, err)
	assert.Len(t, withE.Accounts, 3)

	none, err := c.List("z", 0)
	require.NoError(t, err)
	assert.True(t, none.Success)
	assert.Empty(t, none.Accounts)
}

func TestSendAndSubscribe(t *testing.T) {
	srv := startTestServer(t)

	subscriber := dialTestClient(t, srv)
	resp, err := subscriber.Create("bob")
	require.NoError(t, err)
	require.True(t, resp.Success)

	received := make(chan models.Message, 16)
	go subscriber.Subscribe("bob", func(msg models.Message) {
		received <- msg
	})

	sender := dialTestClient(t, srv)
	resp, err = sender.Create("alice")
	require.NoError(t, err)
	require.True(t, resp.Success)

	for _, text := range []string{"hi", "there"} {
		resp, err = sender.Send("bob", text)
		require.NoError(t, err)
		require.True(t, resp.Success)
	}

	for _, want := range []string{"hi", "there"} {
		select {
		case msg := <-received:
			assert.Equal(t, want, msg.Text)
			assert.Equal(t, "alice", msg.AuthorID)
			assert.Equal(t, "bob", msg.RecipientID)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSubscribeUnauthenticated(t *testing.T) {
	srv := startTestServer(t)
	c := dialTestClient(t, srv)

	err := c.Subscribe("nobody", func(models.Message) {})
	require.Error(t, err)
	assert.Equal(t, "user not logged in", err.Error())
}

func TestSendWithoutAccount(t *testing.T) {
	srv := startTestServer(t)

	c := dialTestClient(t, srv)
	resp, err := c.Create("bob")
	require.NoError(t, err)
	require.True(t, resp.Success)

	unbound := dialTestClient(t, srv)
	resp, err = unbound.Send("bob", "hi")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "author does not exist", resp.ErrorMessage)
}

func TestLoginAfterReconnect(t *testing.T) {
	srv := startTestServer(t)

	first := dialTestClient(t, srv)
	resp, err := first.Create("ream")
	require.NoError(t, err)
	require.True(t, resp.Success)
	first.Close()

	// The server clears the login flag when the connection drops.
	second := dialTestClient(t, srv)
	require.Eventually(t, func() bool {
		resp, err := second.Login("ream")
		return err == nil && resp.Success
	}, 2*time.Second, 20*time.Millisecond)
}
