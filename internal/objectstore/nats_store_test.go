// Package objectstore_test tests the object store implementations.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/inference-studio/internal/core"
	"github.com/book-expert/inference-studio/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func exerciseStore(t *testing.T, store core.ObjectStore) {
	t.Helper()

	ctx := context.Background()
	key := "clip-1.wav"
	uploadData := []byte("RIFF....WAVEfmt ")

	require.NoError(t, store.Upload(ctx, key, uploadData))

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Download(ctx, key)
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestNatsObjectStore_Lifecycle(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-bucket")
	require.NoError(t, err)

	exerciseStore(t, store)

	// Binding to the existing bucket must succeed.
	_, err = objectstore.New(jetstreamContext, "test-bucket")
	require.NoError(t, err)
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	t.Parallel()

	store := objectstore.NewMemory()
	exerciseStore(t, store)
	assert.Equal(t, 0, store.Len())
}
