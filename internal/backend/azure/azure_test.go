package azure

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/shipper/internal/backend"
)

type fakeBlobClient struct {
	mu         sync.Mutex
	containers map[string]bool
	creates    int
	createErr  error

	blobs       map[string][]byte
	contentType map[string]string
	uploadErr   error
	delay       time.Duration
}

func newFakeBlobClient() *fakeBlobClient {
	return &fakeBlobClient{
		containers:  make(map[string]bool),
		blobs:       make(map[string][]byte),
		contentType: make(map[string]string),
	}
}

func (f *fakeBlobClient) CreateContainer(_ context.Context, name string, _ *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return azblob.CreateContainerResponse{}, f.createErr
	}
	if f.containers[name] {
		return azblob.CreateContainerResponse{}, &azcore.ResponseError{
			ErrorCode:  string(bloberror.ContainerAlreadyExists),
			StatusCode: http.StatusConflict,
		}
	}
	f.containers[name] = true
	return azblob.CreateContainerResponse{}, nil
}

func (f *fakeBlobClient) UploadStream(ctx context.Context, container, name string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return azblob.UploadStreamResponse{}, ctx.Err()
		}
	}
	if f.uploadErr != nil {
		return azblob.UploadStreamResponse{}, f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return azblob.UploadStreamResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[container+"/"+name] = data
	if o != nil && o.HTTPHeaders != nil && o.HTTPHeaders.BlobContentType != nil {
		f.contentType[container+"/"+name] = *o.HTTPHeaders.BlobContentType
	}
	return azblob.UploadStreamResponse{}, nil
}

func TestEnsureContainerIdempotent(t *testing.T) {
	client := newFakeBlobClient()
	b := newWithClient(client)
	ctx := context.Background()

	require.NoError(t, b.EnsureContainer(ctx, "my-container"))
	require.NoError(t, b.EnsureContainer(ctx, "my-container"))
	assert.Equal(t, 1, client.creates, "second call served from cache")

	// A container created elsewhere is not an error.
	other := newWithClient(client)
	require.NoError(t, other.EnsureContainer(ctx, "my-container"))
	assert.Equal(t, 2, client.creates)
}

func TestEnsureContainerError(t *testing.T) {
	client := newFakeBlobClient()
	client.createErr = errors.New("AuthenticationFailed")
	b := newWithClient(client)

	err := b.EnsureContainer(context.Background(), "c")
	require.ErrorIs(t, err, client.createErr)

	// Failures are not cached.
	client.createErr = nil
	require.NoError(t, b.EnsureContainer(context.Background(), "c"))
}

func TestWriteUploadsBlob(t *testing.T) {
	client := newFakeBlobClient()
	b := newWithClient(client)
	data := bytes.Repeat([]byte("x"), 1024)

	err := b.Write(context.Background(), "my-container", "/logs/topic/p0/f.log", bytes.NewReader(data), int64(len(data)),
		backend.WriteOptions{ContentType: "text/plain; charset=utf-8"})
	require.NoError(t, err)

	assert.Equal(t, data, client.blobs["my-container//logs/topic/p0/f.log"])
	assert.Equal(t, "text/plain; charset=utf-8", client.contentType["my-container//logs/topic/p0/f.log"])
}

func TestWriteShortStream(t *testing.T) {
	b := newWithClient(newFakeBlobClient())

	err := b.Write(context.Background(), "c", "k", bytes.NewReader([]byte("abc")), 10, backend.WriteOptions{})
	assert.ErrorIs(t, err, ErrShortWrite)
}

func TestWriteHonoursMaxDuration(t *testing.T) {
	client := newFakeBlobClient()
	client.delay = time.Second
	b := newWithClient(client)

	start := time.Now()
	err := b.Write(context.Background(), "c", "k", bytes.NewReader([]byte("abc")), 3,
		backend.WriteOptions{MaxDuration: 20 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWriteBackendError(t *testing.T) {
	client := newFakeBlobClient()
	client.uploadErr = errors.New("ServerBusy")
	b := newWithClient(client)

	err := b.Write(context.Background(), "c", "k", bytes.NewReader([]byte("abc")), 3, backend.WriteOptions{})
	assert.ErrorIs(t, err, client.uploadErr)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsBadConnectionString(t *testing.T) {
	_, err := New("not a connection string")
	assert.Error(t, err)
}
