// Package azure uploads to Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/seantiz/shipper/internal/backend"
)

// Name is the backend name.
const Name = "azure"

// ErrShortWrite is returned when the stream ends before the declared size.
var ErrShortWrite = errors.New("stream shorter than declared size")

// blobAPI is the subset of *azblob.Client the backend uses.
type blobAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
}

var _ backend.Backend = (*Backend)(nil)

// Backend writes blobs to one storage account.
type Backend struct {
	client blobAPI

	// ensured caches containers known to exist.
	ensured sync.Map
}

// New connects with a storage account connection string of the form
// "DefaultEndpointsProtocol=https;AccountName=...;AccountKey=...;".
func New(connectionString string) (*Backend, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return newWithClient(client), nil
}

func newWithClient(client blobAPI) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Name() string { return Name }

// EnsureContainer creates the container unless it already exists.
func (b *Backend) EnsureContainer(ctx context.Context, container string) error {
	if _, ok := b.ensured.Load(container); ok {
		return nil
	}
	_, err := b.client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", container, err)
	}
	b.ensured.Store(container, struct{}{})
	return nil
}

// Write streams r into a block blob.
func (b *Backend) Write(ctx context.Context, container, key string, r io.Reader, size int64, opts backend.WriteOptions) error {
	ctx, cancel := backend.WithMaxDuration(ctx, opts)
	defer cancel()

	body := &countingReader{r: io.LimitReader(r, size)}
	upload := &azblob.UploadStreamOptions{}
	if opts.ContentType != "" {
		upload.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &opts.ContentType}
	}

	if _, err := b.client.UploadStream(ctx, container, key, body, upload); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("upload blob %s: %w", key, errors.Join(ctx.Err(), err))
		}
		return fmt.Errorf("upload blob %s: %w", key, err)
	}
	if body.n != size {
		return fmt.Errorf("upload blob %s: %w: wrote %d of %d bytes", key, ErrShortWrite, body.n, size)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
