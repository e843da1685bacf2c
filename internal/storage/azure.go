package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBlobStore stores uploads as block blobs in an Azure storage account.
type AzureBlobStore struct {
	client *azblob.Client
}

var _ Backend = (*AzureBlobStore)(nil)

func NewAzureBlobStore(client *azblob.Client) *AzureBlobStore {
	return &AzureBlobStore{client: client}
}

func (s *AzureBlobStore) containerClient(name string) *container.Client {
	return s.client.ServiceClient().NewContainerClient(name)
}

func (s *AzureBlobStore) blockBlobClient(containerName, blobName string) *blockblob.Client {
	return s.containerClient(containerName).NewBlockBlobClient(blobName)
}

func (s *AzureBlobStore) EnsureContainer(ctx context.Context, name string, access AccessLevel) error {
	opts := &container.CreateOptions{}
	switch access {
	case AccessBlob:
		opts.Access = to.Ptr(container.PublicAccessTypeBlob)
	case AccessContainer:
		opts.Access = to.Ptr(container.PublicAccessTypeContainer)
	}
	_, err := s.containerClient(name).Create(ctx, opts)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("azure create container %q: %w", name, err)
	}
	return nil
}

func (s *AzureBlobStore) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := s.containerClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ContainerBeingDeleted) {
			return false, nil
		}
		return false, fmt.Errorf("azure container properties %q: %w", name, err)
	}
	return true, nil
}

func (s *AzureBlobStore) Upload(ctx context.Context, containerName, blobName string, r io.Reader, opts UploadOptions) error {
	uploadOpts := &blockblob.UploadStreamOptions{
		BlockSize:   opts.BlockSize,
		Concurrency: opts.Concurrency,
		HTTPHeaders: &blob.HTTPHeaders{},
	}
	if opts.ContentType != "" {
		uploadOpts.HTTPHeaders.BlobContentType = to.Ptr(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		uploadOpts.HTTPHeaders.BlobContentDisposition = to.Ptr(opts.ContentDisposition)
	}
	if opts.Metadata != nil {
		uploadOpts.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			uploadOpts.Metadata[k] = to.Ptr(v)
		}
	}

	if _, err := s.blockBlobClient(containerName, blobName).UploadStream(ctx, r, uploadOpts); err != nil {
		return fmt.Errorf("azure upload %q: %w", blobName, err)
	}
	return nil
}

func (s *AzureBlobStore) Properties(ctx context.Context, containerName, blobName string) (Properties, error) {
	resp, err := s.blockBlobClient(containerName, blobName).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return Properties{}, fmt.Errorf("azure blob properties %q: %w", blobName, ErrNotFound)
		}
		return Properties{}, fmt.Errorf("azure blob properties %q: %w", blobName, err)
	}

	props := Properties{Metadata: map[string]string{}}
	if resp.ETag != nil {
		props.ETag = string(*resp.ETag)
	}
	if resp.BlobType != nil {
		props.BlobType = string(*resp.BlobType)
	}
	if resp.ContentLength != nil {
		props.ContentLength = *resp.ContentLength
	}
	for k, v := range resp.Metadata {
		if v != nil {
			props.Metadata[k] = *v
		}
	}
	return props, nil
}

func (s *AzureBlobStore) Delete(ctx context.Context, containerName, blobName string) error {
	_, err := s.containerClient(containerName).NewBlobClient(blobName).Delete(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("azure delete %q: %w", blobName, ErrNotFound)
		}
		return fmt.Errorf("azure delete %q: %w", blobName, err)
	}
	return nil
}

func (s *AzureBlobStore) URL(containerName, blobName string) string {
	return s.blockBlobClient(containerName, blobName).URL()
}
