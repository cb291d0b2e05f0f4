/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package archive

import (
	"bytes"
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/pkg/errors"
)

// AzureBackend archives shards into one Azure Blob Storage container
// (go.mod's azure-sdk-for-go/sdk/storage/azblob, a teacher dependency).
type AzureBackend struct {
	client    *azblob.Client
	container string
}

func NewAzureBackend(client *azblob.Client, container string) *AzureBackend {
	return &AzureBackend{client: client, container: container}
}

func (b *AzureBackend) Name() string { return "azure" }

func (b *AzureBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, key, data, nil)
	return errors.Wrapf(err, "archive/azure: upload %s", key)
}

func (b *AzureBackend) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "archive/azure: download %s", key)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, errors.Wrapf(err, "archive/azure: read %s", key)
	}
	return buf.Bytes(), nil
}
