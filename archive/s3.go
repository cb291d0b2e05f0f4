/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package archive

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Backend archives shards into one S3 (or S3-compatible) bucket,
// grounded on the aws-sdk-go-v2 stack the teacher already vendors for
// its own cloud-backend support (go.mod's aws-sdk-go-v2 family).
type S3Backend struct {
	client *s3.Client
	bucket string
}

func NewS3Backend(client *s3.Client, bucket string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket}
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return errors.Wrapf(err, "archive/s3: put %s", key)
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "archive/s3: get %s", key)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
