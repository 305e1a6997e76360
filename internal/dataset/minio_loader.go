package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectLoader fetches saved dataset documents from the object store.
type ObjectLoader struct {
	Client *minio.Client
	Bucket string
}

func NewObjectLoader(client *minio.Client, bucket string) (*ObjectLoader, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectLoader{Client: client, Bucket: bucket}, nil
}

func (l *ObjectLoader) Load(ctx context.Context, objectKey string) (io.ReadCloser, string, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil, "", errors.New("object key is required")
	}

	obj, err := l.Client.GetObject(ctx, l.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, "", fmt.Errorf("stat object: %w", err)
	}
	return obj, stat.ContentType, nil
}
