package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploadStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalUploadStore(dir)
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "u1.csv", []byte("sku\nA1\n")))
	b, err := store.Get(ctx, "u1.csv")
	require.NoError(t, err)
	assert.Equal(t, "sku\nA1\n", string(b))

	require.NoError(t, store.Put(ctx, "../../escape.csv", []byte("x")))
	_, err = os.Stat(filepath.Join(dir, "escape.csv"))
	assert.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "u1.csv"))
	require.NoError(t, store.Delete(ctx, "u1.csv"))
	_, err = store.Get(ctx, "u1.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3UploadStore(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: make(map[string][]byte)}
	store := NewS3UploadStore(client, "imports", "staging")

	require.NoError(t, store.Put(ctx, "u1.xlsx", []byte("data")))
	assert.Contains(t, client.objects, "imports/staging/u1.xlsx")

	b, err := store.Get(ctx, "u1.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))

	require.NoError(t, store.Delete(ctx, "u1.xlsx"))
	_, err = store.Get(ctx, "u1.xlsx")
	assert.ErrorIs(t, err, ErrNotFound)

	client.putErr = errors.New("access denied")
	assert.Error(t, store.Put(ctx, "u2.csv", []byte("x")))
}
