package codepackage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	exists     bool
	existsErr  error
	made       []string
	objects    map[string][]byte
	putOptions minio.PutObjectOptions
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	f.exists = true
	return nil
}

func (f *fakeStore) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[bucket+"/"+object] = data
	f.putOptions = opts
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestKeyIsContentAddressed(t *testing.T) {
	a := Key("HelloFlow", []byte("name: HelloFlow\n"))
	b := Key("HelloFlow", []byte("name: HelloFlow\n"))
	c := Key("HelloFlow", []byte("name: HelloFlow\nproject: x\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^HelloFlow/[0-9a-f]{64}$`, a)
	assert.Equal(t, "s3://bucket/"+a, URL("bucket", a))
}

func TestUploadCreatesBucketOnce(t *testing.T) {
	store := &fakeStore{}
	p := NewWithStore(store, "flows", "", zap.NewNop())
	contents := []byte("name: HelloFlow\n")

	url, err := p.Upload(context.Background(), "HelloFlow", contents)
	require.NoError(t, err)
	assert.Equal(t, "s3://flows/"+Key("HelloFlow", contents), url)
	assert.Equal(t, contents, store.objects["flows/"+Key("HelloFlow", contents)])
	assert.Equal(t, "HelloFlow", store.putOptions.UserMetadata["flow-name"])

	_, err = p.Upload(context.Background(), "HelloFlow", []byte("other"))
	require.NoError(t, err)
	assert.Equal(t, []string{"flows"}, store.made)
}

func TestUploadBucketError(t *testing.T) {
	store := &fakeStore{existsErr: errors.New("denied")}
	p := NewWithStore(store, "flows", "", zap.NewNop())

	_, err := p.Upload(context.Background(), "HelloFlow", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Empty(t, store.objects)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Endpoint: "localhost:9000"}.Validate())
	assert.NoError(t, Config{Endpoint: "localhost:9000", Bucket: "flows"}.Validate())
}
