package blobs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedObject struct {
	data        []byte
	contentType string
}

// fakeS3 keeps objects in memory. Multipart calls are not expected for the
// small bodies used here.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]storedObject
	err     error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]storedObject{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = storedObject{data: data, contentType: aws.ToString(in.ContentType)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{Message: aws.String("missing")}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestS3PutGetRoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := newS3Store(fake, "scrub-bucket", time.Second, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "uploads/a.csv", strings.NewReader("phone\n5551234\n"), "text/csv"))

	obj, found, err := s.Get(ctx, "uploads/a.csv")
	require.NoError(t, err)
	require.True(t, found)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "phone\n5551234\n", string(data))
	assert.Equal(t, "text/csv", obj.ContentType)
	assert.EqualValues(t, len(data), obj.Size)
	assert.Equal(t, "scrub-bucket", s.Bucket())
}

func TestS3PutSniffsGenericContentType(t *testing.T) {
	fake := newFakeS3()
	s := newS3Store(fake, "b", time.Second, nil)

	body := append(append([]byte{}, pngHeader...), make([]byte, 64)...)
	require.NoError(t, s.Put(context.Background(), "uploads/img", bytes.NewReader(body), DefaultContentType))

	stored := fake.objects["uploads/img"]
	assert.Equal(t, "image/png", stored.contentType)
	assert.Equal(t, body, stored.data)
}

func TestS3MissingIsAbsent(t *testing.T) {
	s := newS3Store(newFakeS3(), "b", time.Second, nil)
	ctx := context.Background()

	obj, found, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, obj)

	ok, err := s.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Exists(t *testing.T) {
	fake := newFakeS3()
	s := newS3Store(fake, "b", time.Second, nil)
	require.NoError(t, s.Put(context.Background(), "k", strings.NewReader("x"), "text/plain"))

	ok, err := s.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3TransportErrorsAreErrors(t *testing.T) {
	fake := newFakeS3()
	boom := errors.New("connection refused")
	fake.err = boom
	s := newS3Store(fake, "b", time.Second, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, "k", strings.NewReader("x"), "text/plain"), boom)
	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	_, err = s.Exists(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Ping(ctx), boom)
}

func TestSniff(t *testing.T) {
	r, ct, err := Sniff(strings.NewReader("hello"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", ct)
	data, _ := io.ReadAll(r)
	assert.Equal(t, "hello", string(data))

	r, ct, err = Sniff(strings.NewReader("just some words"), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "text/plain"), ct)
	data, _ = io.ReadAll(r)
	assert.Equal(t, "just some words", string(data))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/csv", ContentTypeFor("out/clean.CSV"))
	assert.Equal(t, "application/json", ContentTypeFor("x.json"))
	assert.Equal(t, DefaultContentType, ContentTypeFor("noext"))
	assert.Equal(t, DefaultContentType, ContentTypeFor("weird.zzzq"))
}
