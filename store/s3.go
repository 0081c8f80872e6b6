package store

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/opraflow/opraflow/errors"
)

// S3API is the subset of the S3 client the store uses. Defined as an
// interface so tests can mock the SDK without a network.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)

	// The manager uploader needs the multipart primitives too.
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
}

// S3Store implements ObjectStore against one bucket.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Store resolves credentials through the standard SDK chain and
// returns a store bound to bucket in region.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// NewS3StoreWithClient wires an explicit client; used by tests.
func NewS3StoreWithClient(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Bucket returns the bucket this store is bound to.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Put uploads body as a single PutObject. A non-empty contentMD5 rides the
// request as Content-MD5 so S3 rejects a payload that does not match it.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentMD5 string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentMD5 != "" {
		input.ContentMD5 = aws.String(contentMD5)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return "", errors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return aws.ToString(out.ETag), nil
}

// PutFileMultipart uploads the file at path via the transfer manager with
// bounded part parallelism.
func (s *S3Store) PutFileMultipart(ctx context.Context, key, path string, partSize int64, concurrency int, progress ProgressFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s for upload", path)
	}
	defer f.Close()

	var body io.Reader = f
	if progress != nil {
		body = &progressReader{r: f, fn: progress}
	}

	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})

	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", errors.Wrapf(err, "multipart put s3://%s/%s", s.bucket, key)
	}
	return aws.ToString(out.ETag), nil
}

// Head returns S3's own metadata for key, mapping a missing object to
// ErrNotFound.
func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, errors.Wrapf(errors.ErrNotFound, "s3://%s/%s", s.bucket, key)
		}
		return ObjectInfo{}, errors.Wrapf(err, "head s3://%s/%s", s.bucket, key)
	}
	return ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
		ETag: aws.ToString(out.ETag),
	}, nil
}

// List returns every object under prefix, following pagination.
func (s *S3Store) List(ctx context.Context, prefix string) (map[string]ObjectInfo, error) {
	objects := make(map[string]ObjectInfo)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			objects[key] = ObjectInfo{
				Key:  key,
				Size: aws.ToInt64(obj.Size),
				ETag: aws.ToString(obj.ETag),
			}
		}
	}
	return objects, nil
}

// Get fetches the full content of key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "s3://%s/%s", s.bucket, key)
		}
		return nil, errors.Wrapf(err, "get s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read s3://%s/%s", s.bucket, key)
	}
	return data, nil
}

// Delete removes key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "delete s3://%s/%s", s.bucket, key)
	}
	return nil
}

// AbortStaleMultipartUploads aborts incomplete multipart uploads under
// prefix older than maxAge. Best-effort: individual abort failures are
// skipped, a listing failure reports zero.
func (s *S3Store) AbortStaleMultipartUploads(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	out, err := s.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return 0, nil
	}

	aborted := 0
	cutoff := time.Now().Add(-maxAge)
	for _, upload := range out.Uploads {
		if upload.Initiated == nil || upload.Initiated.After(cutoff) {
			continue
		}
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      upload.Key,
			UploadId: upload.UploadId,
		})
		if err == nil {
			aborted++
		}
	}
	return aborted, nil
}

// isNotFound reports whether err is S3's missing-object response. HeadObject
// surfaces it as code "NotFound", GetObject as "NoSuchKey".
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

// progressReader forwards reads and reports cumulative bytes.
type progressReader struct {
	r    io.Reader
	fn   ProgressFunc
	seen int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.seen += int64(n)
		p.fn(p.seen)
	}
	return n, err
}
