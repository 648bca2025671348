// Package s3backend implements the direct S3 sync backend: object bytes move
// straight between the local cache and an S3 (or S3-compatible) bucket with
// no presign service in between. Deduplication uses HeadObject, large objects
// go through native S3 multipart upload.
package s3backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	gosync "sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/manjuta/datasync/internal/logger"
	"github.com/manjuta/datasync/pkg/sync"
)

// Config describes a direct S3 backend. Decoded from the backend
// configuration map with mapstructure.
type Config struct {
	// Bucket is the S3 bucket name (required)
	Bucket string `mapstructure:"bucket"`

	// Region is the AWS region (required)
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible storage
	// (MinIO, Localstack, etc.)
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials; when empty
	// the default AWS credential chain applies
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// KeyPrefix is prepended to every object key
	KeyPrefix string `mapstructure:"key_prefix"`

	// Workers is the transfer pool size; non-positive selects the default
	Workers int `mapstructure:"workers"`

	// MultipartChunkSize routes compressed objects at or above this size
	// through multipart upload; non-positive selects the default
	MultipartChunkSize int64 `mapstructure:"multipart_chunk_size"`

	// MaxRetries bounds SDK-level retries of each S3 call
	MaxRetries int `mapstructure:"max_retries"`

	// TmpDir holds compression staging files; empty selects os.TempDir()
	TmpDir string `mapstructure:"tmp_dir"`
}

// Backend is the direct S3 implementation of sync.Backend.
type Backend struct {
	client             *s3.Client
	bucket             string
	keyPrefix          string
	workers            int
	multipartChunkSize int64
	tmpDir             string
}

// New builds a direct S3 backend.
//
// The AWS client carries its own standard retryer, so transfer steps are not
// wrapped in the orchestrator-style retry loop; a returned error has already
// exhausted the SDK's attempts.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Backend configuration
//
// Returns:
//   - *Backend: Initialized backend
//   - error: Returns error if configuration is incomplete or AWS config
//     loading fails
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 backend: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	workers := cfg.Workers
	if workers <= 0 {
		workers = sync.DefaultWorkerCount
	}
	chunkSize := cfg.MultipartChunkSize
	if chunkSize <= 0 {
		chunkSize = sync.DefaultMultipartChunkSize
	}
	tmpDir := cfg.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	logger.Info("S3 sync backend initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)

	return &Backend{
		client:             client,
		bucket:             cfg.Bucket,
		keyPrefix:          cfg.KeyPrefix,
		workers:            workers,
		multipartChunkSize: chunkSize,
		tmpDir:             tmpDir,
	}, nil
}

// objectKey returns the full S3 key for a storage filename.
func (b *Backend) objectKey(objectID string) string {
	return b.keyPrefix + objectID
}

// ConfirmConfiguration verifies the bucket accepts the configured credentials.
func (b *Backend) ConfirmConfiguration(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access bucket %q: %w", b.bucket, err)
	}

	return fmt.Sprintf("bucket %s is reachable", b.bucket), nil
}

// PushObjects uploads objects directly to the bucket. Objects already present
// remotely (HeadObject hit) are skipped and counted as succeeded.
func (b *Backend) PushObjects(ctx context.Context, objects []sync.PushObject, progress sync.ProgressFunc) (sync.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return sync.TransferResult{}, err
	}

	var (
		mu     gosync.Mutex
		result sync.TransferResult
	)

	g := new(errgroup.Group)
	g.SetLimit(b.workers)

	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			err := b.pushOne(ctx, obj, progress)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Upload failed for %s: %v", obj.DatasetPath, err)
				result.Failed = append(result.Failed, obj.DatasetPath)
			} else {
				result.Succeeded = append(result.Succeeded, obj.DatasetPath)
			}
			// Per-object failures stay in the result list.
			return nil
		})
	}

	_ = g.Wait()
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)
	return result, nil
}

// pushOne uploads a single object: compress, dedup check, then single-shot or
// multipart depending on the compressed size.
func (b *Backend) pushOne(ctx context.Context, obj sync.PushObject, progress sync.ProgressFunc) error {
	exists, err := b.objectExists(ctx, obj.ObjectID())
	if err != nil {
		return err
	}
	if exists {
		logger.Debug("Object %s already present in bucket, skipping", obj.ObjectID())
		return nil
	}

	tmpPath, size, err := sync.CompressToTemp(obj.ObjectPath, b.tmpDir)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
			logger.Warn("Failed to remove staging file %s: %v", tmpPath, rerr)
		}
	}()

	if size < b.multipartChunkSize {
		return b.putWhole(ctx, obj.ObjectID(), tmpPath, size, progress)
	}
	return b.putMultipart(ctx, obj.ObjectID(), tmpPath, size, progress)
}

// objectExists is the dedup check: a HeadObject hit means the bytes are
// already stored under this content address.
func (b *Backend) objectExists(ctx context.Context, objectID string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(objectID)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// putWhole uploads the compressed file with a single PutObject.
func (b *Backend) putWhole(ctx context.Context, objectID, tmpPath string, size int64, progress sync.ProgressFunc) error {
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(objectID)),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to write object to S3: %w", err)
	}

	if progress != nil {
		progress(size)
	}
	return nil
}

// putMultipart uploads the compressed file through a native S3 multipart
// session. A failed session is aborted best-effort so the bucket does not
// accumulate orphaned parts.
func (b *Backend) putMultipart(ctx context.Context, objectID, tmpPath string, size int64, progress sync.ProgressFunc) (err error) {
	key := b.objectKey(objectID)

	created, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := *created.UploadId

	defer func() {
		if err == nil {
			return
		}
		_, aerr := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(b.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if aerr != nil {
			logger.Warn("Failed to abort multipart upload for %s: %v", objectID, aerr)
		}
	}()

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}
	defer f.Close()

	var completed []types.CompletedPart
	partNumber := int32(1)
	for offset := int64(0); offset < size; offset += b.multipartChunkSize {
		length := b.multipartChunkSize
		if offset+length > size {
			length = size - offset
		}

		uploaded, uerr := b.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          io.NewSectionReader(f, offset, length),
			ContentLength: aws.Int64(length),
		})
		if uerr != nil {
			err = fmt.Errorf("failed to upload part %d: %w", partNumber, uerr)
			return err
		}

		completed = append(completed, types.CompletedPart{
			ETag:       uploaded.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		if progress != nil {
			progress(length)
		}
		partNumber++
	}

	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		err = fmt.Errorf("failed to complete multipart upload: %w", err)
		return err
	}

	return nil
}

// PullObjects downloads objects directly from the bucket, decompressing into
// their destination paths.
func (b *Backend) PullObjects(ctx context.Context, objects []sync.PullObject, progress sync.ProgressFunc) (sync.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return sync.TransferResult{}, err
	}

	var (
		mu     gosync.Mutex
		result sync.TransferResult
	)

	g := new(errgroup.Group)
	g.SetLimit(b.workers)

	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			err := b.pullOne(ctx, obj, progress)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Download failed for %s: %v", obj.DatasetPath, err)
				result.Failed = append(result.Failed, obj.DatasetPath)
			} else {
				result.Succeeded = append(result.Succeeded, obj.DatasetPath)
			}
			return nil
		})
	}

	_ = g.Wait()
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)
	return result, nil
}

// pullOne fetches one object and streams it through the decompressor into
// place.
func (b *Backend) pullOne(ctx context.Context, obj sync.PullObject, progress sync.ProgressFunc) error {
	got, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(obj.ObjectID())),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer got.Body.Close()

	if _, err := sync.DecompressTo(obj.ObjectPath, got.Body, progress); err != nil {
		return err
	}
	return nil
}

// DeleteContents removes every object under the configured key prefix,
// batching deletes 1000 keys at a time. Any per-key failure fails the whole
// call.
func (b *Backend) DeleteContents(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	const maxBatchSize = 1000

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.keyPrefix),
	})

	var deleted int
	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}

		var batch []types.ObjectIdentifier
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			result, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(b.bucket),
				Delete: &types.Delete{
					Objects: batch,
					Quiet:   aws.Bool(true),
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete objects: %w", err)
			}
			if len(result.Errors) > 0 {
				first := result.Errors[0]
				msg := "unknown error"
				if first.Code != nil && first.Message != nil {
					msg = fmt.Sprintf("%s: %s", *first.Code, *first.Message)
				}
				return fmt.Errorf("failed to delete %d object(s), first error: %s", len(result.Errors), msg)
			}
			deleted += len(batch)
			batch = batch[:0]
			return nil
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == maxBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}

	logger.Info("Deleted %d remote object(s) from bucket %s", deleted, b.bucket)
	return nil
}
