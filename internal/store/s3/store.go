// Package s3 implements store.Store for S3-compatible object storage.
//
// S3 has no batch set-tier call; a tier change is an in-place
// CopyObject with a new storage class. A "batch" is therefore a group
// of copies issued concurrently and joined, with per-key outcomes
// collected the same way the Azure backend collects sub-responses.
package s3

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ganrad/blob-tier-migrator/internal/config"
	"github.com/ganrad/blob-tier-migrator/internal/store"
	"github.com/ganrad/blob-tier-migrator/internal/tier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// S3API is the slice of the SDK client the store depends on.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

// Store implements store.Store for one bucket.
type Store struct {
	s3              S3API
	bucket          string
	prefix          string
	copyConcurrency int
	logger          *zap.Logger
}

func NewStore(api S3API, cfg config.S3Config, prefix string, logger *zap.Logger) *Store {
	cc := cfg.CopyConcurrency
	if cc < 1 {
		cc = 1
	}
	return &Store{
		s3:              api,
		bucket:          cfg.Bucket,
		prefix:          prefix,
		copyConcurrency: cc,
		logger:          logger,
	}
}

// ListBlobs enumerates the bucket. The listing carries the storage
// class but not user metadata, so Metadata is always nil here.
func (s *Store) ListBlobs(ctx context.Context, visit func(store.BlobRecord) error) error {
	input := &awss3.ListObjectsV2Input{
		Bucket: &s.bucket,
	}
	if s.prefix != "" {
		input.Prefix = &s.prefix
	}

	for {
		out, err := s.s3.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("listing objects in %s: %w", s.bucket, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			rec := store.BlobRecord{
				Name: *obj.Key,
				Tier: fromStorageClass(obj.StorageClass),
			}
			if obj.Size != nil {
				rec.Size = *obj.Size
			}
			if err := visit(rec); err != nil {
				return err
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

func (s *Store) SetTierBatch(ctx context.Context, names []string, target tier.Tier) (store.BatchResult, error) {
	sc, err := toStorageClass(target)
	if err != nil {
		return store.BatchResult{}, err
	}

	var (
		mu     sync.Mutex
		result store.BatchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.copyConcurrency)
	for _, name := range names {
		name := name
		g.Go(func() error {
			_, err := s.s3.CopyObject(gctx, &awss3.CopyObjectInput{
				Bucket:            &s.bucket,
				Key:               &name,
				CopySource:        aws.String(s.bucket + "/" + name),
				StorageClass:      sc,
				MetadataDirective: s3types.MetadataDirectiveCopy,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("storage class copy failed",
					zap.String("key", name),
					zap.Error(err),
				)
				result.Failed = append(result.Failed, store.BlobError{Name: name, Err: err})
			} else {
				result.Succeeded = append(result.Succeeded, name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.logger.Debug("storage class batch applied",
		zap.Int("keys", len(names)),
		zap.Int("failed", len(result.Failed)),
		zap.String("target", target.String()),
	)
	return result, nil
}

// Ping checks connectivity by performing a HeadBucket operation.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.s3.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *Store) Close() error {
	return nil
}

func toStorageClass(t tier.Tier) (s3types.StorageClass, error) {
	switch t {
	case tier.Hot:
		return s3types.StorageClassStandard, nil
	case tier.Cool:
		return s3types.StorageClassStandardIa, nil
	case tier.Cold:
		return s3types.StorageClassGlacierIr, nil
	case tier.Archive:
		return s3types.StorageClassGlacier, nil
	}
	return "", fmt.Errorf("tier %s has no S3 storage class", t)
}

func fromStorageClass(sc s3types.ObjectStorageClass) tier.Tier {
	switch sc {
	case s3types.ObjectStorageClassStandard, "":
		// Listings may omit the class for STANDARD objects.
		return tier.Hot
	case s3types.ObjectStorageClassStandardIa, s3types.ObjectStorageClassOnezoneIa, s3types.ObjectStorageClassIntelligentTiering:
		return tier.Cool
	case s3types.ObjectStorageClassGlacierIr:
		return tier.Cold
	case s3types.ObjectStorageClassGlacier, s3types.ObjectStorageClassDeepArchive:
		return tier.Archive
	}
	return tier.Unknown
}
