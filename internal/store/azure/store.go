// Package azure implements store.Store for Azure Blob Storage. Tier
// changes use the blob batch API, which accepts up to 256 sub-requests
// per call.
package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/ganrad/blob-tier-migrator/internal/store"
	"github.com/ganrad/blob-tier-migrator/internal/tier"
	"go.uber.org/zap"
)

// containerAPI is the slice of the SDK container client the store
// depends on, so tests can fake pagination and batch submission.
type containerAPI interface {
	NewListBlobsFlatPager(o *container.ListBlobsFlatOptions) *runtime.Pager[container.ListBlobsFlatResponse]
	SubmitSetTierBatch(ctx context.Context, names []string, target blob.AccessTier) (container.SubmitBatchResponse, error)
	GetProperties(ctx context.Context, o *container.GetPropertiesOptions) (container.GetPropertiesResponse, error)
}

// containerClient adapts *container.Client to containerAPI. The batch
// builder is bound to the client's auth policy and cannot outlive it,
// so building and submitting happen in one step.
type containerClient struct {
	*container.Client
}

func (c containerClient) SubmitSetTierBatch(ctx context.Context, names []string, target blob.AccessTier) (container.SubmitBatchResponse, error) {
	bb, err := c.NewBatchBuilder()
	if err != nil {
		return container.SubmitBatchResponse{}, err
	}
	for _, name := range names {
		if err := bb.SetTier(name, target, nil); err != nil {
			return container.SubmitBatchResponse{}, err
		}
	}
	return c.SubmitBatch(ctx, bb, nil)
}

// Store implements store.Store for one Azure blob container.
type Store struct {
	api       containerAPI
	container string
	prefix    string
	logger    *zap.Logger
}

// NewStore creates a store bound to one container of the service
// client's storage account.
func NewStore(client *azblob.Client, containerName, prefix string, logger *zap.Logger) *Store {
	cc := client.ServiceClient().NewContainerClient(containerName)
	return newStore(containerClient{cc}, containerName, prefix, logger)
}

func newStore(api containerAPI, containerName, prefix string, logger *zap.Logger) *Store {
	return &Store{
		api:       api,
		container: containerName,
		prefix:    prefix,
		logger:    logger,
	}
}

func (s *Store) ListBlobs(ctx context.Context, visit func(store.BlobRecord) error) error {
	opts := &container.ListBlobsFlatOptions{
		Include: container.ListBlobsInclude{Metadata: true},
	}
	if s.prefix != "" {
		opts.Prefix = &s.prefix
	}

	pager := s.api.NewListBlobsFlatPager(opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing blobs in %s: %w", s.container, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			rec := store.BlobRecord{
				Name:     *item.Name,
				Metadata: flattenMetadata(item.Metadata),
			}
			if item.Properties != nil {
				rec.Tier = fromAccessTier(item.Properties.AccessTier)
				if item.Properties.ContentLength != nil {
					rec.Size = *item.Properties.ContentLength
				}
			}
			if err := visit(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) SetTierBatch(ctx context.Context, names []string, target tier.Tier) (store.BatchResult, error) {
	at, err := toAccessTier(target)
	if err != nil {
		return store.BatchResult{}, err
	}

	resp, err := s.api.SubmitSetTierBatch(ctx, names, at)
	if err != nil {
		return store.BatchResult{}, fmt.Errorf("submitting tier batch to %s: %w", s.container, err)
	}

	var result store.BatchResult
	for _, sub := range resp.Responses {
		if sub == nil {
			continue
		}
		name := ""
		if sub.BlobName != nil {
			name = *sub.BlobName
		}
		if sub.Error != nil {
			s.logger.Warn("sub-request failed in tier batch",
				zap.String("blob", name),
				zap.Error(sub.Error),
			)
			result.Failed = append(result.Failed, store.BlobError{Name: name, Err: sub.Error})
		} else {
			result.Succeeded = append(result.Succeeded, name)
		}
	}

	s.logger.Debug("tier batch submitted",
		zap.Int("blobs", len(names)),
		zap.Int("failed", len(result.Failed)),
		zap.String("target", target.String()),
	)
	return result, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.GetProperties(ctx, nil)
	return err
}

func (s *Store) Close() error {
	return nil
}

func toAccessTier(t tier.Tier) (blob.AccessTier, error) {
	switch t {
	case tier.Hot:
		return blob.AccessTierHot, nil
	case tier.Cool:
		return blob.AccessTierCool, nil
	case tier.Cold:
		return blob.AccessTierCold, nil
	case tier.Archive:
		return blob.AccessTierArchive, nil
	}
	return "", fmt.Errorf("tier %s has no Azure access tier", t)
}

func fromAccessTier(at *blob.AccessTier) tier.Tier {
	if at == nil {
		return tier.Unknown
	}
	switch *at {
	case blob.AccessTierHot:
		return tier.Hot
	case blob.AccessTierCool:
		return tier.Cool
	case blob.AccessTierCold:
		return tier.Cold
	case blob.AccessTierArchive:
		return tier.Archive
	}
	return tier.Unknown
}

func flattenMetadata(md map[string]*string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}
