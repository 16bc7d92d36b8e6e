package azure

import (
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/ganrad/blob-tier-migrator/internal/config"
)

// NewClient builds a service client authenticated with a time-limited
// account SAS. The shared key never travels with requests; it only
// signs the SAS locally, so no network call happens here.
func NewClient(cfg config.AzureConfig) (*azblob.Client, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("creating shared key credential: %w", err)
	}

	now := time.Now().UTC()
	qp, err := sas.AccountSignatureValues{
		Protocol:   sas.ProtocolHTTPS,
		StartTime:  now.Add(-10 * time.Minute), // clock skew allowance
		ExpiryTime: now.Add(cfg.SASExpiry.Duration()),
		Permissions: (&sas.AccountPermissions{
			Read:  true,
			Write: true,
			List:  true,
		}).String(),
		ResourceTypes: (&sas.AccountResourceTypes{
			Service:   true,
			Container: true,
			Object:    true,
		}).String(),
	}.SignWithSharedKey(cred)
	if err != nil {
		return nil, fmt.Errorf("signing account SAS: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	sasURL := fmt.Sprintf("%s/?%s", strings.TrimSuffix(endpoint, "/"), qp.Encode())

	client, err := azblob.NewClientWithNoCredential(sasURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating service client: %w", err)
	}
	return client, nil
}
