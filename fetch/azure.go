package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"vpe/order"
)

// AzureSource downloads stored files from Azure Blob Storage using the account
// credentials carried by the job.
type AzureSource struct {
	// serviceURL formats the account endpoint; overridable for emulators.
	serviceURL func(account string) string
}

// NewAzureSource creates an AzureSource for the public Azure cloud.
func NewAzureSource() *AzureSource {
	return &AzureSource{serviceURL: func(account string) string {
		return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}}
}

// Download streams the blob named by src into dst.
func (a *AzureSource) Download(ctx context.Context, src order.StoredSource, dst string) error {
	if src.AzureAccount == "" || src.AzureKey == "" || src.AzureContainer == "" {
		return fmt.Errorf("stored source %q has incomplete Azure coordinates", src.Filename)
	}
	blobName := src.AzureBlob
	if blobName == "" {
		blobName = filepath.Base(dst)
	}

	cred, err := azblob.NewSharedKeyCredential(src.AzureAccount, src.AzureKey)
	if err != nil {
		return fmt.Errorf("invalid Azure credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(a.serviceURL(src.AzureAccount), cred, nil)
	if err != nil {
		return fmt.Errorf("failed to create Azure client: %w", err)
	}

	resp, err := client.DownloadStream(ctx, src.AzureContainer, blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return fmt.Errorf("%w: blob %s/%s", ErrSourceNotFound, src.AzureContainer, blobName)
		}
		return fmt.Errorf("download blob %s/%s: %w", src.AzureContainer, blobName, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	tmp := dst + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	size, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copy blob content: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	log.Printf("[fetch] downloaded blob %s/%s (%.2f MB)", src.AzureContainer, blobName, float64(size)/1024/1024)
	return nil
}
