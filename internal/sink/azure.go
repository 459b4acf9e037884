package sink

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// ParseAzurePath extracts container and blob from "az://container/blob"
// or "abfss://container@account.dfs.core.windows.net/blob".
func ParseAzurePath(path string) (container, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	switch u.Scheme {
	case "abfss":
		// url.Parse puts the container in userinfo.
		if u.User == nil {
			return "", "", fmt.Errorf("abfss path %q missing container@account component", path)
		}
		container = u.User.Username()
		key = strings.TrimPrefix(u.Path, "/")
	case "az":
		container = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	default:
		return "", "", fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}

	if container == "" {
		return "", "", fmt.Errorf("empty container in Azure path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in Azure path %q", path)
	}
	return container, key, nil
}

func newAzureClient(opts AzureOptions) (*azblob.Client, error) {
	if opts.AccountName == "" || opts.AccountKey == "" {
		return nil, fmt.Errorf("Azure credentials are incomplete: AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY are required")
	}
	cred, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := opts.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return client, nil
}

func newAzureWriter(container, blob string, opts Options) (Writer, error) {
	client, err := newAzureClient(opts.Azure)
	if err != nil {
		return nil, err
	}
	location := fmt.Sprintf("az://%s/%s", container, blob)
	return newStagedWriter(location, opts.TempDir, func(ctx context.Context, f *os.File) error {
		if _, err := client.UploadFile(ctx, container, blob, f, nil); err != nil {
			return fmt.Errorf("upload blob %q/%q: %w", container, blob, err)
		}
		return nil
	})
}
