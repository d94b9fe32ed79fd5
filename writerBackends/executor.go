package writerbackends

import (
	"context"
	"fmt"
	"os"
)

// WriteFile mirrors the local file at localPath to the backend described by
// creds, storing it as objectName. creds["type"] selects the backend.
func WriteFile(ctx context.Context, creds map[string]string, localPath, objectName string) error {
	reader, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer reader.Close()

	backendType := creds["type"]
	switch backendType {
	case "directServe", "local":
		err = UploadToDirectServe(ctx, creds, objectName, reader)
	case "s3":
		err = UploadToS3WithCreds(ctx, creds, objectName, reader)
	case "gcs":
		err = UploadToGCSWithJSON(ctx, creds, objectName, reader)
	case "sftp":
		err = UploadToSFTPWithCreds(ctx, creds, objectName, reader)
	default:
		return fmt.Errorf("unknown backend type: %s", backendType)
	}
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", backendType, err)
	}
	return nil
}
