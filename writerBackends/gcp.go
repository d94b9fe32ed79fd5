package writerbackends

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"imgforge/logger"
)

// UploadToGCSWithJSON uploads content to a Cloud Storage object using the
// service account key in creds["credentialsJSON"] (base64 or raw JSON).
func UploadToGCSWithJSON(ctx context.Context, creds map[string]string, objectName string, reader io.Reader) error {
	bucketName := creds["bucket"]
	if bucketName == "" {
		return fmt.Errorf("missing bucket in gcs credentials")
	}
	objectName = path.Join(creds["prefix"], objectName)

	credentialsJSON, err := base64.StdEncoding.DecodeString(creds["credentialsJSON"])
	if err != nil {
		credentialsJSON = []byte(creds["credentialsJSON"])
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return fmt.Errorf("storage.NewClient: %w", err)
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err = io.Copy(wc, reader); err != nil {
		wc.Close()
		return fmt.Errorf("io.Copy: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %w", err)
	}

	logger.Infof("Successfully uploaded object '%s' to bucket '%s'", objectName, bucketName)
	return nil
}
