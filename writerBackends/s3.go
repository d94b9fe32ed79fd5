package writerbackends

import (
	"context"
	"fmt"
	"io"
	"path"

	"imgforge/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadToS3WithCreds uploads content to s3://bucket/prefix/objectName using
// the static keys in creds. An "endpoint" entry targets S3-compatible stores.
func UploadToS3WithCreds(ctx context.Context, creds map[string]string, objectName string, reader io.Reader) error {
	bucket := creds["bucket"]
	if bucket == "" {
		return fmt.Errorf("missing bucket in s3 credentials")
	}
	key := path.Join(creds["prefix"], objectName)

	opts := s3.Options{
		Region:      creds["region"],
		Credentials: credentials.NewStaticCredentialsProvider(creds["accessKey"], creds["secretKey"], ""),
	}
	if endpoint := creds["endpoint"]; endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	uploader := manager.NewUploader(s3.New(opts))

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s to bucket %s: %w", key, bucket, err)
	}

	logger.Infof("Successfully uploaded object '%s' to bucket '%s'", key, bucket)
	return nil
}
