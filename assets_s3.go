package blogdesk

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

const (
	s3KeyPrefix            = "uploads"
	emptyAWSSessionToken   = ""
	errCreateAWSSessionFmt = "failed to create AWS session: %w"
	errPutObjectFmt        = "failed to put object %s: %w"
	errDeleteObjectFmt     = "failed to delete object %s: %w"
)

// S3AssetStore keeps assets in an S3 (or S3-compatible) bucket.
type S3AssetStore struct {
	svc       s3iface.S3API
	bucket    string
	publicURL string
}

// NewS3AssetStore creates a store from cfg using static credentials when
// they are configured and the default AWS chain otherwise.
func NewS3AssetStore(cfg S3Config) (*S3AssetStore, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, emptyAWSSessionToken)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf(errCreateAWSSessionFmt, err)
	}
	return newS3AssetStore(s3.New(sess), cfg), nil
}

func newS3AssetStore(svc s3iface.S3API, cfg S3Config) *S3AssetStore {
	publicURL := cfg.PublicBaseURL
	if publicURL == "" {
		switch {
		case cfg.Endpoint != "":
			publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		default:
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3AssetStore{
		svc:       svc,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *S3AssetStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := buildObjectKey(s3KeyPrefix, name)
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf(errPutObjectFmt, key, err)
	}
	return s.publicURL + "/" + key, nil
}

func (s *S3AssetStore) Delete(ctx context.Context, url string) error {
	key, ok := s.keyOf(url)
	if !ok {
		return fmt.Errorf("asset %q is not managed by this store", url)
	}
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf(errDeleteObjectFmt, key, err)
	}
	return nil
}

func (s *S3AssetStore) Owns(url string) bool {
	_, ok := s.keyOf(url)
	return ok
}

func (s *S3AssetStore) keyOf(url string) (string, bool) {
	key, found := strings.CutPrefix(url, s.publicURL+"/")
	if !found || !strings.HasPrefix(key, s3KeyPrefix+"/") || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func buildObjectKey(folderPath, filename string) string {
	if folderPath == "" {
		return filename
	}
	if !strings.HasSuffix(folderPath, "/") {
		folderPath += "/"
	}
	return folderPath + filename
}
