package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string
}

// ObjectPutter 是 S3Operator 需要的 S3 操作，*s3.Client 即實作此介面
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Operator struct {
	// Client 是 S3 客戶端。
	Client ObjectPutter
	// Bucket 是 S3 存儲桶的名稱。
	Bucket string
	// PublicEndpoint 是 S3 存儲桶的公開 Endpoint。
	PublicEndpoint *url.URL
}

// NewClient 依設定建立 S3 相容服務的客戶端
func NewClient(ctx context.Context, config Config) (*s3.Client, error) {
	const op = "s3.NewClient"
	region := config.Region
	if region == "" {
		region = "auto"
	}
	cfg, err := awsConfig.LoadDefaultConfig(
		ctx,
		awsConfig.WithBaseEndpoint(config.Endpoint),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")),
		awsConfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load S3 config, err=%w", op, err)
	}
	return s3.NewFromConfig(cfg), nil
}

func NewS3Operator(client ObjectPutter, bucket, publicBaseURL string) (*S3Operator, error) {
	const op = "NewS3Operator"
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	return &S3Operator{Client: client, Bucket: bucket, PublicEndpoint: publicEndpoint}, nil
}

// PhotoKey 產生刊登照片的物件路徑，例如 listings/auction/<id>/<uuid>.png
func PhotoKey(kind, listingID, ext string) string {
	return path.Join("listings", kind, listingID, uuid.NewString()+"."+ext)
}

// UploadFileToS3 上傳檔案並回傳公開網址
func (s *S3Operator) UploadFileToS3(ctx context.Context, key, contentType string, fileContent []byte) (string, error) {
	const op = "UploadFileToS3"
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(fileContent),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload file to S3, err=%w", op, err)
	}
	uri := *s.PublicEndpoint
	uri.Path = path.Join("/", uri.Path, key)
	return uri.String(), nil
}
