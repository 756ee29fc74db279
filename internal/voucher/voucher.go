// Package voucher хранит квитанции об оплате инвестиций в S3-совместимом хранилище.
package voucher

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/mmeshcher/invest-ledger/internal/config"
)

const keyPrefix = "vouchers"

var extByContentType = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store загружает квитанции в бакет и выдаёт на них временные ссылки.
type S3Store struct {
	client    objectPutter
	presigner objectPresigner
	bucket    string
	ttl       time.Duration
}

// NewS3Store создаёт хранилище квитанций по настройкам S3.
// Без ключей доступа используется стандартная цепочка учётных данных AWS.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		ttl:       cfg.PresignTTL,
	}, nil
}

// Upload сохраняет квитанцию пользователя и возвращает ключ объекта.
func (s *S3Store) Upload(ctx context.Context, userID, filename, contentType string, body io.Reader, size int64) (string, error) {
	key := ObjectKey(userID, uuid.NewString(), filename, contentType)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload voucher %s: %w", key, err)
	}
	return key, nil
}

// PresignURL возвращает временную ссылку на скачивание квитанции.
func (s *S3Store) PresignURL(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = s.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign voucher %s: %w", key, err)
	}
	return req.URL, nil
}

// ObjectKey строит ключ объекта вида vouchers/<userID>/<id><ext>.
// Расширение берётся из имени файла, а при его отсутствии из Content-Type.
func ObjectKey(userID, id, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if !isSafeExt(ext) {
		ext = ""
	}
	if ext == "" {
		mediaType, _, _ := strings.Cut(contentType, ";")
		ext = extByContentType[strings.ToLower(strings.TrimSpace(mediaType))]
	}
	return path.Join(keyPrefix, userID, id+ext)
}

func isSafeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 8 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
