package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tabletop-backend/internal/config"
)

// S3Service 맵 자산 업로드/삭제 서비스
// nil 리시버에서도 IsEnabled()가 안전하게 동작한다 (미설정 시 업로드 비활성화)
type S3Service struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Service S3 클라이언트 초기화
func NewS3Service(cfg *config.S3Config) (*S3Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Service{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.BucketName,
		region: cfg.Region,
	}, nil
}

// IsEnabled 업로드 가능 여부
func (s *S3Service) IsEnabled() bool {
	return s != nil && s.client != nil
}

// BuildMapKey 로비별 맵 객체 키 생성: {lobbyID}/maps/{timestamp}_{filename}
func BuildMapKey(lobbyID int64, fileName string) string {
	base := filepath.Base(fileName)
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%d/maps/%d_%s", lobbyID, time.Now().UnixMilli(), base)
}

// BuildTokenKey 로비별 토큰 이미지 객체 키 생성: {lobbyID}/tokens/{timestamp}_{filename}
func BuildTokenKey(lobbyID int64, fileName string) string {
	base := filepath.Base(fileName)
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%d/tokens/%d_%s", lobbyID, time.Now().UnixMilli(), base)
}

// UploadFile 객체 업로드
func (s *S3Service) UploadFile(key, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// DeleteFile 객체 삭제 (실패는 로그만 남김, 호출자는 무시 가능)
func (s *S3Service) DeleteFile(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Printf("[S3] failed to delete %s: %v", key, err)
		return err
	}
	return nil
}

// GetPublicURL 업로드된 객체의 공개 URL
func (s *S3Service) GetPublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
