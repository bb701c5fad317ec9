package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// FolderVideos is the S3 prefix for lesson video objects.
	FolderVideos = "videos"
	// MaxVideoFileSize caps a single ingested lesson video (2GB).
	MaxVideoFileSize = 2 * 1024 * 1024 * 1024
)

// AllowedVideoTypes maps accepted lesson video MIME types to their stored extension.
var AllowedVideoTypes = map[string]string{
	"video/mp4":                ".mp4",
	"video/quicktime":          ".mp4",
	"video/webm":               ".webm",
	"application/octet-stream": ".mp4",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	VideosBucket         string
	PresignExpireMinutes int
}

// S3 provides lesson video uploads and pre-signed playback URLs.
type S3 struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("videos_bucket", cfg.VideosBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
	})
	return &S3{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// VideoKey returns the S3 object key for a lesson video: videos/{course_id}/{video_id}.mp4.
func VideoKey(courseID, videoID string) string {
	return path.Join(FolderVideos, courseID, videoID+".mp4")
}

// ValidateVideoContentType reports whether a source response looks like a video we can store.
func ValidateVideoContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := AllowedVideoTypes[strings.ToLower(mediaType)]
	return ok
}

// VideosBucket returns the lesson videos bucket name.
func (s *S3) VideosBucket() string { return s.cfg.VideosBucket }

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// PresignVideo returns a time-limited GET URL for a stored lesson video.
func (s *S3) PresignVideo(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.VideosBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// UploadVideo streams a lesson video into the videos bucket. contentLength may be <= 0 when unknown.
func (s *S3) UploadVideo(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "video/mp4"
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.VideosBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("uploaded video", zap.String("bucket", s.cfg.VideosBucket), zap.String("key", key))
	return nil
}

// DeleteVideo removes a lesson video object.
func (s *S3) DeleteVideo(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.VideosBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
