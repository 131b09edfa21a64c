package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// S3Uploader stores media in a public-read S3 bucket. Images also get a
// 320px wide JPEG thumbnail next to the original.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	region   string
	log      *zap.Logger
}

func NewS3Uploader(ctx context.Context, region, bucket string, log *zap.Logger) (*S3Uploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{uploader: manager.NewUploader(client), bucket: bucket, region: region, log: log}, nil
}

func (s *S3Uploader) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	key := objectKey(name)
	if err := s.put(ctx, key, contentType, data); err != nil {
		return Result{}, err
	}
	res := Result{URL: s.publicURL(key)}

	if strings.HasPrefix(contentType, "image/") {
		thumb, err := Thumbnail(data, 320)
		if err != nil {
			s.log.Debug("thumbnail skipped", zap.String("key", key), zap.Error(err))
			return res, nil
		}
		thumbKey := key + "_thumb.jpg"
		if err := s.put(ctx, thumbKey, "image/jpeg", thumb); err != nil {
			s.log.Warn("thumbnail upload failed", zap.String("key", thumbKey), zap.Error(err))
			return res, nil
		}
		res.ThumbnailURL = s.publicURL(thumbKey)
	}
	return res, nil
}

func (s *S3Uploader) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Uploader) publicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, url.PathEscape(key))
}

func objectKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return "media/" + uuid.NewString() + "_" + base
}

// Thumbnail decodes an image and re-encodes it as a JPEG no wider than width.
func Thumbnail(data []byte, width int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
