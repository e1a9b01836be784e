package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"image-stand/internal"
)

// S3Store keeps images under a key prefix of an S3-compatible bucket.
type S3Store struct {
	bucket string
	prefix string
	api    *awss3.Client
	upl    *manager.Uploader
	dl     *manager.Downloader
}

func NewS3Store(ctx context.Context, cfg internal.Config) (*S3Store, error) {
	endpoint := cfg.S3Endpoint
	forcePathStyle := !strings.Contains(endpoint, "amazonaws.com")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = forcePathStyle
		o.BaseEndpoint = &endpoint
	})

	prefix := cfg.ImagesPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		bucket: cfg.S3Bucket,
		prefix: prefix,
		api:    client,
		upl:    manager.NewUploader(client),
		dl:     manager.NewDownloader(client),
	}, nil
}

func (s *S3Store) key(name string) string { return s.prefix + name }

func (s *S3Store) Save(ctx context.Context, name string, data []byte) error {
	name, err := SanitizeName(name)
	if err != nil {
		return err
	}
	return s.put(ctx, s.key(name), data, ContentType(name))
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.upl.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Open(ctx context.Context, name string) ([]byte, string, error) {
	data, err := s.download(ctx, name)
	if err != nil {
		return nil, "", err
	}
	return data, ContentType(name), nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.api.GetObject(ctx, &awss3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	return b, deref(out.ContentType), nil
}

// download fetches an image through the transfer manager, which splits large
// objects into parallel ranged GETs.
func (s *S3Store) download(ctx context.Context, name string) ([]byte, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	key := s.key(name)
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.dl.Download(ctx, buf, &awss3.GetObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("s3 download %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) List(ctx context.Context) ([]Object, error) {
	var out []Object
	p := awss3.NewListObjectsV2Paginator(s.api, &awss3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &s.prefix})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			name := path.Base(deref(obj.Key))
			if !isImageName(name) {
				continue
			}
			o := Object{Name: name}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if obj.LastModified != nil {
				o.ModTime = *obj.LastModified
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	name, err := SanitizeName(name)
	if err != nil {
		return err
	}
	key := s.key(name)
	if _, err := s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) ReadJSON(ctx context.Context, key string, out any) (bool, error) {
	b, _, err := s.get(ctx, s.key(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

func (s *S3Store) WriteJSON(ctx context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.put(ctx, s.key(key), b, "application/json")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
