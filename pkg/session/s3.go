package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3ExpiresKey is the object metadata key holding the expiration time.
// S3 lowercases user metadata keys, so it is written lowercase.
const s3ExpiresKey = "viewsync-expires-at"

// S3API is the subset of the S3 client used by S3Store.
// *s3.Client satisfies it; tests can substitute a fake.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3Store is an S3-backed session store. Snapshots are stored one object
// per session under a configurable key prefix, with the expiration time in
// object metadata. It suits deployments that already run on object storage
// and want session resume to survive full server replacement.
//
// S3 has no server-side TTL enforcement at this granularity; expiration is
// checked on Load, and a bucket lifecycle rule on the prefix should reap
// stale objects.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	closed bool
}

// S3StoreOption configures S3Store behavior.
type S3StoreOption func(*s3StoreConfig)

type s3StoreConfig struct {
	prefix string
}

// WithS3Prefix sets the key prefix for session objects.
// Default: "viewsync/sessions/".
func WithS3Prefix(prefix string) S3StoreOption {
	return func(c *s3StoreConfig) {
		c.prefix = prefix
	}
}

// NewS3Store creates a new S3-backed session store.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := session.NewS3Store(s3.NewFromConfig(cfg), "my-bucket")
func NewS3Store(client S3API, bucket string, opts ...S3StoreOption) *S3Store {
	cfg := &s3StoreConfig{
		prefix: "viewsync/sessions/",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: cfg.prefix,
	}
}

// key returns the object key for a session ID.
func (s *S3Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save stores a session snapshot with its expiration time in metadata.
func (s *S3Store) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(sessionID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			s3ExpiresKey: expiresAt.UTC().Format(time.RFC3339),
		},
	})
	return err
}

// Load retrieves a session snapshot if it exists and hasn't expired.
func (s *S3Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.closed {
		return nil, ErrStoreClosed{}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()

	if expired(out.Metadata) {
		// Reap lazily so the next Load doesn't re-read it.
		go s.deleteQuiet(sessionID)
		return nil, nil
	}

	return io.ReadAll(out.Body)
}

// Delete removes a session object. Missing objects are not an error.
func (s *S3Store) Delete(ctx context.Context, sessionID string) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
	return err
}

// Touch rewrites the object metadata with a new expiration time using a
// same-key copy, leaving the snapshot bytes untouched.
func (s *S3Store) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	key := s.key(sessionID)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		MetadataDirective: types.MetadataDirectiveReplace,
		ContentType:       aws.String("application/json"),
		Metadata: map[string]string{
			s3ExpiresKey: expiresAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil && isS3NotFound(err) {
		return nil
	}
	return err
}

// SaveAll saves sessions sequentially; S3 has no multi-object transaction.
func (s *S3Store) SaveAll(ctx context.Context, sessions map[string]Record) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	for id, rec := range sessions {
		if err := s.Save(ctx, id, rec.Data, rec.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the store as closed. The underlying client is not closed, as
// it may be shared with other components.
func (s *S3Store) Close() error {
	s.closed = true
	return nil
}

// Prefix returns the current key prefix, for testing and debugging.
func (s *S3Store) Prefix() string {
	return s.prefix
}

func (s *S3Store) deleteQuiet(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID)),
	})
}

// expired reports whether the metadata expiration time has passed.
// Objects without the metadata key never expire here; the bucket
// lifecycle rule owns those.
func expired(metadata map[string]string) bool {
	raw, ok := metadata[s3ExpiresKey]
	if !ok {
		return false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return time.Now().After(t)
}

// isS3NotFound reports whether err indicates a missing object.
func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
