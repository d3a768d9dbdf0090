package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const defaultArchivePrefix = "webhooks"

var sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ObjectWriter stores one object. Implementations must not overwrite an
// existing object.
type ObjectWriter func(ctx context.Context, bucket, object string, body []byte, metadata map[string]string) error

// Archive keeps raw provider payloads in Cloud Storage so reconciliation
// disputes can be replayed against exactly what was received.
type Archive struct {
	bucket string
	prefix string
	write  ObjectWriter
	clock  func() time.Time
	newID  func() string
}

// ArchiveOption customises an Archive.
type ArchiveOption func(*Archive)

// WithArchivePrefix sets the top level folder. Defaults to "webhooks".
func WithArchivePrefix(prefix string) ArchiveOption {
	return func(a *Archive) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), "/"); trimmed != "" {
			a.prefix = trimmed
		}
	}
}

// WithArchiveClock replaces time.Now when dating object paths.
func WithArchiveClock(clock func() time.Time) ArchiveOption {
	return func(a *Archive) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithArchiveIDGenerator replaces the ULID generator used for object names.
func WithArchiveIDGenerator(gen func() string) ArchiveOption {
	return func(a *Archive) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// WithObjectWriter replaces the Cloud Storage writer.
func WithObjectWriter(write ObjectWriter) ArchiveOption {
	return func(a *Archive) {
		if write != nil {
			a.write = write
		}
	}
}

// NewArchive builds an archive writing into bucket. client may be nil when a
// custom ObjectWriter is supplied.
func NewArchive(client *gcs.Client, bucket string, opts ...ArchiveOption) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archive: bucket is required")
	}
	a := &Archive{
		bucket: bucket,
		prefix: defaultArchivePrefix,
		clock:  time.Now,
		newID:  func() string { return ulid.Make().String() },
	}
	if client != nil {
		a.write = gcsWriter(client)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.write == nil {
		return nil, errors.New("storage archive: client or object writer is required")
	}
	return a, nil
}

// Store writes body under <prefix>/<source>/<yyyy>/<mm>/<dd>/<id>.json and
// returns the gs:// URI of the new object.
func (a *Archive) Store(ctx context.Context, source string, body []byte, metadata map[string]string) (string, error) {
	if a == nil {
		return "", errors.New("storage archive: not configured")
	}
	if len(body) == 0 {
		return "", errors.New("storage archive: empty payload")
	}
	object, err := a.objectPath(source)
	if err != nil {
		return "", err
	}
	if err := a.write(ctx, a.bucket, object, body, metadata); err != nil {
		return "", fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	return "gs://" + a.bucket + "/" + object, nil
}

func (a *Archive) objectPath(source string) (string, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if !sourcePattern.MatchString(source) {
		return "", fmt.Errorf("storage archive: invalid source %q", source)
	}
	id := strings.TrimSpace(a.newID())
	if id == "" || strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("storage archive: invalid object id %q", id)
	}
	day := a.clock().UTC().Format("2006/01/02")
	return fmt.Sprintf("%s/%s/%s/%s.json", a.prefix, source, day, id), nil
}

func gcsWriter(client *gcs.Client) ObjectWriter {
	return func(ctx context.Context, bucket, object string, body []byte, metadata map[string]string) error {
		w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = "application/json"
		w.Metadata = metadata
		if _, err := w.Write(body); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	}
}
