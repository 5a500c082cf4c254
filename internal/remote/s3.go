package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/systmms/vaultsync/internal/config"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/pkg/vault"
)

// maxDeleteBatch is the largest key set DeleteObjects accepts.
const maxDeleteBatch = 1000

// errUnreadable marks objects that were read but do not hold a record.
var errUnreadable = errors.New("unreadable record")

// S3API is the subset of the S3 client used by S3Store. It allows mocking in
// tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps one JSON object per record under
// <prefix>/<owner>/<zone>/<kind>/<name>.json. The object ETag is the record
// metadata; writes are conditional on it.
type S3Store struct {
	bucket     string
	prefix     string
	client     S3API
	logger     *logging.Logger
	predicates *predicateCache
}

// S3Option configures an S3Store.
type S3Option func(*S3Store)

// WithS3Client sets a custom S3 client (for testing)
func WithS3Client(client S3API) S3Option {
	return func(s *S3Store) {
		s.client = client
	}
}

// WithS3Logger sets the logger.
func WithS3Logger(logger *logging.Logger) S3Option {
	return func(s *S3Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewS3Store creates a store for cfg. Without an injected client, one is
// built from the default AWS config chain, or from the static credentials in
// cfg when set.
func NewS3Store(ctx context.Context, cfg config.RemoteConfig, opts ...S3Option) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, vserrors.ConfigError{
			Field:      "remote.bucket",
			Message:    "bucket is required for the s3 remote",
			Suggestion: "Set remote.bucket in the config file",
		}
	}
	s := &S3Store{
		bucket:     cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		logger:     logging.Discard(),
		predicates: newPredicateCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client != nil {
		return s, nil
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	s.client = s3.NewFromConfig(awsCfg, s3Opts...)
	return s, nil
}

// Name implements Store.
func (s *S3Store) Name() string {
	return "s3"
}

func (s *S3Store) join(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	if s.prefix != "" {
		escaped = append(escaped, s.prefix)
	}
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return path.Join(escaped...)
}

func (s *S3Store) zonePrefix(zone vault.ZoneID) string {
	return s.join(zone.Owner, zone.Name) + "/"
}

func (s *S3Store) objectKey(id vault.RecordID) string {
	return s.join(id.Zone.Owner, id.Zone.Name, string(id.Kind), id.Name+".json")
}

// parseKey reverses objectKey.
func (s *S3Store) parseKey(key string) (vault.RecordID, error) {
	rest := key
	if s.prefix != "" {
		rest = strings.TrimPrefix(key, s.prefix+"/")
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || !strings.HasSuffix(parts[3], ".json") {
		return vault.RecordID{}, fmt.Errorf("unexpected object key %q", key)
	}
	for i, p := range parts {
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return vault.RecordID{}, fmt.Errorf("unexpected object key %q: %w", key, err)
		}
		parts[i] = unescaped
	}
	kind, err := vault.ParseRecordKind(parts[2])
	if err != nil {
		return vault.RecordID{}, err
	}
	return vault.RecordID{
		Zone: vault.ZoneID{Owner: parts[0], Name: parts[1]},
		Kind: kind,
		Name: strings.TrimSuffix(parts[3], ".json"),
	}, nil
}

// listKeys returns every object key under prefix.
func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, vserrors.RemoteStoreError(s.Name(), "list", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// get reads one record. The returned metadata carries the object's ETag.
func (s *S3Store) get(ctx context.Context, id vault.RecordID) (vault.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return vault.Record{}, fmt.Errorf("get %s: %w", id, convertS3Error(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return vault.Record{}, fmt.Errorf("read %s: %w", id, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return vault.Record{}, fmt.Errorf("%w %s: %w", errUnreadable, id, err)
	}
	if rec.ID != id {
		return vault.Record{}, fmt.Errorf("%w: object %s holds record %s", errUnreadable, s.objectKey(id), rec.ID)
	}
	rec.Metadata = vault.Metadata{Zone: id.Zone, Kind: id.Kind, Tag: aws.ToString(out.ETag)}
	return rec, nil
}

// Query implements Store.
func (s *S3Store) Query(ctx context.Context, q Query, fn func(Match) error) error {
	program, err := s.predicates.load(q.Predicate)
	if err != nil {
		return err
	}

	var prefixes []string
	switch {
	case len(q.Zones) > 0:
		for _, z := range q.Zones {
			if zoneSelected(q, z) {
				prefixes = append(prefixes, s.join(z.Owner, z.Name, string(q.Kind))+"/")
			}
		}
	case q.Owner != "":
		prefixes = []string{s.join(q.Owner) + "/"}
	default:
		prefixes = []string{s.join() + "/"}
		if s.prefix == "" {
			prefixes = []string{""}
		}
	}

	delivered := 0
	for _, prefix := range prefixes {
		keys, err := s.listKeys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			id, err := s.parseKey(key)
			if err != nil {
				s.logger.Debug("Skipping foreign object %s: %v", key, err)
				continue
			}
			if id.Kind != q.Kind || !zoneSelected(q, id.Zone) {
				continue
			}

			m := Match{ID: id}
			rec, err := s.get(ctx, id)
			if err != nil {
				m.Err = err
			} else if ok, err := program.eval(rec); err != nil {
				m.Err = err
			} else if !ok {
				continue
			} else {
				m.Record = rec
			}

			if err := fn(m); err != nil {
				return err
			}
			if m.Err == nil {
				delivered++
				if q.Limit > 0 && delivered >= q.Limit {
					return nil
				}
			}
		}
	}
	return nil
}

// Fetch implements Store. Objects that do not decode, or that vanished after
// the listing, are skipped; any other failure ends the fetch.
func (s *S3Store) Fetch(ctx context.Context, zone vault.ZoneID) ([]vault.Record, error) {
	keys, err := s.listKeys(ctx, s.zonePrefix(zone))
	if err != nil {
		return nil, err
	}
	records := make([]vault.Record, 0, len(keys))
	for _, key := range keys {
		id, err := s.parseKey(key)
		if err != nil {
			s.logger.Debug("Skipping foreign object %s: %v", key, err)
			continue
		}
		rec, err := s.get(ctx, id)
		switch {
		case errors.Is(err, errUnreadable):
			s.logger.Warn("Skipping %v", err)
			continue
		case errors.Is(err, vserrors.ErrNotFound):
			s.logger.Debug("Skipping %s, deleted while fetching", id)
			continue
		case err != nil:
			return nil, vserrors.RemoteStoreError(s.Name(), "fetch", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// currentTag returns the ETag of id, or "" when the object does not exist.
func (s *S3Store) currentTag(ctx context.Context, id vault.RecordID) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("head %s: %w", id, convertS3Error(err))
	}
	return aws.ToString(out.ETag), nil
}

// Modify implements Store. Stale metadata is detected before anything is
// written; writes are additionally conditional so a concurrent writer
// between the check and the write is still reported as a conflict.
func (s *S3Store) Modify(ctx context.Context, zone vault.ZoneID, save []vault.Record, deletes []vault.RecordID) ([]vault.Record, error) {
	var conflicts []string
	for _, rec := range save {
		if rec.ID.Zone != zone {
			return nil, fmt.Errorf("record %s does not belong to zone %s", rec.ID, zone)
		}
		tag, err := s.currentTag(ctx, rec.ID)
		if err != nil {
			return nil, vserrors.CommitError{Zone: zone.String(), Err: err}
		}
		if tag != rec.Metadata.Tag {
			conflicts = append(conflicts, rec.ID.String())
		}
	}
	if len(conflicts) > 0 {
		return nil, vserrors.CommitError{Zone: zone.String(), Conflicts: conflicts, Err: vserrors.ErrConflict}
	}

	if err := s.deleteAll(ctx, deletes); err != nil {
		return nil, vserrors.CommitError{Zone: zone.String(), Err: err}
	}

	saved := make([]vault.Record, 0, len(save))
	for _, rec := range save {
		out, err := s.put(ctx, rec)
		if err != nil {
			if errors.Is(err, vserrors.ErrConflict) {
				conflicts = append(conflicts, rec.ID.String())
				continue
			}
			return saved, vserrors.CommitError{Zone: zone.String(), Err: err}
		}
		saved = append(saved, out)
	}
	if len(conflicts) > 0 {
		return saved, vserrors.CommitError{Zone: zone.String(), Conflicts: conflicts, Err: vserrors.ErrConflict}
	}
	return saved, nil
}

func (s *S3Store) put(ctx context.Context, rec vault.Record) (vault.Record, error) {
	body, err := encodeRecord(rec)
	if err != nil {
		return vault.Record{}, err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(rec.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if rec.Metadata.IsZero() {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(rec.Metadata.Tag)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return vault.Record{}, fmt.Errorf("put %s: %w", rec.ID, convertS3Error(err))
	}
	saved := cloneRecord(rec)
	saved.Metadata = vault.Metadata{Zone: rec.ID.Zone, Kind: rec.ID.Kind, Tag: aws.ToString(out.ETag)}
	return saved, nil
}

func (s *S3Store) deleteAll(ctx context.Context, ids []vault.RecordID) error {
	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, id := range ids[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.objectKey(id))})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", convertS3Error(err))
		}
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			return fmt.Errorf("delete %s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

// convertS3Error maps conditional-write failures to ErrConflict and missing
// objects to ErrNotFound.
func convertS3Error(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %v", vserrors.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", vserrors.ErrConflict, err)
		}
	}
	if strings.Contains(err.Error(), "PreconditionFailed") {
		return fmt.Errorf("%w: %v", vserrors.ErrConflict, err)
	}
	return err
}
