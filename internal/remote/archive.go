package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/BadgerOps/goesfill/internal/safety"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// DefaultBuckets are the public NOAA buckets per satellite.
var DefaultBuckets = map[timeindex.Satellite]string{
	timeindex.GOES16: "noaa-goes16",
	timeindex.GOES18: "noaa-goes18",
}

// ArchiveOptions configures an ArchiveStore.
type ArchiveOptions struct {
	Region   string // "us-east-1" when empty
	Endpoint string // custom S3-compatible endpoint, empty for AWS
	Buckets  map[timeindex.Satellite]string
	Band     string // ABI band, "13" when empty

	RetryAttempts int           // 0 defaults to 4
	RetryBase     time.Duration // first backoff step, 0 defaults to 500ms

	// Static credentials; anonymous access when both are empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	ForcePathStyle bool
	DisableSSL     bool
	HTTPClient     *http.Client
}

// ArchiveStore fetches observations from the complete S3 archive.
type ArchiveStore struct {
	client   *s3.S3
	buckets  map[timeindex.Satellite]string
	band     string
	attempts uint64
	base     time.Duration
	logger   *slog.Logger
}

// NewArchiveStore creates an S3 client for the archive buckets.
func NewArchiveStore(opts ArchiveOptions, logger *slog.Logger) (*ArchiveStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsConfig := aws.NewConfig().
		WithRegion(region).
		WithS3ForcePathStyle(opts.ForcePathStyle).
		WithDisableSSL(opts.DisableSSL).
		// Retries are owned by the store so the policy is the same for every op.
		WithMaxRetries(0)
	if opts.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(opts.Endpoint)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = safety.NewTransferClient()
	}
	awsConfig = awsConfig.WithHTTPClient(httpClient)
	if opts.AccessKeyID != "" || opts.SecretAccessKey != "" {
		awsConfig = awsConfig.WithCredentials(
			credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken))
	} else {
		awsConfig = awsConfig.WithCredentials(credentials.AnonymousCredentials)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("archive store: create session: %w", err)
	}

	buckets := make(map[timeindex.Satellite]string, len(DefaultBuckets))
	for sat, b := range DefaultBuckets {
		buckets[sat] = b
	}
	for sat, b := range opts.Buckets {
		if b != "" {
			buckets[sat] = b
		}
	}

	band, err := timeindex.ParseBand(opts.Band)
	if err != nil {
		return nil, fmt.Errorf("archive store: %w", err)
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 4
	}
	base := opts.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	return &ArchiveStore{
		client:   s3.New(sess),
		buckets:  buckets,
		band:     band,
		attempts: uint64(attempts),
		base:     base,
		logger:   logger,
	}, nil
}

// Name implements Store.
func (s *ArchiveStore) Name() string { return string(timeindex.SourceArchive) }

// productCodes returns the key prefix segment and the file-name product code.
func productCodes(p timeindex.Product) (prefix, code string) {
	switch p {
	case timeindex.CONUS:
		return "ABI-L1b-RadC", "RadC"
	case timeindex.Mesoscale1:
		return "ABI-L1b-RadM", "RadM1"
	case timeindex.Mesoscale2:
		return "ABI-L1b-RadM", "RadM2"
	}
	return "ABI-L1b-RadF", "RadF"
}

// HourPrefix returns the listing prefix holding obj's scans.
func (s *ArchiveStore) HourPrefix(obj Object) string {
	ts := obj.Timestamp.UTC()
	prefix, _ := productCodes(obj.Product)
	return fmt.Sprintf("%s/%04d/%03d/%02d/", prefix, ts.Year(), ts.YearDay(), ts.Hour())
}

// matchToken is the substring identifying obj's band and scan-start minute.
func (s *ArchiveStore) matchToken(obj Object) (code, token string) {
	_, code = productCodes(obj.Product)
	return code, fmt.Sprintf("C%s_%s_s%s", s.band, obj.Satellite.Code(), timeindex.DayOfYearStamp(obj.Timestamp))
}

func (s *ArchiveStore) bucket(sat timeindex.Satellite) (string, error) {
	b, ok := s.buckets[sat]
	if !ok {
		return "", fmt.Errorf("no archive bucket configured for %s", sat)
	}
	return b, nil
}

// resolveKey lists the hour prefix and returns the key for obj, or "" if absent.
func (s *ArchiveStore) resolveKey(ctx context.Context, bucket string, obj Object) (string, error) {
	productPrefix, _ := productCodes(obj.Product)
	code, token := s.matchToken(obj)
	var key string

	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(s.HourPrefix(obj) + "OR_" + productPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, o := range page.Contents {
			k := aws.StringValue(o.Key)
			if strings.Contains(k, "-"+code+"-") && strings.Contains(k, token) {
				key = k
				return false
			}
		}
		return true
	})
	return key, err
}

// Exists lists the hour prefix and looks for obj's scan.
func (s *ArchiveStore) Exists(ctx context.Context, obj Object) (bool, error) {
	bucket, err := s.bucket(obj.Satellite)
	if err != nil {
		return false, newError(s.Name(), "exists", obj.String(), nil, err)
	}

	var key string
	err = s.withRetry(ctx, "exists", obj.String(), func(ctx context.Context) error {
		var err error
		key, err = s.resolveKey(ctx, bucket, obj)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return key != "", nil
}

// Download resolves obj's key and streams the object into dest.
func (s *ArchiveStore) Download(ctx context.Context, obj Object, dest string, onProgress ProgressFunc) (string, error) {
	bucket, err := s.bucket(obj.Satellite)
	if err != nil {
		return "", newError(s.Name(), "download", obj.String(), nil, err)
	}
	start := time.Now()

	var key string
	var size int64
	err = s.withRetry(ctx, "download", obj.String(), func(ctx context.Context) error {
		if key == "" {
			k, err := s.resolveKey(ctx, bucket, obj)
			if err != nil {
				return err
			}
			if k == "" {
				return fmt.Errorf("%w: no scan under s3://%s/%s", ErrNotFound, bucket, s.HourPrefix(obj))
			}
			key = k
		}

		out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		n, err := writeObject(ctx, out.Body, dest, aws.Int64Value(out.ContentLength), onProgress)
		if err != nil {
			return err
		}
		size = n
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("archive download complete",
		"object", obj.String(), "key", key, "path", dest, "bytes", size, "duration", time.Since(start))
	return dest, nil
}

// withRetry applies the store's bounded exponential backoff to transient
// failures. Every returned error is a *Error carrying its kind.
func (s *ArchiveStore) withRetry(ctx context.Context, op, key string, fn func(context.Context) error) error {
	backoff := retry.NewExponential(s.base)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(s.attempts-1, backoff)

	var lastErr error
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		kind := classifyAWS(ctx, err)
		if kind == ErrTransient {
			s.logger.Warn("archive attempt failed", "op", op, "object", key, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return newError(s.Name(), op, key, kind, err)
	})
	if err == nil {
		return nil
	}

	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	if ctx.Err() != nil {
		return newError(s.Name(), op, key, ErrCancelled, ctx.Err())
	}
	if lastErr == nil {
		lastErr = err
	}
	return newError(s.Name(), op, key, ErrTransient,
		fmt.Errorf("failed after %d attempts: %w", attempt, lastErr))
}

// classifyAWS maps an S3 SDK error to an error kind.
func classifyAWS(ctx context.Context, err error) error {
	if kind := contextKind(ctx); kind != nil {
		return kind
	}
	for _, k := range []error{ErrNotFound, ErrCancelled, ErrTransient} {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, errLocal) {
		return nil
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return ErrNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "AllAccessDisabled":
			return ErrAuth
		case request.CanceledErrorCode:
			return ErrCancelled
		}
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) {
			if kind := classifyStatus(reqErr.StatusCode()); kind != nil {
				return kind
			}
			if reqErr.StatusCode() >= 400 && reqErr.StatusCode() < 500 {
				return nil
			}
		}
	}
	return ErrTransient
}
