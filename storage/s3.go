package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ruteri/config-service/interfaces"
)

// S3Repository serves configuration documents stored in an Amazon S3 (or compatible) bucket.
// Objects live under {prefix}/{label}/ when a label is given, otherwise under {prefix}/.
type S3Repository struct {
	client      s3iface.S3API
	bucketName  string
	prefix      string
	order       int
	log         *slog.Logger
	locationURI string
}

// NewS3Repository creates an S3 repository. Static credentials are used when
// accessKey and secretKey are set, otherwise the default AWS credential chain applies.
func NewS3Repository(bucketName, prefix, region, endpoint, accessKey, secretKey string, order int, log *slog.Logger) (*S3Repository, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3RepositoryWithClient(s3.New(sess), bucketName, prefix, order, log, uri), nil
}

// NewS3RepositoryWithClient creates an S3 repository around an existing client.
func NewS3RepositoryWithClient(client s3iface.S3API, bucketName, prefix string, order int, log *slog.Logger, locationURI string) *S3Repository {
	if log == nil {
		log = slog.Default()
	}
	if locationURI == "" {
		locationURI = fmt.Sprintf("s3://%s/%s", bucketName, prefix)
	}
	return &S3Repository{
		client:      client,
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		order:       order,
		log:         log,
		locationURI: locationURI,
	}
}

// FindOne lists the objects under the label's prefix and reads the matching documents.
// The version is derived from the ETags of the objects read.
func (b *S3Repository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	start := time.Now()
	profiles := profilesOf(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	dir := b.prefix
	if label != "" {
		dir = path.Join(b.prefix, label)
	}
	listPrefix := dir
	if listPrefix != "" {
		listPrefix += "/"
	}

	keys := make(map[string]bool)
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucketName),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys[aws.StringValue(obj.Key)] = true
		}
		return true
	})
	if err != nil {
		b.log.Error("Failed to list objects in S3",
			slog.String("bucket", b.bucketName),
			slog.String("prefix", listPrefix),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to list objects in S3: %v", interfaces.ErrBackendUnavailable, err)
	}

	var etags []string
	for _, name := range candidateNames(application, profiles) {
		for _, ext := range DocumentExtensions {
			key := listPrefix + name + "." + ext
			if !keys[key] {
				continue
			}
			data, etag, err := b.getObject(ctx, key)
			if errors.Is(err, interfaces.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			values, err := ParseDocument(key, data, includeOrigin)
			if err != nil {
				return nil, err
			}
			env.Add(interfaces.NewPropertySource(applicationConfigPrefix+key+"]", values))
			etags = append(etags, etag)
		}
	}

	b.log.Debug("Fetched environment from S3",
		slog.String("bucket", b.bucketName),
		slog.String("prefix", listPrefix),
		slog.Int("documents", len(etags)),
		slog.Duration("duration", time.Since(start)))

	if len(etags) > 0 {
		env.Version = interfaces.ComputeID([]byte(strings.Join(etags, ","))).String()
	}
	return CleanEnvironment(env, "", "s3://"+b.bucketName), nil
}

func (b *S3Repository) getObject(ctx context.Context, key string) ([]byte, string, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, "", interfaces.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object body: %w", err)
	}
	return data, aws.StringValue(result.ETag), nil
}

// Order returns the precedence of this repository.
func (b *S3Repository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *S3Repository) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this repository.
func (b *S3Repository) LocationURI() string {
	return b.locationURI
}
