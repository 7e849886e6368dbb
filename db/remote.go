// Remote table storage on S3 and S3-compatible services.
package db

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// TableStore locates the data files of project tables kept outside DuckDB.
type TableStore interface {
	// Files returns the URLs of the parquet files of a table, or none when the
	// store does not hold the table.
	Files(ctx context.Context, project, table string) ([]string, error)
	// SecretStatement returns the DuckDB statement that gives the engine
	// access to the store, or "" when none is needed.
	SecretStatement(ctx context.Context) (string, error)
}

// S3Config contains the bucket layout and authentication of an S3 table store.
// Tables live under s3://<Bucket>/<Prefix>/<project>/<table>/.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // Optional: custom S3-compatible endpoint
	AccessKey string
	SecretKey string
}

type S3TableStore struct {
	client *s3.Client
	aws    aws.Config
	config S3Config
}

// NewS3TableStore loads the AWS configuration from the default chain, with
// static credentials taking precedence when both keys are set.
func NewS3TableStore(ctx context.Context, cfg S3Config) (*S3TableStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 table store: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3TableStore{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		aws:    awsCfg,
		config: cfg,
	}, nil
}

func (store *S3TableStore) tablePrefix(project, table string) string {
	return path.Join(store.config.Prefix, project, table) + "/"
}

func (store *S3TableStore) Files(ctx context.Context, project, table string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(store.config.Bucket),
		Prefix: aws.String(store.tablePrefix(project, table)),
	})

	var files []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", store.config.Bucket, store.tablePrefix(project, table), err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if strings.HasSuffix(key, ".parquet") {
				files = append(files, "s3://"+store.config.Bucket+"/"+key)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func (store *S3TableStore) SecretStatement(ctx context.Context) (string, error) {
	creds, err := store.aws.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	options := []string{
		"TYPE S3",
		"KEY_ID " + quoteLiteral(creds.AccessKeyID),
		"SECRET " + quoteLiteral(creds.SecretAccessKey),
	}
	if creds.SessionToken != "" {
		options = append(options, "SESSION_TOKEN "+quoteLiteral(creds.SessionToken))
	}
	if store.aws.Region != "" {
		options = append(options, "REGION "+quoteLiteral(store.aws.Region))
	}
	if store.config.Endpoint != "" {
		endpoint := store.config.Endpoint
		useSSL := !strings.HasPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
		options = append(options,
			"ENDPOINT "+quoteLiteral(endpoint),
			"URL_STYLE 'path'",
			fmt.Sprintf("USE_SSL %t", useSSL))
	}

	return "CREATE OR REPLACE SECRET commitquery_s3 (" + strings.Join(options, ", ") + ")", nil
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
