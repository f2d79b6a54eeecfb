package s3store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/DrSkyle/cloudblob/pkg/version"
)

// SessionOptions selects credentials and endpoints. Empty fields fall back to the
// SDK's default chain.
type SessionOptions struct {
	Region    string
	Profile   string
	AccessKey string
	SecretKey string
	// Endpoint overrides the service URL, e.g. "http://localhost:4566" for LocalStack.
	Endpoint     string
	UsePathStyle bool
	// MaxRetries bounds the SDK retryer's attempts. Zero keeps the SDK default.
	MaxRetries int
	// Verbose logs every API call at Debug.
	Verbose bool
	Logger  *slog.Logger
}

// Session holds the SDK configuration and the service clients built from it.
type Session struct {
	Config aws.Config
	S3     *s3.Client
	STS    *sts.Client
}

// NewSession loads the SDK configuration and builds S3 and STS clients.
func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.MaxRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(opts.MaxRetries+1))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	cfg.APIOptions = append(cfg.APIOptions, userAgent)
	if opts.Verbose {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		cfg.APIOptions = append(cfg.APIOptions, callLogger(logger))
	}

	return &Session{
		Config: cfg,
		S3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = opts.UsePathStyle
		}),
		STS: sts.NewFromConfig(cfg),
	}, nil
}

// userAgent tags every request with the application name and version.
func userAgent(stack *middleware.Stack) error {
	return stack.Build.Add(middleware.BuildMiddlewareFunc("CloudblobUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
		middleware.BuildOutput, middleware.Metadata, error,
	) {
		if req, ok := input.Request.(*smithyhttp.Request); ok {
			ua := req.Header.Get("User-Agent")
			tag := fmt.Sprintf("%s/%s", version.AppName, version.Current)
			if ua == "" {
				ua = tag
			} else {
				ua = ua + " " + tag
			}
			req.Header.Set("User-Agent", ua)
		}
		return next.HandleBuild(ctx, input)
	}), middleware.After)
}

func callLogger(logger *slog.Logger) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("CloudblobCallLogger", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
			middleware.InitializeOutput, middleware.Metadata, error,
		) {
			logger.Debug("AWS API call",
				"service", middleware.GetServiceID(ctx),
				"operation", middleware.GetOperationName(ctx))
			return next.HandleInitialize(ctx, input)
		}), middleware.Before)
	}
}

// VerifyIdentity returns the ARN of the calling identity.
func (s *Session) VerifyIdentity(ctx context.Context) (string, error) {
	return verifyIdentity(ctx, s.STS)
}

func verifyIdentity(ctx context.Context, client IdentityClient) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Arn), nil
}
