// Package lambdaboot holds the cold-start steps of the compose Lambda: AWS
// config, the S3 payload bucket, the DynamoDB result store and API keys
// kept in SSM Parameter Store.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/logging"
	"github.com/fpang/post-composer/internal/store"
)

// ssmPrefix is where parameters live when no explicit name is configured.
const ssmPrefix = "/post-composer/prod/"

// AWSClients holds the AWS config and the SSM client used for secrets.
type AWSClients struct {
	Config aws.Config
	SSM    ParameterAPI
}

// ParameterAPI is the SSM subset used to read secrets.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3Clients holds the S3 client, presigner and payload bucket.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config. Fatals on failure.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{Config: cfg, SSM: ssm.NewFromConfig(cfg)}
}

// InitS3 creates the S3 client and presigner for bucket. Fatals if bucket
// is empty.
func InitS3(cfg aws.Config, bucket string) S3Clients {
	if bucket == "" {
		log.Fatal().Msg("PAYLOAD_BUCKET is required")
	}
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamo creates the DynamoDB result store. Payloads go to the bucket
// in s3c. Fatals if table is empty.
func InitDynamo(cfg aws.Config, table string, s3c S3Clients, ttl time.Duration) *store.DynamoStore {
	if table == "" {
		log.Fatal().Msg("DYNAMO_TABLE_NAME is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table, s3c.Client, s3c.Bucket, ttl)
}

// LoadSecret sets envVar from SSM when it is not already set. The parameter
// name is read from paramEnvVar, falling back to /post-composer/prod/<name>.
// A missing optional secret is logged; a missing required one is fatal.
func LoadSecret(ctx context.Context, api ParameterAPI, envVar, paramEnvVar, name string, required bool) bool {
	if os.Getenv(envVar) != "" {
		return true
	}
	param := os.Getenv(paramEnvVar)
	if param == "" {
		param = ssmPrefix + name
	}

	start := time.Now()
	out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil || out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		if required {
			log.Fatal().Err(err).Str("param", param).Msg("Failed to read required secret from SSM")
		}
		log.Warn().Err(err).Str("param", param).Msg("Optional secret not found in SSM")
		return false
	}

	os.Setenv(envVar, aws.ToString(out.Parameter.Value))
	log.Debug().Str("param", param).Str("env", envVar).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return true
}

// StartupLog starts the startup logger with the elapsed init time.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
