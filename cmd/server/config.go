package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/executor"
)

// Config is the server configuration. Values come from flags, environment
// variables prefixed with COMMITQUERY_, or config.yaml, in that order.
type Config struct {
	Addr         string
	MetricsAddr  string
	BaseDir      string
	GitURL       string
	GitToken     string
	DuckDBPath   string
	DefaultLimit int64
	LogFormat    string
	LogLevel     string
	Auth         AuthConfig
	S3           db.S3Config
}

const (
	addrFlag         = "addr"
	metricsAddrFlag  = "metrics-addr"
	baseDirFlag      = "base-dir"
	gitURLFlag       = "git-url"
	gitTokenFlag     = "git-token"
	duckDBPathFlag   = "duckdb-path"
	defaultLimitFlag = "default-limit"
	logFormatFlag    = "log-format"
	logLevelFlag     = "log-level"
	jwtSecretFlag    = "auth-jwt-secret"
	issuerFlag       = "auth-issuer"
	audienceFlag     = "auth-audience"
	s3BucketFlag     = "s3-bucket"
	s3PrefixFlag     = "s3-prefix"
	s3RegionFlag     = "s3-region"
	s3EndpointFlag   = "s3-endpoint"
	s3AccessKeyFlag  = "s3-access-key"
	s3SecretKeyFlag  = "s3-secret-key"
)

// config keys of the flags whose name differs from the key
var configKeys = map[string]string{
	logFormatFlag:   "log.format",
	logLevelFlag:    "log.level",
	jwtSecretFlag:   "auth.jwt-secret",
	issuerFlag:      "auth.issuer",
	audienceFlag:    "auth.audience",
	s3BucketFlag:    "s3.bucket",
	s3PrefixFlag:    "s3.prefix",
	s3RegionFlag:    "s3.region",
	s3EndpointFlag:  "s3.endpoint",
	s3AccessKeyFlag: "s3.access-key",
	s3SecretKeyFlag: "s3.secret-key",
}

func setupViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("COMMITQUERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	for _, path := range []string{"/etc/commitquery", "$HOME/.commitquery", "."} {
		viper.AddConfigPath(path)
	}
}

func bindFlags(command *cobra.Command) {
	flags := command.Flags()
	flags.String(addrFlag, ":3306", "TCP address to listen on")
	flags.String(metricsAddrFlag, ":2112", "address serving Prometheus metrics, empty to disable")
	flags.String(baseDirFlag, "", "directory of the metadata repository (memory if empty)")
	flags.String(gitURLFlag, "", "git URL the metadata repository is cloned from and pushed to")
	flags.String(gitTokenFlag, "", "token for the metadata remote")
	flags.String(duckDBPathFlag, "", "DuckDB database file (in-memory if empty)")
	flags.Int64(defaultLimitFlag, executor.DefaultLimit, "row ceiling for queries that do not set one")
	flags.String(logFormatFlag, "text", "log format: text or json")
	flags.String(logLevelFlag, "info", "log level: none, debug, info, warn or error")
	flags.String(jwtSecretFlag, "", "HS256 secret; enables AUTH JWT when set")
	flags.String(issuerFlag, "", "expected JWT issuer")
	flags.String(audienceFlag, "", "expected JWT audience")
	flags.String(s3BucketFlag, "", "bucket holding project tables as Parquet files")
	flags.String(s3PrefixFlag, "", "key prefix inside the bucket")
	flags.String(s3RegionFlag, "", "bucket region")
	flags.String(s3EndpointFlag, "", "S3-compatible endpoint")
	flags.String(s3AccessKeyFlag, "", "static S3 access key (default credential chain if empty)")
	flags.String(s3SecretKeyFlag, "", "static S3 secret key")

	flags.VisitAll(func(flag *pflag.Flag) {
		key, ok := configKeys[flag.Name]
		if !ok {
			key = flag.Name
		}
		mustBindPFlag(key, flag)
	})
}

// mustBindPFlag binds a viper key to a flag and panics if the binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func loadConfig() (Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	config := Config{
		Addr:         viper.GetString(addrFlag),
		MetricsAddr:  viper.GetString(metricsAddrFlag),
		BaseDir:      viper.GetString(baseDirFlag),
		GitURL:       viper.GetString(gitURLFlag),
		GitToken:     viper.GetString(gitTokenFlag),
		DuckDBPath:   viper.GetString(duckDBPathFlag),
		DefaultLimit: viper.GetInt64(defaultLimitFlag),
		LogFormat:    viper.GetString("log.format"),
		LogLevel:     viper.GetString("log.level"),
		Auth: AuthConfig{
			JWTSecret: viper.GetString("auth.jwt-secret"),
			Issuer:    viper.GetString("auth.issuer"),
			Audience:  viper.GetString("auth.audience"),
		},
		S3: db.S3Config{
			Bucket:    viper.GetString("s3.bucket"),
			Prefix:    viper.GetString("s3.prefix"),
			Region:    viper.GetString("s3.region"),
			Endpoint:  viper.GetString("s3.endpoint"),
			AccessKey: viper.GetString("s3.access-key"),
			SecretKey: viper.GetString("s3.secret-key"),
		},
	}
	config.Auth.Enabled = config.Auth.JWTSecret != ""
	return config, nil
}
