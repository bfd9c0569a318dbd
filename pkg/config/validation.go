package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/pagefs/internal/logger"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Storage.Type == "badger" {
		opts, err := decodeBadgerOptions(cfg.Storage.Badger)
		if err != nil {
			return fmt.Errorf("storage.badger: %w", err)
		}
		if opts.DBPath == "" {
			return fmt.Errorf("storage.badger: db_path is required when storage.type is badger")
		}
	}

	switch cfg.Blobs.Type {
	case "filesystem":
		opts, err := decodeFilesystemOptions(cfg.Blobs.Filesystem)
		if err != nil {
			return fmt.Errorf("blobs.filesystem: %w", err)
		}
		if opts.Path == "" {
			return fmt.Errorf("blobs.filesystem: path is required when blobs.type is filesystem")
		}
	case "s3":
		opts, err := decodeS3Options(cfg.Blobs.S3)
		if err != nil {
			return fmt.Errorf("blobs.s3: %w", err)
		}
		if opts.Bucket == "" {
			return fmt.Errorf("blobs.s3: bucket is required when blobs.type is s3")
		}
		if opts.Region == "" {
			return fmt.Errorf("blobs.s3: region is required when blobs.type is s3")
		}
		if (opts.AccessKeyID == "") != (opts.SecretAccessKey == "") {
			return fmt.Errorf("blobs.s3: access_key_id and secret_access_key must be set together")
		}
	}

	// A throttled upload must still be able to pass one whole chunk
	if bps := cfg.Lifecycle.UploadBytesPerSecond; bps > 0 && bps < uint64(cfg.Lifecycle.ChunkSize) {
		logger.Warn("Config: lifecycle.upload_bytes_per_second (%d) is below chunk_size (%d); bursts will be raised to one chunk",
			bps, cfg.Lifecycle.ChunkSize)
	}

	if cfg.Sweeper.RunTimeout > cfg.Sweeper.Interval {
		return fmt.Errorf("sweeper: run_timeout (%s) must not exceed interval (%s)",
			cfg.Sweeper.RunTimeout, cfg.Sweeper.Interval)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
