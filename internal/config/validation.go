package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags, then the cross-field rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch cfg.Cache.Type {
	case "sqlite", "badger":
		if cfg.Cache.DataDir == "" {
			return fmt.Errorf("cache: data_dir is required for type %q", cfg.Cache.Type)
		}
	}

	if cfg.Backup.Enabled && cfg.Backup.Vault.Type == "" {
		return fmt.Errorf("backup: enabled but no vault type configured")
	}
	v := cfg.Backup.Vault
	switch v.Type {
	case "filesystem":
		if v.FSVaultRoot == "" {
			return fmt.Errorf("backup.vault: fs_vault_root is required for filesystem vaults")
		}
	case "s3":
		if v.S3Bucket == "" {
			return fmt.Errorf("backup.vault: s3_bucket is required for s3 vaults")
		}
		if (v.S3AccessKeyID == "") != (v.S3SecretAccessKey == "") {
			return fmt.Errorf("backup.vault: s3_access_key_id and s3_secret_access_key must be set together")
		}
	}

	if cfg.Encryption.Type == "age" {
		if cfg.Encryption.PublicKeyPath == "" || cfg.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("encryption: public_key_path and private_key_path are required for age")
		}
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
