package resourcekit

import (
	"fmt"
	"strings"

	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Public directory of the application. The fallback storage is rooted
	// here and relative local base paths resolve against it.
	PublicPath string `env:"RESOURCEKIT_PUBLIC_PATH,default:./public"`

	// Directory (relative to PublicPath) of the storage created when no
	// storage records exist.
	DefaultStorageDir string `env:"RESOURCEKIT_DEFAULT_STORAGE_DIR,default:fileadmin"`

	// Processing folder used when a record does not name one
	ProcessingFolder       string `env:"RESOURCEKIT_PROCESSING_FOLDER,default:_processed_"`
	ProcessingFolderLevels int    `env:"RESOURCEKIT_PROCESSING_FOLDER_LEVELS,default:2"`

	// Upload limits
	MaxUploadSize int64 `env:"RESOURCEKIT_MAX_UPLOAD_SIZE,default:10485760"` // 10MB default

	// Comma-separated deny patterns; empty keeps DefaultDenyPatterns
	FileDenyPatterns string `env:"RESOURCEKIT_FILE_DENY_PATTERNS"`

	// Directory for local processing copies; empty uses os.TempDir
	TempDir string `env:"RESOURCEKIT_TEMP_DIR"`

	// Conflict policy applied by callers that do not choose one
	DefaultConflictPolicy string `env:"RESOURCEKIT_DEFAULT_CONFLICT_POLICY,default:rename"`

	// Keep file names UTF-8 instead of transliterating them to ASCII
	UTF8FileSystem bool `env:"RESOURCEKIT_UTF8_FILESYSTEM,default:true"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when nothing is loaded.
func DefaultConfig() *Config {
	return &Config{
		PublicPath:             "./public",
		DefaultStorageDir:      "fileadmin",
		ProcessingFolder:       "_processed_",
		ProcessingFolderLevels: 2,
		MaxUploadSize:          10 << 20,
		DefaultConflictPolicy:  string(ConflictRename),
		UTF8FileSystem:         true,
	}
}

// Validate checks the configuration for values the storage layer cannot
// work with.
func (c *Config) Validate() error {
	if c.PublicPath == "" {
		return fmt.Errorf("%w: public path is required", ErrInvalidArgument)
	}
	if c.ProcessingFolderLevels < 0 || c.ProcessingFolderLevels > 8 {
		return fmt.Errorf("%w: processing folder levels must be between 0 and 8, got %d", ErrInvalidArgument, c.ProcessingFolderLevels)
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("%w: max upload size must not be negative", ErrInvalidArgument)
	}
	if _, err := ParseConflictPolicy(c.DefaultConflictPolicy); err != nil {
		return err
	}
	return nil
}

// ExtensionPolicy builds the deny list from FileDenyPatterns.
func (c *Config) ExtensionPolicy() (*ExtensionPolicy, error) {
	if strings.TrimSpace(c.FileDenyPatterns) == "" {
		return DefaultExtensionPolicy(), nil
	}
	return NewExtensionPolicy(strings.Split(c.FileDenyPatterns, ",")...)
}
