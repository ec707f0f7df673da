package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/strata-dw/strata/internal/schema"
)

// FileSystemRepository implements Repository using the local file system.
// It expects a directory structure: root/{schema_name}/v{version}.[yaml|proto]
// YAML files take precedence over protobuf files if both exist.
type FileSystemRepository struct {
	rootDir string
}

// NewFileSystemRepository creates a new file system backed repository.
func NewFileSystemRepository(rootDir string) *FileSystemRepository {
	return &FileSystemRepository{
		rootDir: rootDir,
	}
}

// Create is not supported in read-only file system mode.
// Developers should add .yaml or .proto files directly to the disk.
func (r *FileSystemRepository) Create(ctx context.Context, s *schema.Schema) error {
	ext := ".yaml"
	if s.Format == schema.FormatProtobuf {
		ext = ".proto"
	}
	return fmt.Errorf("create not supported in filesystem mode: please add %s file directly to %s/%s/v%d%s",
		ext, r.rootDir, s.Name, s.Version, ext)
}

// Get retrieves a schema from the file system.
// YAML files take precedence over protobuf files.
// Warns if both formats exist for the same version.
func (r *FileSystemRepository) Get(ctx context.Context, key schema.Key) (*schema.Schema, error) {
	yamlPath := filepath.Join(r.rootDir, key.Name, fmt.Sprintf("v%d.yaml", key.Version))
	protoPath := filepath.Join(r.rootDir, key.Name, fmt.Sprintf("v%d.proto", key.Version))

	// Check which files exist
	yamlExists := fileExists(yamlPath)
	protoExists := fileExists(protoPath)

	// Warn if both exist (format conflict)
	if yamlExists && protoExists {
		slog.Warn("Both .yaml and .proto exist for schema - using .yaml (precedence rule)",
			"name", key.Name, "version", key.Version)
	}

	// Try YAML first
	if yamlExists {
		content, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read YAML schema: %w", err)
		}
		return r.buildSchema(key, content, schema.FormatYaml), nil
	}

	// Fallback to protobuf
	if protoExists {
		content, err := os.ReadFile(protoPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read protobuf schema: %w", err)
		}
		return r.buildSchema(key, content, schema.FormatProtobuf), nil
	}

	return nil, schema.ErrNotFound
}

// buildSchema constructs a schema.Schema object from file content.
func (r *FileSystemRepository) buildSchema(key schema.Key, content []byte, format schema.Format) *schema.Schema {
	return &schema.Schema{
		ID:          fmt.Sprintf("%s-%d", key.Name, key.Version),
		Name:        key.Name,
		Version:     key.Version,
		Format:      format,
		Definition:  content,
		Fingerprint: schema.ComputeFingerprint(content),
		State:       schema.StateActive, // Files on disk are always considered active
		StrictMode:  true,               // Default to strict for file-based schemas
		CreatedAt:   time.Now(),         // Synthetic
	}
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// List scans the directory for schemas matching the criteria.
func (r *FileSystemRepository) List(ctx context.Context, name string) ([]*schema.Schema, error) {
	var result []*schema.Schema

	// If name is provided, we only check that specific directory
	if name != "" {
		nameDir := filepath.Join(r.rootDir, name)
		schemas, err := r.scanNameDir(name, nameDir)
		if err != nil {
			return nil, err
		}
		result = append(result, schemas...)
		return result, nil
	}

	// Otherwise, walk the root directory to find all schema names
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*schema.Schema{}, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			n := entry.Name()
			nameDir := filepath.Join(r.rootDir, n)
			schemas, err := r.scanNameDir(n, nameDir)
			if err != nil {
				return nil, err
			}
			result = append(result, schemas...)
		}
	}

	return result, nil
}

func (r *FileSystemRepository) scanNameDir(name, dirPath string) ([]*schema.Schema, error) {
	var schemas []*schema.Schema
	seenVersions := make(map[int]bool) // Track versions to avoid duplicates

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*schema.Schema{}, nil
		}
		return nil, err
	}

	// Scan for both .yaml and .proto files
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "v") {
			continue
		}

		var version int
		var ext string

		// Check for .yaml extension
		if strings.HasSuffix(entry.Name(), ".yaml") {
			ext = ".yaml"
			versionStr := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), "v"), ext)
			v, err := strconv.Atoi(versionStr)
			if err != nil {
				continue // Skip invalid filenames
			}
			version = v
		} else if strings.HasSuffix(entry.Name(), ".proto") {
			ext = ".proto"
			versionStr := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), "v"), ext)
			v, err := strconv.Atoi(versionStr)
			if err != nil {
				continue // Skip invalid filenames
			}
			version = v
		} else {
			continue // Not a schema file
		}

		// Skip if we've already loaded this version (YAML takes precedence)
		if seenVersions[version] {
			continue
		}

		key := schema.Key{Name: name, Version: version}
		// Reuse Get logic to read file and build object (handles YAML precedence)
		s, err := r.Get(context.Background(), key)
		if err == nil {
			schemas = append(schemas, s)
			seenVersions[version] = true
		}
	}
	return schemas, nil
}

// UpdateState is not supported in read-only mode.
func (r *FileSystemRepository) UpdateState(ctx context.Context, key schema.Key, state schema.State) error {
	return fmt.Errorf("update state not supported in filesystem mode")
}

// Delete is not supported in read-only mode.
func (r *FileSystemRepository) Delete(ctx context.Context, key schema.Key) error {
	return fmt.Errorf("delete not supported in filesystem mode: please remove the file")
}
