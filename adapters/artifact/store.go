// Package artifact persists trained models as a directory of versioned JSON
// files tied together by a manifest
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ecosim/domain/catalogue"
	"ecosim/domain/core"
	"ecosim/internal"
	apperrors "ecosim/internal/errors"
	"ecosim/internal/model"
	"ecosim/internal/network"
	"ecosim/internal/transform"
	"ecosim/ports"
)

// Artifact file names
const (
	FileNetwork    = "network.json"
	FileTransforms = "transforms.json"
	FileCatalogue  = "catalogue.json"
	FileManifest   = "manifest.json"
)

// envelope stamps every artifact file with the model version
type envelope struct {
	Version core.ModelVersion `json:"version"`
	Data    json.RawMessage   `json:"data"`
}

// Manifest is written last; a model directory without one is incomplete
type Manifest struct {
	Version   core.ModelVersion    `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Files     map[string]core.Hash `json:"files"` // SHA-256 of each file's bytes
}

// Store implements ports.ModelStorePort over one directory
type Store struct {
	dir    string
	logger *internal.Logger
}

var _ ports.ModelStorePort = (*Store)(nil)

// NewStore creates a store rooted at dir; logger may be nil
func NewStore(dir string, logger *internal.Logger) *Store {
	if logger == nil {
		logger = internal.NewLoggerTo(io.Discard, internal.LogLevelError)
	}
	return &Store{dir: dir, logger: logger.With("Artifacts")}
}

// Dir returns the model directory
func (s *Store) Dir() string {
	return s.dir
}

// Save writes network, transforms and catalogue, then the manifest. Each file
// is written to a temp file and renamed into place.
func (s *Store) Save(ctx context.Context, m *model.Model) error {
	if err := m.Validate(); err != nil {
		return apperrors.WithCode(apperrors.CodeModelMismatch, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.Wrapf(err, "failed to create model directory %s", s.dir)
	}

	pieces := []struct {
		name string
		body interface{}
	}{
		{FileNetwork, m.Network},
		{FileTransforms, m.Registry},
		{FileCatalogue, m.Catalogue},
	}

	manifest := Manifest{Version: m.Version, CreatedAt: m.CreatedAt, Files: make(map[string]core.Hash, len(pieces))}
	for _, p := range pieces {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(p.body)
		if err != nil {
			return apperrors.Wrapf(err, "failed to encode %s", p.name)
		}
		data, err := json.MarshalIndent(envelope{Version: m.Version, Data: body}, "", "  ")
		if err != nil {
			return apperrors.Wrapf(err, "failed to encode %s", p.name)
		}
		if err := s.writeAtomic(p.name, data); err != nil {
			return err
		}
		manifest.Files[p.name] = core.NewHash(data)
		s.logger.Debug("wrote %s (%d bytes)", p.name, len(data))
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, "failed to encode manifest")
	}
	if err := s.writeAtomic(FileManifest, data); err != nil {
		return err
	}
	s.logger.Info("model %s saved to %s", m.Version, s.dir)
	return nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return apperrors.Wrapf(err, "failed to create temp file for %s", name)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "failed to write %s", name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "failed to sync %s", name)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrapf(err, "failed to close %s", name)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return apperrors.Wrapf(err, "failed to move %s into place", name)
	}
	return nil
}

// Load reads the manifest, verifies every file's hash and version, and
// rebuilds the model. Any inconsistency is a MODEL_MISMATCH error.
func (s *Store) Load(ctx context.Context) (*model.Model, error) {
	manifest, err := s.manifest()
	if err != nil {
		return nil, err
	}

	bodies := make(map[string]json.RawMessage, len(manifest.Files))
	for _, name := range []string{FileNetwork, FileTransforms, FileCatalogue} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := s.verified(name, manifest)
		if err != nil {
			return nil, err
		}
		bodies[name] = body
	}

	var net network.Network
	if err := json.Unmarshal(bodies[FileNetwork], &net); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeModelMismatch, fmt.Errorf("%s: %w", FileNetwork, err))
	}
	reg := transform.NewRegistry()
	if err := json.Unmarshal(bodies[FileTransforms], reg); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeModelMismatch, fmt.Errorf("%s: %w", FileTransforms, err))
	}
	var cat catalogue.Catalogue
	if err := json.Unmarshal(bodies[FileCatalogue], &cat); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeModelMismatch, fmt.Errorf("%s: %w", FileCatalogue, err))
	}

	m := &model.Model{
		Version:   manifest.Version,
		CreatedAt: manifest.CreatedAt,
		Catalogue: cat,
		Registry:  reg,
		Network:   &net,
	}
	if err := m.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeModelMismatch, err)
	}
	s.logger.Info("model %s loaded from %s (%d variables)", m.Version, s.dir, len(net.Nodes()))
	return m, nil
}

// Info returns the manifest contents without verifying or decoding the files
func (s *Store) Info(ctx context.Context) (*ports.ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	manifest, err := s.manifest()
	if err != nil {
		return nil, err
	}
	return &ports.ModelInfo{Version: manifest.Version, Files: manifest.Files}, nil
}

func (s *Store) manifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, FileManifest))
	if os.IsNotExist(err) {
		return nil, apperrors.NotFound(fmt.Sprintf("model manifest in %s", s.dir))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, apperrors.ModelMismatch(fmt.Sprintf("manifest is not valid JSON: %v", err))
	}
	if _, err := core.ParseModelVersion(manifest.Version.String()); err != nil {
		return nil, apperrors.ModelMismatch(err.Error())
	}

	var missing []string
	for _, name := range []string{FileNetwork, FileTransforms, FileCatalogue} {
		if _, ok := manifest.Files[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperrors.ModelMismatch(fmt.Sprintf("manifest lists no hash for %v", missing))
	}
	return &manifest, nil
}

// verified returns the body of an artifact file whose hash and version match
// the manifest
func (s *Store) verified(name string, manifest *Manifest) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeModelMismatch, fmt.Errorf("%s: %w", name, err))
	}
	if got := core.NewHash(data); !got.Equals(manifest.Files[name]) {
		return nil, apperrors.ModelMismatch(fmt.Sprintf("%s hash %s does not match manifest %s", name, got, manifest.Files[name]))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.ModelMismatch(fmt.Sprintf("%s is not a valid artifact: %v", name, err))
	}
	if env.Version != manifest.Version {
		return nil, apperrors.ModelMismatch(fmt.Sprintf("%s has version %s, manifest has %s", name, env.Version, manifest.Version))
	}
	return env.Data, nil
}
