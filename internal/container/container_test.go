package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pet-skin/config"
	"pet-skin/internal/domain/entity"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		ModelDir:         dir,
		ImageSize:        320,
		ROIMinSize:       64,
		ROIEngine:        config.ROIEngineGo,
		BackboneRuntime:  config.RuntimeONNX,
		InferenceWorkers: 1,
	}
}

func TestNew_MissingModelFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := New(context.Background(), testConfig(dir), zap.NewNop())

	var loadErr *entity.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, filepath.Join(dir, config.BinaryWeightsFile), loadErr.Path)
}

func TestNew_MissingDiseaseBackbone(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{config.BinaryWeightsFile, config.BinaryBackboneFile, config.DiseaseWeightsFile} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o600))
	}

	_, err := New(context.Background(), testConfig(dir), zap.NewNop())

	var loadErr *entity.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, filepath.Join(dir, config.DiseaseBackboneFile), loadErr.Path)
}
