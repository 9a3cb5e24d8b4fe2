package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactStore saves enrollment audio artifacts to the local filesystem
// under dated directories.
type ArtifactStore struct {
	outputDir string
}

// NewArtifactStore creates a local artifact store rooted at outputDir.
func NewArtifactStore(outputDir string) *ArtifactStore {
	return &ArtifactStore{outputDir: outputDir}
}

// SaveClip writes one WAV clip plus a metadata JSON and returns the clip path.
func (as *ArtifactStore) SaveClip(userID, enrollmentID string, seq int, wav []byte) (string, error) {
	now := time.Now()
	dateDir := filepath.Join(as.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %v", err)
	}

	baseFilename := fmt.Sprintf("%s_%s_%02d", now.Format("20060102_150405"), sanitizeFilename(enrollmentID), seq)
	wavPath := filepath.Join(dateDir, baseFilename+".wav")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(wavPath, wav, 0644); err != nil {
		return "", fmt.Errorf("failed to save clip: %v", err)
	}

	metadata := map[string]interface{}{
		"user_id":       userID,
		"enrollment_id": enrollmentID,
		"chunk_seq":     seq,
		"created_at":    now,
		"local_path":    wavPath,
	}
	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %v", err)
	}

	return wavPath, nil
}

// sanitizeFilename removes path separators and bounds length.
func sanitizeFilename(name string) string {
	result := filepath.Base(name)
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
