// Package storage provides the on-disk artifact layout used by the pipeline
// and an optional publisher for pushing final artifacts to S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Publisher pushes a local artifact to persistent storage.
type Publisher interface {
	// Publish uploads the file at path under key and returns its URL.
	Publish(ctx context.Context, key, path string) (url string, err error)
}

// Layout knows where every artifact of a project lives.
//
//	<output>/<project>/clips/<clip>.mp4              committed clip artifact
//	<output>/<project>/reencoded/<clip>_<fps>fps.mp4  stitch substitute
//	<output>/<project>/<project>_final.mp4            concatenated result
//	<output>/<project>/frames/<clip>_f<n>.jpg         extracted input frames
//	<work>/<project>/<clip>/                          per-pass intermediates
//	<masks>/<project>/<clip>/pass_<n>.json            mask side files
type Layout struct {
	outputDir string
	workDir   string
	masksDir  string
}

// NewLayout creates the layout and its root directories.
func NewLayout(outputDir, workDir, masksDir string) (*Layout, error) {
	for _, dir := range []string{outputDir, workDir, masksDir} {
		if dir == "" {
			return nil, errors.New("storage: layout directories must not be empty")
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("storage: create directory %s: %w", dir, err)
		}
	}
	return &Layout{outputDir: outputDir, workDir: workDir, masksDir: masksDir}, nil
}

// ClipArtifact is the canonical committed artifact of a clip. Its presence is
// what makes a clip "done".
func (l *Layout) ClipArtifact(projectID, clipID string) string {
	return filepath.Join(l.outputDir, projectID, "clips", clipID+".mp4")
}

// Reencoded is the cached stitch substitute for a clip at a frame rate.
func (l *Layout) Reencoded(projectID, clipID string, fps float64) string {
	name := fmt.Sprintf("%s_%sfps.mp4", clipID, strconv.FormatFloat(fps, 'f', -1, 64))
	return filepath.Join(l.outputDir, projectID, "reencoded", name)
}

// Final is the concatenated project artifact.
func (l *Layout) Final(projectID string) string {
	return filepath.Join(l.outputDir, projectID, projectID+"_final.mp4")
}

// Frame is the cached still of frame n of a clip's original input.
func (l *Layout) Frame(projectID, clipID string, n int) string {
	return filepath.Join(l.outputDir, projectID, "frames", fmt.Sprintf("%s_f%d.jpg", clipID, n))
}

// PassDir holds the retrieved per-pass artifacts of a clip.
func (l *Layout) PassDir(projectID, clipID string) string {
	return filepath.Join(l.workDir, projectID, clipID)
}

// MaskFile is the mask side file of a pass.
func (l *Layout) MaskFile(projectID, clipID string, passIndex int) string {
	return filepath.Join(l.masksDir, projectID, clipID, fmt.Sprintf("pass_%d.json", passIndex))
}

// IsDone reports whether the clip has a committed artifact.
func (l *Layout) IsDone(projectID, clipID string) bool {
	return FileExists(l.ClipArtifact(projectID, clipID))
}

// Reset deletes every generated video of a project: clip artifacts, stitch
// substitutes, the final artifact with its manifest and the per-pass
// intermediates. Masks and extracted frames are kept. It returns the number
// of files removed.
func (l *Layout) Reset(projectID string) (int, error) {
	removed := 0
	for _, root := range []string{filepath.Join(l.outputDir, projectID), filepath.Join(l.workDir, projectID)} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !generated(d.Name()) {
				return nil
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			removed++
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("storage: reset project %s: %w", projectID, err)
		}
	}
	return removed, nil
}

func generated(name string) bool {
	return strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, ".manifest.json")
}

// FileExists reports whether path is an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
