package tracking

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/avoskres/satseg/internal/models"
)

// Images encodes each grid as a grayscale PNG and uploads them as run
// artifacts under images/{tag}/step_{step}/. Presentation only: it
// never feeds back into metrics or control flow.
func (c *Client) Images(ctx context.Context, tag string, imgs []models.Grid, step int64) error {
	dir, err := os.MkdirTemp("", "satseg-previews")
	if err != nil {
		return fmt.Errorf("failed to stage previews: %w", err)
	}
	defer os.RemoveAll(dir)

	for i, g := range imgs {
		localPath := filepath.Join(dir, fmt.Sprintf("%02d.png", i))
		if err := writeGrayPNG(localPath, g); err != nil {
			return err
		}
		artifactPath := fmt.Sprintf("images/%s/step_%d/%02d.png", tag, step, i)
		if err := c.uploadArtifact(ctx, localPath, artifactPath); err != nil {
			return fmt.Errorf("failed to upload %s: %w", artifactPath, err)
		}
	}
	return nil
}

func writeGrayPNG(path string, g models.Grid) error {
	img := image.NewGray(image.Rect(0, 0, g.W, g.H))
	for p, v := range g.Pix {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		img.Pix[p] = uint8(v*255 + 0.5)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preview file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	return nil
}

// uploadArtifact resolves the run's artifact root and ships the file to
// local-fs or MLflow Artifacts Service storage.
func (c *Client) uploadArtifact(ctx context.Context, filePath, artifactPath string) error {
	artifactURI, err := c.getArtifactURI(ctx)
	if err != nil {
		return fmt.Errorf("failed to get artifact URI: %w", err)
	}

	switch {
	case strings.HasPrefix(artifactURI, "mlflow-artifacts:/"):
		return c.uploadToMLflowArtifacts(ctx, artifactURI, filePath, artifactPath)
	case strings.HasPrefix(artifactURI, "file://"), strings.HasPrefix(artifactURI, "/"):
		return c.uploadToLocalFS(artifactURI, filePath, artifactPath)
	default:
		return fmt.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

func (c *Client) getArtifactURI(ctx context.Context) (string, error) {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{
		RunId: c.runID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get run: %w", err)
	}
	if resp.Run.Info.ArtifactUri == "" {
		return "", fmt.Errorf("artifact URI not found for run %s", c.runID)
	}
	return resp.Run.Info.ArtifactUri, nil
}

// uploadToMLflowArtifacts PUTs the file to the MLflow Artifacts Service.
func (c *Client) uploadToMLflowArtifacts(ctx context.Context, artifactURI, filePath, artifactPath string) error {
	experimentID, runID, err := splitArtifactURI(artifactURI)
	if err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	baseURL := strings.TrimSuffix(c.config.TrackingURI, "/")
	url := fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s/%s/artifacts/%s",
		baseURL, experimentID, runID, artifactPath)

	req, err := http.NewRequestWithContext(ctx, "PUT", url, file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload to MLflow Artifacts Service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("artifact upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) uploadToLocalFS(artifactURI, filePath, artifactPath string) error {
	root := strings.TrimPrefix(artifactURI, "file://")
	dest := filepath.Join(root, artifactPath)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dest), err)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	return nil
}

// splitArtifactURI extracts experiment and run ids from a
// mlflow-artifacts:/{experiment_id}/{run_id}/artifacts URI.
func splitArtifactURI(artifactURI string) (string, string, error) {
	parts := strings.Split(strings.TrimPrefix(artifactURI, "mlflow-artifacts:"), "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) < 3 {
		return "", "", fmt.Errorf("invalid mlflow-artifacts URI format: %s", artifactURI)
	}
	return parts[0], parts[1], nil
}
