package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/service/ml"
)

// Config selects the tracking server and experiment.
type Config struct {
	TrackingURI  string
	ExperimentID string
	Token        string
}

// Client talks MLflow through the Databricks workspace SDK. It carries
// the run id created by StartRun; all logging calls target that run.
type Client struct {
	client *databricks.WorkspaceClient
	config Config
	runID  string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.TrackingURI == "" {
		return nil, fmt.Errorf("tracking URI is required")
	}
	if cfg.ExperimentID == "" {
		return nil, fmt.Errorf("experiment ID is required")
	}

	token := cfg.Token
	if token == "" {
		// Self-hosted MLflow servers ignore authentication; the SDK
		// still requires a token to be present.
		token = "dummy-token-for-regular-mlflow"
	}

	client, err := databricks.NewWorkspaceClient(&databricks.Config{
		Host:  cfg.TrackingURI,
		Token: token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// StartRun creates a run under the configured experiment and remembers
// its id for the rest of the process.
func (c *Client) StartRun(ctx context.Context, name string) error {
	if name == "" {
		name = "run-" + time.Now().Format("2006-01-02-15-04-05")
	}

	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: c.config.ExperimentID,
		RunName:      name,
		StartTime:    time.Now().UnixMilli(),
		Tags: []ml.RunTag{
			{Key: "mlflow.runName", Value: name},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	c.runID = resp.Run.Info.RunId
	return nil
}

// EndRun closes the run with FINISHED or FAILED status.
func (c *Client) EndRun(ctx context.Context, failed bool) error {
	if c.runID == "" {
		return nil
	}

	status := ml.UpdateRunStatusFinished
	if failed {
		status = ml.UpdateRunStatusFailed
	}

	_, err := c.client.Experiments.UpdateRun(ctx, ml.UpdateRun{
		RunId:   c.runID,
		Status:  status,
		EndTime: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	return nil
}

// Scalar logs one metric observation at the given step.
func (c *Client) Scalar(ctx context.Context, tag string, value float64, step int64) error {
	err := c.client.Experiments.LogMetric(ctx, ml.LogMetric{
		RunId:     c.runID,
		Key:       tag,
		Value:     value,
		Timestamp: time.Now().UnixMilli(),
		Step:      step,
	})
	if err != nil {
		return fmt.Errorf("failed to log metric %s: %w", tag, err)
	}
	return nil
}
